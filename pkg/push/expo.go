package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/attendly/attendly-api/pkg/config"
)

// Notification is a push payload addressed to one or more device tokens.
type Notification struct {
	To    []string          `json:"to"`
	Sound string            `json:"sound"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Notifier dispatches push notifications.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// ExpoClient posts notifications to the Expo push gateway.
type ExpoClient struct {
	url     string
	client  *http.Client
	enabled bool
	logger  *zap.Logger
}

// NewExpoClient constructs a gateway client from config.
func NewExpoClient(cfg config.PushConfig, logger *zap.Logger) *ExpoClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ExpoClient{
		url:     cfg.URL,
		client:  &http.Client{Timeout: timeout},
		enabled: cfg.Enabled,
		logger:  logger,
	}
}

// Send posts the notification. Disabled clients and empty token lists no-op.
func (c *ExpoClient) Send(ctx context.Context, n Notification) error {
	if !c.enabled || len(n.To) == 0 {
		return nil
	}
	if n.Sound == "" {
		n.Sound = "default"
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post push notification: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("push gateway returned %d", resp.StatusCode)
	}

	c.logger.Debug("push sent", zap.Int("recipients", len(n.To)), zap.String("title", n.Title))
	return nil
}
