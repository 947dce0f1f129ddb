package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DailyConfig schedules a job once per day at a fixed local time.
type DailyConfig struct {
	Hour     int
	Minute   int
	Timezone string
	Logger   *zap.Logger
}

// StartDaily runs fn once per day at the configured wall-clock time until the
// context is cancelled. The loop is a single goroutine and waits for each run
// to finish before arming the next timer, so runs can never overlap.
func StartDaily(ctx context.Context, cfg DailyConfig, fn func(context.Context)) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warn("invalid scheduler timezone, falling back to UTC",
			zap.String("timezone", cfg.Timezone), zap.Error(err))
		loc = time.UTC
	}

	go func() {
		for {
			next := nextRun(time.Now().In(loc), cfg.Hour, cfg.Minute)
			timer := time.NewTimer(time.Until(next))
			logger.Info("daily job scheduled", zap.Time("next_run", next))

			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				start := time.Now()
				fn(ctx)
				logger.Info("daily job finished", zap.Duration("took", time.Since(start)))
			}
		}
	}()
}

// nextRun returns the next wall-clock occurrence of hour:minute after now.
func nextRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
