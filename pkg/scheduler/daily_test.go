package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextRunLaterToday(t *testing.T) {
	now := time.Date(2024, 3, 12, 9, 30, 0, 0, time.UTC)
	next := nextRun(now, 18, 0)
	assert.Equal(t, time.Date(2024, 3, 12, 18, 0, 0, 0, time.UTC), next)
}

func TestNextRunRollsToTomorrow(t *testing.T) {
	now := time.Date(2024, 3, 12, 18, 0, 0, 0, time.UTC)
	next := nextRun(now, 18, 0)
	assert.Equal(t, time.Date(2024, 3, 13, 18, 0, 0, 0, time.UTC), next)

	now = time.Date(2024, 3, 12, 22, 15, 0, 0, time.UTC)
	next = nextRun(now, 18, 0)
	assert.Equal(t, time.Date(2024, 3, 13, 18, 0, 0, 0, time.UTC), next)
}
