package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/hornet-cache/internal/model"
)

type countingRefresher struct {
	calls atomic.Int32
}

func (c *countingRefresher) Refresh(ctx context.Context) *model.RefreshResult {
	c.calls.Add(1)
	return &model.RefreshResult{Success: true}
}

func TestStart_TriggersEagerRefresh(t *testing.T) {
	refresher := &countingRefresher{}
	s := New(refresher, 2, "*/2 * * * *")

	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool { return refresher.calls.Load() == 1 },
		time.Second, 5*time.Millisecond,
		"Start must fire one refresh immediately rather than waiting a full interval")
}

func TestStart_IsIdempotent(t *testing.T) {
	refresher := &countingRefresher{}
	s := New(refresher, 2, "*/2 * * * *")

	require.NoError(t, s.Start())
	defer s.Stop()
	require.NoError(t, s.Start(), "A second Start while running is a no-op, not an error")

	// Give the eager refresh time to land; only one should have fired.
	assert.Eventually(t, func() bool { return refresher.calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), refresher.calls.Load(), "Double Start must not double the eager refresh")

	assert.True(t, s.GetStatus().IsRunning)
}

func TestStop_IsIdempotent(t *testing.T) {
	s := New(&countingRefresher{}, 2, "*/2 * * * *")
	require.NoError(t, s.Start())

	s.Stop()
	s.Stop()
	assert.False(t, s.GetStatus().IsRunning)
}

func TestStart_InvalidCronExpression(t *testing.T) {
	s := New(&countingRefresher{}, 2, "not a cron expr")
	assert.Error(t, s.Start())
	assert.False(t, s.GetStatus().IsRunning)
}

func TestGetStatus(t *testing.T) {
	s := New(&countingRefresher{}, 5, "*/5 * * * *")
	status := s.GetStatus()
	assert.False(t, status.IsRunning)
	assert.Equal(t, 5, status.IntervalMinutes)
	assert.Equal(t, "*/5 * * * *", status.CronExpression)
}
