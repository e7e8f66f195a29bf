// Package scheduler runs the cache refresh on a fixed cadence, with one
// eager refresh at startup so the cache warms without waiting a full interval.
package scheduler

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/yourorg/hornet-cache/internal/model"
)

// Refresher is the orchestrator surface the scheduler drives. Refresh never
// returns a Go error; a failed refresh is a loggable, non-fatal event.
type Refresher interface {
	Refresh(ctx context.Context) *model.RefreshResult
}

// Scheduler owns the single recurring refresh job.
type Scheduler struct {
	refresher       Refresher
	intervalMinutes int
	cronExpr        string

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// New creates a Scheduler firing every intervalMinutes minutes.
func New(refresher Refresher, intervalMinutes int, cronExpr string) *Scheduler {
	return &Scheduler{
		refresher:       refresher,
		intervalMinutes: intervalMinutes,
		cronExpr:        cronExpr,
	}
}

// Start triggers one immediate refresh and arms the recurring timer.
// Calling Start while running is a warning no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		logrus.Warn("Scheduler already running")
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.cronExpr, func() {
		logrus.Info("Scheduled cache refresh triggered")
		if result := s.refresher.Refresh(context.Background()); !result.Success {
			logrus.WithFields(logrus.Fields{
				"error":   result.Error,
				"message": result.Message,
			}).Error("Scheduled cache refresh failed")
		}
	}); err != nil {
		return err
	}

	// Warm the cache as soon as possible after boot. Fire-and-forget:
	// failures are logged by the orchestrator and retried on the next tick.
	logrus.Info("Running initial cache refresh")
	go func() {
		if result := s.refresher.Refresh(context.Background()); !result.Success {
			logrus.WithField("error", result.Error).Error("Initial cache refresh failed")
		}
	}()

	c.Start()

	s.cron = c
	s.running = true
	logrus.WithField("intervalMinutes", s.intervalMinutes).Info("Scheduler started")
	return nil
}

// Stop cancels the recurring timer. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.cron = nil
	s.running = false
	logrus.Info("Scheduler stopped")
}

// Status describes the scheduler for the health endpoint.
type Status struct {
	IsRunning       bool   `json:"isRunning"`
	IntervalMinutes int    `json:"intervalMinutes"`
	CronExpression  string `json:"cronExpression"`
}

// GetStatus reports the current scheduler state.
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		IsRunning:       s.running,
		IntervalMinutes: s.intervalMinutes,
		CronExpression:  s.cronExpr,
	}
}
