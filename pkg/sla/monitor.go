// Package sla periodically reports instance steps that passed their deadline.
package sla

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule checks every minute.
const DefaultSchedule = "* * * * *"

var ErrScheduleRequired = errors.New("sla check schedule is required")

// Sweeper notifies overdue steps and returns how many it notified.
type Sweeper interface {
	SweepOverdue(ctx context.Context, limit int) (int, error)
}

// Monitor runs a Sweeper on a cron schedule. Overlapping runs are skipped.
type Monitor struct {
	schedule string
	batch    int
	timeout  time.Duration
	sweeper  Sweeper
	logger   *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewMonitor validates the standard five-field cron expression.
func NewMonitor(schedule string, sweeper Sweeper, logger *slog.Logger) (*Monitor, error) {
	if schedule == "" {
		return nil, ErrScheduleRequired
	}

	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	return &Monitor{
		schedule: schedule,
		timeout:  30 * time.Second,
		sweeper:  sweeper,
		logger:   logger.With("module", "sla_monitor", "schedule", schedule),
	}, nil
}

// WithBatch caps how many steps one run notifies; zero keeps the sweeper default.
func (m *Monitor) WithBatch(batch int) *Monitor {
	m.batch = batch

	return m
}

func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cron != nil {
		return nil
	}

	m.logger.InfoContext(ctx, "Starting SLA monitor")

	m.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := m.cron.AddFunc(m.schedule, func() { m.Run(context.WithoutCancel(ctx)) })
	if err != nil {
		m.cron = nil

		return fmt.Errorf("failed to add sla cron job: %w", err)
	}

	m.cron.Start()

	return nil
}

// Run performs one sweep and logs its outcome.
func (m *Monitor) Run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	notified, err := m.sweeper.SweepOverdue(ctx, m.batch)
	if err != nil {
		m.logger.ErrorContext(ctx, "SLA sweep failed", "error", err)

		return
	}

	m.logger.DebugContext(ctx, "SLA sweep finished", "notified", notified)
}

// Stop waits for a running sweep to finish or ctx to expire.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cron == nil {
		return nil
	}

	m.logger.InfoContext(ctx, "Stopping SLA monitor")

	done := m.cron.Stop()
	m.cron = nil

	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
