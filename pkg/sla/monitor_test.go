package sla_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/worktemplate/pkg/sla"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSweeper struct {
	mock.Mock
}

func (m *mockSweeper) SweepOverdue(ctx context.Context, limit int) (int, error) {
	args := m.Called(ctx, limit)

	return args.Int(0), args.Error(1)
}

type countingSweeper struct {
	runs atomic.Int32
}

func (c *countingSweeper) SweepOverdue(context.Context, int) (int, error) {
	c.runs.Add(1)

	return 0, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewMonitor_Schedule(t *testing.T) {
	tests := []struct {
		name      string
		schedule  string
		expectErr bool
	}{
		{name: "every minute", schedule: sla.DefaultSchedule},
		{name: "descriptor", schedule: "@every 5m"},
		{name: "empty", schedule: "", expectErr: true},
		{name: "garbage", schedule: "not a cron", expectErr: true},
		{name: "six fields", schedule: "0 * * * * *", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			monitor, err := sla.NewMonitor(tt.schedule, &countingSweeper{}, discardLogger())
			if tt.expectErr {
				require.Error(t, err)
				assert.Nil(t, monitor)

				return
			}

			require.NoError(t, err)
			assert.NotNil(t, monitor)
		})
	}
}

func TestMonitor_RunPassesBatch(t *testing.T) {
	sweeper := &mockSweeper{}
	sweeper.On("SweepOverdue", mock.Anything, 25).Return(3, nil).Once()

	monitor, err := sla.NewMonitor(sla.DefaultSchedule, sweeper, discardLogger())
	require.NoError(t, err)

	monitor.WithBatch(25).Run(context.Background())

	sweeper.AssertExpectations(t)
}

func TestMonitor_RunSurvivesErrors(t *testing.T) {
	sweeper := &mockSweeper{}
	sweeper.On("SweepOverdue", mock.Anything, 0).Return(0, errors.New("database down")).Twice()

	monitor, err := sla.NewMonitor(sla.DefaultSchedule, sweeper, discardLogger())
	require.NoError(t, err)

	monitor.Run(context.Background())
	monitor.Run(context.Background())

	sweeper.AssertExpectations(t)
}

func TestMonitor_StartAndStop(t *testing.T) {
	sweeper := &countingSweeper{}

	monitor, err := sla.NewMonitor("@every 1s", sweeper, discardLogger())
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, monitor.Start(ctx))
	require.NoError(t, monitor.Start(ctx), "starting twice is a no-op")

	assert.Eventually(t, func() bool { return sweeper.runs.Load() > 0 }, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, monitor.Stop(ctx))
	require.NoError(t, monitor.Stop(ctx), "stopping twice is a no-op")
}
