package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openedx/event-sink-clickhouse/pkg/errors"
)

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

func TestWorkerStopsWithContext(t *testing.T) {
	cfg, store, transport := taskFixture(t)
	cfg.Observability.MetricsAddr = "127.0.0.1:0"
	cfg.Scheduler.Enabled = true
	cfg.Scheduler.Interval = time.Hour

	w, err := New(cfg, NewTasks(cfg, store, transport, WithTasksLogger(zap.NewNop())), zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, w.runners, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.NoError(t, w.Run(ctx))
}

func TestWorkerFailureCancelsOthers(t *testing.T) {
	w := &Worker{runners: map[string]Runner{}, logger: zap.NewNop()}
	stopped := make(chan struct{})
	w.Add("waiter", runnerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		close(stopped)
		return nil
	}))
	w.Add("broken", runnerFunc(func(context.Context) error {
		return errors.New(errors.ErrorTypeConnection, "kafka unreachable")
	}))

	err := w.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	<-stopped
}

func TestSweeperRunsOnSchedule(t *testing.T) {
	runs := make(chan struct{}, 4)
	s := NewSweeper(20*time.Millisecond, func(context.Context) error {
		runs <- struct{}{}
		return nil
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-runs:
	case <-time.After(5 * time.Second):
		t.Fatal("sweep never ran")
	}
	cancel()
	assert.NoError(t, <-done)
}
