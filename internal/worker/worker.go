package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/openedx/event-sink-clickhouse/pkg/config"
)

// Runner is a component of the worker that runs until its context is done.
type Runner interface {
	Run(ctx context.Context) error
}

// Worker runs the consumer, the sweeper and the admin server side by side.
type Worker struct {
	runners map[string]Runner
	logger  *zap.Logger
}

// New assembles the worker components enabled in cfg around tasks.
func New(cfg *config.Config, tasks *Tasks, logger *zap.Logger) (*Worker, error) {
	w := &Worker{runners: make(map[string]Runner), logger: logger.With(zap.String("component", "worker"))}

	if cfg.Observability.MetricsAddr != "" {
		w.runners["admin_server"] = NewServer(cfg.Observability.MetricsAddr, NewRouter(tasks, logger), logger)
	}
	if cfg.Scheduler.Enabled {
		w.runners["sweeper"] = NewSweeper(cfg.Scheduler.Interval, tasks.SweepCourses, logger)
	}
	if cfg.Kafka.Enabled {
		consumer, err := NewConsumer(cfg.Kafka, tasks, logger)
		if err != nil {
			return nil, err
		}
		w.runners["kafka_consumer"] = consumer
	}
	return w, nil
}

// Add registers an extra component
func (w *Worker) Add(name string, r Runner) {
	w.runners[name] = r
}

// Run starts every component and waits for all of them. The first component
// to fail cancels the others.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for name, r := range w.runners {
		wg.Add(1)
		go func(name string, r Runner) {
			defer wg.Done()
			if err := r.Run(ctx); err != nil {
				w.logger.Error("worker component failed", zap.String("name", name), zap.Error(err))
				once.Do(func() {
					firstErr = err
					cancel()
				})
			}
		}(name, r)
	}

	w.logger.Info("worker started", zap.Int("components", len(w.runners)))
	wg.Wait()
	if closer, ok := w.runners["kafka_consumer"].(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			w.logger.Warn("failed to close consumer", zap.Error(err))
		}
	}
	w.logger.Info("worker stopped")
	return firstErr
}
