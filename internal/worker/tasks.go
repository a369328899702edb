// Package worker runs the long lived side of the event sink: task handlers fed
// by a Kafka consumer, a periodic course sweep and an admin HTTP server.
package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/openedx/event-sink-clickhouse/pkg/clickhouse"
	"github.com/openedx/event-sink-clickhouse/pkg/config"
	"github.com/openedx/event-sink-clickhouse/pkg/errors"
	"github.com/openedx/event-sink-clickhouse/pkg/lock"
	"github.com/openedx/event-sink-clickhouse/pkg/logger"
	"github.com/openedx/event-sink-clickhouse/pkg/metrics"
	"github.com/openedx/event-sink-clickhouse/pkg/repository"
	"github.com/openedx/event-sink-clickhouse/pkg/sink"
)

// Task names used in metrics and messages
const (
	TaskDumpCourse = "dump_course"
	TaskDumpData   = "dump_data"
	TaskSweep      = "sweep_courses"

	statusSuccess = "success"
	statusFailure = "failure"
	statusSkipped = "skipped"
)

// TransportFactory builds a transport for a connection configuration.
type TransportFactory func(cfg config.ClickHouseConfig) (sink.Transport, error)

// Tasks executes dump tasks against the configured ClickHouse.
type Tasks struct {
	cfg          *config.Config
	registry     *sink.Registry
	repo         repository.Repository
	transport    sink.Transport
	newTransport TransportFactory
	locker       lock.Locker
	logger       *zap.Logger
}

// TasksOption configures Tasks
type TasksOption func(*Tasks)

// WithLocker serializes dumps of the same record across workers
func WithLocker(l lock.Locker) TasksOption {
	return func(t *Tasks) { t.locker = l }
}

// WithTransportFactory replaces how transports for connection overrides are built
func WithTransportFactory(f TransportFactory) TasksOption {
	return func(t *Tasks) { t.newTransport = f }
}

// WithTasksLogger sets the logger
func WithTasksLogger(l *zap.Logger) TasksOption {
	return func(t *Tasks) { t.logger = l }
}

// NewTasks creates the task handlers. transport serves every task without
// connection overrides.
func NewTasks(cfg *config.Config, repo repository.Repository, transport sink.Transport, opts ...TasksOption) *Tasks {
	t := &Tasks{
		cfg:       cfg,
		repo:      repo,
		transport: transport,
		locker:    lock.NopLocker{},
		logger:    logger.Get(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.newTransport == nil {
		t.newTransport = func(c config.ClickHouseConfig) (sink.Transport, error) {
			return clickhouse.NewClient(c, clickhouse.WithLogger(t.logger), clickhouse.WithTransport(cfg.Transport))
		}
	}
	t.logger = t.logger.With(zap.String("component", "tasks"))
	t.registry = sink.NewRegistry(cfg, t.logger)
	return t
}

func (t *Tasks) transportFor(overrides *config.Overrides) (sink.Transport, error) {
	if overrides.IsEmpty() {
		return t.transport, nil
	}
	return t.newTransport(t.cfg.ClickHouse.WithOverrides(overrides))
}

// DumpCourse exports a course and every custom course derived from it.
func (t *Tasks) DumpCourse(ctx context.Context, courseKey string, overrides *config.Overrides) (err error) {
	defer func() { err = t.finish(TaskDumpCourse, courseKey, err) }()

	if !t.registry.IsEnabled(repository.KindCourseOverviews) {
		t.logger.Debug("sink disabled", zap.String("kind", repository.KindCourseOverviews))
		return errSkipped
	}
	transport, err := t.transportFor(overrides)
	if err != nil {
		return err
	}
	s, err := t.registry.Sink(repository.KindCourseOverviews, transport, t.repo)
	if err != nil {
		return err
	}

	if err := t.dumpLocked(ctx, s, repository.KindCourseOverviews, courseKey); err != nil {
		return err
	}

	ccxKeys, err := t.repo.CCXCourses(ctx, courseKey)
	if err != nil {
		return err
	}
	for _, key := range ccxKeys {
		if err := t.dumpLocked(ctx, s, repository.KindCourseOverviews, key); err != nil {
			return err
		}
	}
	return nil
}

// DumpData exports one record of kind. Retirement deletes instead.
func (t *Tasks) DumpData(ctx context.Context, kind, objectID string, overrides *config.Overrides) (err error) {
	defer func() { err = t.finish(TaskDumpData, kind+":"+objectID, err) }()

	if !t.registry.IsEnabled(kind) {
		t.logger.Debug("sink disabled", zap.String("kind", kind))
		return errSkipped
	}
	transport, err := t.transportFor(overrides)
	if err != nil {
		return err
	}
	d, err := t.registry.Dumper(kind, transport, t.repo)
	if err != nil {
		return err
	}
	return t.dumpLocked(ctx, d, kind, objectID)
}

// SweepCourses exports every course modified since its last export.
func (t *Tasks) SweepCourses(ctx context.Context) (err error) {
	defer func() { err = t.finish(TaskSweep, "", err) }()

	s, err := t.registry.Sink(repository.KindCourseOverviews, t.transport, t.repo)
	if err != nil {
		return err
	}
	result, err := s.DumpTargetRecords(ctx, sink.Options{
		BatchSize: t.cfg.Sinks.BatchSize,
		SleepTime: t.cfg.Sinks.SleepTime,
	})
	if err != nil {
		return err
	}
	t.logger.Info("course sweep finished",
		zap.Int("submitted", len(result.Submitted)),
		zap.Int("skipped", len(result.Skipped)))
	return nil
}

func (t *Tasks) dumpLocked(ctx context.Context, d sink.Dumper, kind, key string) error {
	release, err := t.locker.Acquire(ctx, kind+":"+key)
	if err != nil {
		return err
	}
	defer func() {
		if err := release(ctx); err != nil {
			t.logger.Warn("failed to release lock", zap.String("kind", kind), zap.String("key", key), zap.Error(err))
		}
	}()
	return d.Dump(ctx, key)
}

// errSkipped marks a task that had nothing to do
var errSkipped = errors.New(errors.ErrorTypeInternal, "skipped")

// finish counts the outcome of a task. Disabled sinks, unmapped models and
// records locked by another worker are no-ops and yield nil.
func (t *Tasks) finish(task, key string, err error) error {
	status := statusFailure
	switch {
	case err == nil:
		status = statusSuccess
	case err == errSkipped, errors.Is(err, sink.ErrNoModel):
		status, err = statusSkipped, nil
	case errors.IsType(err, errors.ErrorTypeLocked):
		t.logger.Info("record is being dumped by another worker", zap.String("task", task), zap.String("key", key))
		status, err = statusSkipped, nil
	default:
		t.logger.Error("task failed", zap.String("task", task), zap.String("key", key), zap.Error(err))
	}
	metrics.WorkerTasks.WithLabelValues(task, status).Inc()
	return err
}
