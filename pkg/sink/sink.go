// Package sink exports upstream records to ClickHouse.
//
// A Sink pairs a Descriptor (table, unique key, serializer) with a Transport
// and a repository. It decides which records are stale through its Policy,
// serializes them with one SyncBatch per send and fans out to nested sinks
// that write dependent tables under the same batch.
package sink

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/openedx/event-sink-clickhouse/pkg/errors"
	"github.com/openedx/event-sink-clickhouse/pkg/logger"
	"github.com/openedx/event-sink-clickhouse/pkg/metrics"
	"github.com/openedx/event-sink-clickhouse/pkg/models"
	"github.com/openedx/event-sink-clickhouse/pkg/observability"
	"github.com/openedx/event-sink-clickhouse/pkg/repository"
	"github.com/openedx/event-sink-clickhouse/pkg/serializer"
)

// Transport is the part of the ClickHouse client used by sinks.
type Transport interface {
	Insert(ctx context.Context, table string, rows []*models.Row) error
	LastDumpedTimestamp(ctx context.Context, table, timestampField, uniqueKey, value string) (time.Time, bool, error)
	DeleteWhereIn(ctx context.Context, table, column string, values []string) error
}

// Descriptor describes how one record kind is exported.
type Descriptor struct {
	// Name is used in log lines, e.g. "Course Overview"
	Name string
	// Kind is the record kind read from the repository
	Kind string
	// Table is the destination table
	Table string
	// UniqueKey is the column identifying a record remotely
	UniqueKey string
	// TimestampField is the column holding the export time
	TimestampField string
	// Incremental enables the staleness check; other kinds are always dumped
	Incremental bool
	Serialize   serializer.Func
}

// NestedSink writes rows that depend on a record already sent by its parent.
type NestedSink interface {
	Name() string
	DumpRelated(ctx context.Context, parent models.Record, batch serializer.SyncBatch) error
}

// Dumper exports one record by key.
type Dumper interface {
	Dump(ctx context.Context, id string) error
}

// Sink exports the records of one kind.
type Sink struct {
	desc      Descriptor
	transport Transport
	repo      repository.Repository
	policy    *Policy
	nested    []NestedSink
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Sink
type Option func(*Sink)

// WithNested registers sinks run after each successful send
func WithNested(nested ...NestedSink) Option {
	return func(s *Sink) { s.nested = append(s.nested, nested...) }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Sink) { s.logger = l }
}

// WithClock replaces time.Now when stamping batches
func WithClock(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

// New creates a sink for desc.
func New(desc Descriptor, transport Transport, repo repository.Repository, opts ...Option) *Sink {
	s := &Sink{
		desc:      desc,
		transport: transport,
		repo:      repo,
		logger:    logger.Get(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("sink", desc.Kind))
	s.policy = NewPolicy(desc, transport, repo)
	return s
}

// Descriptor returns the descriptor of the sink
func (s *Sink) Descriptor() Descriptor { return s.desc }

// Policy returns the staleness policy of the sink
func (s *Sink) Policy() *Policy { return s.policy }

// Dump reads the record id and exports it with its nested rows.
func (s *Sink) Dump(ctx context.Context, id string) error {
	record, err := s.repo.Get(ctx, s.desc.Kind, id)
	if err != nil {
		return err
	}
	return s.DumpMany(ctx, []models.Record{record})
}

// DumpMany exports records in one insert under a new SyncBatch, then runs the
// nested sinks for every record with that same batch.
func (s *Sink) DumpMany(ctx context.Context, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	batch := serializer.NewSyncBatch(s.now())
	return s.send(ctx, records, batch)
}

func (s *Sink) send(ctx context.Context, records []models.Record, batch serializer.SyncBatch) (err error) {
	ctx, span := observability.StartSpan(ctx, "sink.dump",
		attribute.String("sink", s.desc.Kind),
		attribute.String("dump_id", batch.ID.String()),
		attribute.Int("records", len(records)),
	)
	defer func() { observability.EndSpan(span, err) }()

	log := s.logger.With(zap.String("dump_id", batch.ID.String()))
	key := describeKeys(records)

	rows, err := serializer.Many(records, batch, s.desc.Serialize)
	if err != nil {
		metrics.DumpFailures.WithLabelValues(s.desc.Kind).Inc()
		return err
	}

	log.Info("Now dumping to ClickHouse", zap.String("name", s.desc.Name), zap.String("key", key), zap.Int("rows", len(rows)))
	if err := s.transport.Insert(ctx, s.desc.Table, rows); err != nil {
		metrics.DumpFailures.WithLabelValues(s.desc.Kind).Inc()
		log.Error("error trying to dump "+s.desc.Name+" "+key+" to ClickHouse", zap.Error(err))
		return errors.Wrap(err, errors.TypeOf(err), "dump "+s.desc.Kind+" "+key)
	}
	log.Info("Completed dumping to ClickHouse", zap.String("name", s.desc.Name), zap.String("key", key))

	for _, record := range records {
		for _, nested := range s.nested {
			if err := nested.DumpRelated(ctx, record, batch); err != nil {
				metrics.DumpFailures.WithLabelValues(nested.Name()).Inc()
				log.Error("error trying to dump "+nested.Name()+" "+record.PrimaryKey()+" to ClickHouse", zap.Error(err))
				return err
			}
		}
	}
	return nil
}

func describeKeys(records []models.Record) string {
	if len(records) == 1 {
		return records[0].PrimaryKey()
	}
	return records[0].PrimaryKey() + ".." + records[len(records)-1].PrimaryKey()
}
