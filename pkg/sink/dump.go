package sink

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/openedx/event-sink-clickhouse/pkg/errors"
	"github.com/openedx/event-sink-clickhouse/pkg/metrics"
	"github.com/openedx/event-sink-clickhouse/pkg/models"
	"github.com/openedx/event-sink-clickhouse/pkg/observability"
	"github.com/openedx/event-sink-clickhouse/pkg/repository"
)

// DefaultBatchSize is used when Options.BatchSize is not set
const DefaultBatchSize = 10000

// Option validation errors, returned before any record is read
var (
	ErrInvalidLimit = errors.New(errors.ErrorTypeValidation,
		"'limit' must be greater than 0!")
	ErrLimitWithForce = errors.New(errors.ErrorTypeValidation,
		"The 'limit' option cannot be used with 'force' as running the command repeatedly will result in the same objects being dumped every time.")
)

// Options select the records of a bulk dump.
type Options struct {
	// StartPK skips records whose key is not greater than it
	StartPK string
	// IDs restricts the dump to these keys
	IDs []string
	// SkipIDs are never dumped, even when listed in IDs
	SkipIDs []string
	// Force dumps every candidate without consulting the policy
	Force bool
	// Limit stops the dump once this many records were marked for export; zero means no limit
	Limit int
	// BatchSize is the number of records sent per insert
	BatchSize int
	// SleepTime is the pause after each full batch
	SleepTime time.Duration
}

// Validate rejects option combinations that cannot run
func (o Options) Validate() error {
	if o.Limit < 0 {
		return ErrInvalidLimit
	}
	if o.Limit > 0 && o.Force {
		return ErrLimitWithForce
	}
	if o.BatchSize < 0 {
		return errors.Newf(errors.ErrorTypeValidation, "'batch_size' must be greater than 0, got %d", o.BatchSize)
	}
	if o.SleepTime < 0 {
		return errors.New(errors.ErrorTypeValidation, "'sleep_time' cannot be negative")
	}
	return nil
}

// Skipped is a record the policy decided not to export.
type Skipped struct {
	Key    string
	Reason string
}

// Result reports the outcome of a bulk dump.
type Result struct {
	Submitted []string
	Skipped   []Skipped
}

// DumpTargetRecords walks the records of the sink in primary key order and
// exports the stale ones in batches. Each full batch is sent as soon as it
// fills, under its own SyncBatch. The first send error aborts the walk; batches
// sent before it stay in ClickHouse.
func (s *Sink) DumpTargetRecords(ctx context.Context, opts Options) (result *Result, err error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	batchSize := opts.BatchSize
	if batchSize == 0 {
		batchSize = DefaultBatchSize
	}

	ctx, span := observability.StartSpan(ctx, "sink.dump_target_records",
		attribute.String("sink", s.desc.Kind),
		attribute.Bool("force", opts.Force),
		attribute.Int("limit", opts.Limit),
	)
	defer func() { observability.EndSpan(span, err) }()

	result = &Result{}
	pending := make([]models.Record, 0, batchSize)
	marked := 0
	after := opts.StartPK

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := s.DumpMany(ctx, pending); err != nil {
			return err
		}
		s.logger.Info("Last ID", zap.String("key", pending[len(pending)-1].PrimaryKey()))
		pending = pending[:0]
		return nil
	}

walk:
	for {
		page, err := s.repo.Page(ctx, s.desc.Kind, repository.PageQuery{
			AfterPK: after,
			IDs:     opts.IDs,
			SkipIDs: opts.SkipIDs,
			Limit:   batchSize,
		})
		if err != nil {
			return result, err
		}

		for _, record := range page {
			key := record.PrimaryKey()
			dump, reason, err := s.policy.ShouldDump(ctx, key, opts.Force)
			if err != nil {
				return result, err
			}
			if !dump {
				result.Skipped = append(result.Skipped, Skipped{Key: key, Reason: reason})
				metrics.RecordsSkipped.WithLabelValues(s.desc.Kind).Inc()
				s.logger.Info("Skipping object", zap.String("key", key), zap.String("reason", reason))
				continue
			}

			result.Submitted = append(result.Submitted, key)
			metrics.RecordsSubmitted.WithLabelValues(s.desc.Kind).Inc()
			pending = append(pending, record)
			marked++
			s.repo.ClearCaches()

			if len(pending) == batchSize {
				if err := flush(); err != nil {
					return result, err
				}
				if err := sleepContext(ctx, opts.SleepTime); err != nil {
					return result, err
				}
			}
			if opts.Limit > 0 && marked == opts.Limit {
				s.logger.Info("Limit of eligible objects has been reached, quitting", zap.Int("limit", opts.Limit))
				break walk
			}
		}

		if len(page) < batchSize {
			break
		}
		after = page[len(page)-1].PrimaryKey()
	}

	if err := flush(); err != nil {
		return result, err
	}
	s.logger.Info("Dumped objects to ClickHouse",
		zap.Int("submitted", len(result.Submitted)),
		zap.Int("skipped", len(result.Skipped)))
	return result, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
