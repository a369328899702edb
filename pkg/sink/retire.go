package sink

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/openedx/event-sink-clickhouse/pkg/errors"
	"github.com/openedx/event-sink-clickhouse/pkg/logger"
	"github.com/openedx/event-sink-clickhouse/pkg/models"
	"github.com/openedx/event-sink-clickhouse/pkg/observability"
	"github.com/openedx/event-sink-clickhouse/pkg/repository"
	"github.com/openedx/event-sink-clickhouse/pkg/serializer"
)

// RetirementSink removes the rows of retired users from the PII tables.
type RetirementSink struct {
	transport Transport
	records   repository.RecordStore
	tables    []string
	logger    *zap.Logger
}

// NewRetirementSink creates a sink deleting from tables
func NewRetirementSink(transport Transport, records repository.RecordStore, tables []string, log *zap.Logger) *RetirementSink {
	if log == nil {
		log = logger.Get()
	}
	return &RetirementSink{
		transport: transport,
		records:   records,
		tables:    tables,
		logger:    log.With(zap.String("sink", repository.KindAuthUser)),
	}
}

// Tables returns the tables rows are deleted from
func (r *RetirementSink) Tables() []string { return r.tables }

// Dump retires the user id. A user missing upstream is still retired, since
// only the id is needed.
func (r *RetirementSink) Dump(ctx context.Context, id string) error {
	record, err := r.records.Get(ctx, repository.KindAuthUser, id)
	if errors.IsType(err, errors.ErrorTypeNotFound) {
		userID, perr := strconv.ParseInt(id, 10, 64)
		if perr != nil {
			return errors.Wrap(perr, errors.ErrorTypeValidation, fmt.Sprintf("invalid user id %q", id))
		}
		record, err = &models.User{ID: userID}, nil
	}
	if err != nil {
		return err
	}
	return r.Retire(ctx, []models.Record{record})
}

// Retire deletes the rows of users from every PII table. Deleting users that
// have no rows is not an error.
func (r *RetirementSink) Retire(ctx context.Context, users []models.Record) (err error) {
	ids, err := UserIDs(users)
	if err != nil || len(ids) == 0 {
		return err
	}

	ctx, span := observability.StartSpan(ctx, "sink.retire", attribute.Int("users", len(ids)))
	defer func() { observability.EndSpan(span, err) }()

	for _, table := range r.tables {
		r.logger.Info("Deleting retired users from ClickHouse", zap.String("table", table), zap.Strings("user_ids", ids))
		if err := r.transport.DeleteWhereIn(ctx, table, "user_id", ids); err != nil {
			r.logger.Error("error trying to retire users in "+table, zap.Error(err))
			return err
		}
	}
	return nil
}

// UserIDs serializes users to their ids, without duplicates and sorted as
// strings so the delete statement is stable.
func UserIDs(users []models.Record) ([]string, error) {
	seen := make(map[string]bool, len(users))
	ids := make([]string, 0, len(users))
	for _, u := range users {
		row, err := serializer.UserRetirement(u, serializer.SyncBatch{})
		if err != nil {
			return nil, err
		}
		v, _ := row.Get("user_id")
		id := fmt.Sprint(v)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
