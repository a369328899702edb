// Package serializer turns upstream records into the ordered rows written to
// ClickHouse tables. Every row ends with the dump_id and time_last_dumped
// columns of the SyncBatch it belongs to.
package serializer

import (
	"time"

	"github.com/google/uuid"

	"github.com/openedx/event-sink-clickhouse/pkg/models"
)

// Batch column names
const (
	DumpIDColumn         = "dump_id"
	TimeLastDumpedColumn = "time_last_dumped"
)

// SyncBatch identifies one dump operation. Every row written by the same dump,
// including rows of nested sinks, carries the same batch.
type SyncBatch struct {
	ID        uuid.UUID
	Timestamp time.Time
}

// NewSyncBatch creates a batch stamped with now, kept at the microsecond
// precision ClickHouse stores.
func NewSyncBatch(now time.Time) SyncBatch {
	return SyncBatch{
		ID:        uuid.New(),
		Timestamp: now.UTC().Truncate(time.Microsecond),
	}
}

// Apply appends the batch columns to row
func (b SyncBatch) Apply(row *models.Row) *models.Row {
	return row.
		Add(DumpIDColumn, b.ID.String()).
		Add(TimeLastDumpedColumn, b.Timestamp)
}
