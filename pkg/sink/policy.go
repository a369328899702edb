package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/openedx/event-sink-clickhouse/pkg/clickhouse"
	"github.com/openedx/event-sink-clickhouse/pkg/repository"
)

// Reasons reported by Policy.ShouldDump
const (
	ReasonForced         = "forced"
	ReasonNotPresent     = "not present remotely"
	ReasonNoModified     = "no modification timestamp available"
	ReasonNotIncremental = "no staleness tracking"
)

// Policy decides whether a record changed since its last export.
type Policy struct {
	desc      Descriptor
	transport Transport
	records   repository.RecordStore
}

// NewPolicy creates the policy of desc
func NewPolicy(desc Descriptor, transport Transport, records repository.RecordStore) *Policy {
	return &Policy{desc: desc, transport: transport, records: records}
}

// ShouldDump reports whether the record key needs to be exported and why.
// A record exported before but carrying no modification time is never
// exported again, otherwise it would be re-sent on every run.
func (p *Policy) ShouldDump(ctx context.Context, key string, force bool) (bool, string, error) {
	if force {
		return true, ReasonForced, nil
	}
	if !p.desc.Incremental {
		return true, ReasonNotIncremental, nil
	}

	lastDumped, ok, err := p.transport.LastDumpedTimestamp(ctx, p.desc.Table, p.desc.TimestampField, p.desc.UniqueKey, key)
	if err != nil {
		return false, "", err
	}
	if !ok {
		return true, ReasonNotPresent, nil
	}

	modified, ok, err := p.records.LastModified(ctx, p.desc.Kind, key)
	if err != nil {
		return false, "", err
	}
	if !ok {
		return false, ReasonNoModified, nil
	}

	lastDumped = lastDumped.UTC().Truncate(time.Microsecond)
	modified = modified.UTC().Truncate(time.Microsecond)
	if modified.After(lastDumped) {
		return true, fmt.Sprintf("modified since last dump: last dumped %s < last modified %s",
			clickhouse.FormatTimestamp(lastDumped), clickhouse.FormatTimestamp(modified)), nil
	}
	return false, fmt.Sprintf("not modified since last dump: last dumped %s >= last modified %s",
		clickhouse.FormatTimestamp(lastDumped), clickhouse.FormatTimestamp(modified)), nil
}
