package clickhouse

import (
	"strings"
	"time"

	"github.com/openedx/event-sink-clickhouse/pkg/errors"
)

// TimestampLayout is the canonical rendering of timestamps sent to and read from
// ClickHouse, e.g. 2023-05-03 15:47:39.331024+00:00.
const TimestampLayout = "2006-01-02 15:04:05.000000-07:00"

var parseLayouts = []string{
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// FormatTimestamp renders t in UTC with microsecond precision
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts the renderings ClickHouse and upstream stores produce and
// normalizes them to UTC truncated to microseconds. Values without a zone are UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return NormalizeTimestamp(t), nil
		}
	}
	return time.Time{}, errors.Newf(errors.ErrorTypeData, "unrecognized timestamp %q", s)
}

// NormalizeTimestamp converts t to UTC at microsecond precision so that values
// read back from ClickHouse compare equal to the ones written.
func NormalizeTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
