package clickhouse

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/openedx/event-sink-clickhouse/pkg/models"
)

// EncodeCSV renders rows positionally, one line per row. Numbers are written bare
// and every other value is quoted with embedded quotes doubled, so that strings
// which look numeric keep their type on the ClickHouse side.
func EncodeCSV(rows []*models.Row) []byte {
	var buf bytes.Buffer
	for _, row := range rows {
		for i, v := range row.Values() {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeField(&buf, v)
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func writeField(buf *bytes.Buffer, v interface{}) {
	switch val := v.(type) {
	case nil:
		writeQuoted(buf, "")
	case int:
		buf.WriteString(strconv.Itoa(val))
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		fmt.Fprintf(buf, "%d", val)
	case float32:
		buf.WriteString(strconv.FormatFloat(float64(val), 'f', -1, 32))
	case float64:
		buf.WriteString(strconv.FormatFloat(val, 'f', -1, 64))
	case bool:
		if val {
			buf.WriteString("True")
		} else {
			buf.WriteString("False")
		}
	case *int:
		if val == nil {
			writeQuoted(buf, "")
			return
		}
		writeField(buf, *val)
	case *float64:
		if val == nil {
			writeQuoted(buf, "")
			return
		}
		writeField(buf, *val)
	case time.Time:
		writeQuoted(buf, FormatTimestamp(val))
	case *time.Time:
		if val == nil {
			writeQuoted(buf, "")
			return
		}
		writeQuoted(buf, FormatTimestamp(*val))
	case string:
		writeQuoted(buf, val)
	case fmt.Stringer:
		writeQuoted(buf, val.String())
	default:
		writeQuoted(buf, fmt.Sprint(val))
	}
}

func writeQuoted(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	buf.WriteString(strings.ReplaceAll(s, `"`, `""`))
	buf.WriteByte('"')
}
