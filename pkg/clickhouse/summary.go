package clickhouse

import (
	"bytes"
	"strconv"

	"github.com/goccy/go-json"
)

// SummaryHeader is the response header carrying query progress counters.
const SummaryHeader = "X-ClickHouse-Summary"

// Summary is the decoded X-ClickHouse-Summary header. ClickHouse encodes the
// counters as JSON strings, older versions as numbers; both are accepted.
type Summary struct {
	ReadRows     counter `json:"read_rows"`
	ReadBytes    counter `json:"read_bytes"`
	WrittenRows  counter `json:"written_rows"`
	WrittenBytes counter `json:"written_bytes"`
	ResultRows   counter `json:"result_rows"`
}

type counter int64

func (c *counter) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*c = 0
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return err
	}
	*c = counter(n)
	return nil
}

// ParseSummary decodes the header value
func ParseSummary(header string) (*Summary, error) {
	var s Summary
	if err := json.Unmarshal([]byte(header), &s); err != nil {
		return nil, err
	}
	return &s, nil
}
