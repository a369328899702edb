package clickhouse

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openedx/event-sink-clickhouse/pkg/models"
)

func TestEncodeCSVQuoting(t *testing.T) {
	ts := time.Date(2023, 5, 3, 15, 47, 39, 331024000, time.UTC)
	id := uuid.MustParse("0b0b36f6-95a1-4e2f-9fb8-0b7b7b0f8c2a")
	var nilTime *time.Time
	year := 1990

	row := models.NewRow(10).
		Add("name", `Ada "the" Countess`).
		Add("numeric_string", "12345").
		Add("int", 7).
		Add("int64", int64(-3)).
		Add("float", 0.5).
		Add("bool", true).
		Add("nil", nil).
		Add("time", ts).
		Add("nil_time", nilTime).
		Add("year", &year).
		Add("uuid", id)

	got := string(EncodeCSV([]*models.Row{row}))
	want := `"Ada ""the"" Countess","12345",7,-3,0.5,True,"","2023-05-03 15:47:39.331024+00:00","",1990,"0b0b36f6-95a1-4e2f-9fb8-0b7b7b0f8c2a"` + "\n"
	assert.Equal(t, want, got)
}

func TestEncodeCSVReadsBack(t *testing.T) {
	blob := `{"course":"DemoX","run":"Demo","block_type":"chapter","graded":0,"completion_mode":"aggregator"}`
	rows := []*models.Row{
		models.NewRow(6).
			Add("display_name", "Intro, part 1").
			Add("bio", "line one\nline two").
			Add("order", 1).
			Add("ratio", 0.25).
			Add("self_paced", true).
			Add("xblock_data_json", blob),
		models.NewRow(6).
			Add("display_name", `Quote "here"`).
			Add("bio", "").
			Add("order", 2).
			Add("ratio", -1.5).
			Add("self_paced", false).
			Add("xblock_data_json", `{}`),
	}

	records, err := csv.NewReader(bytes.NewReader(EncodeCSV(rows))).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Intro, part 1", "line one\nline two", "1", "0.25", "True", blob},
		{`Quote "here"`, "", "2", "-1.5", "False", "{}"},
	}, records)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(records[0][5]), &decoded))
	assert.Equal(t, "chapter", decoded["block_type"])
	assert.Equal(t, "aggregator", decoded["completion_mode"])

	ratio, err := strconv.ParseFloat(records[0][3], 64)
	require.NoError(t, err)
	assert.Equal(t, 0.25, ratio)
	selfPaced, err := strconv.ParseBool(records[1][4])
	require.NoError(t, err)
	assert.False(t, selfPaced)
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2023, 5, 3, 15, 47, 39, 331024000, time.UTC)
	inputs := []string{
		"2023-05-03 15:47:39.331024+00:00",
		"2023-05-03 15:47:39.331024",
		"2023-05-03T15:47:39.331024Z",
		"2023-05-03T17:47:39.331024+02:00",
		"2023-05-03 15:47:39.331024789",
	}
	for _, in := range inputs {
		got, err := ParseTimestamp(in)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), "%s parsed as %s", in, got)
		assert.Equal(t, time.UTC, got.Location())
	}

	_, err := ParseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestFormatTimestampRoundTrip(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 6000, time.FixedZone("x", 3600))
	s := FormatTimestamp(ts)
	assert.Equal(t, "2024-01-02 02:04:05.000006+00:00", s)

	back, err := ParseTimestamp(s)
	require.NoError(t, err)
	assert.True(t, ts.Equal(back))
}
