package sink

import (
	"context"
	"sync"
	"time"

	"github.com/openedx/event-sink-clickhouse/pkg/errors"
	"github.com/openedx/event-sink-clickhouse/pkg/models"
	"github.com/openedx/event-sink-clickhouse/pkg/repository/memory"
)

type insertCall struct {
	table string
	rows  []*models.Row
}

type deleteCall struct {
	table  string
	column string
	values []string
}

// fakeTransport records calls and answers lookups from lastDumped.
type fakeTransport struct {
	mu         sync.Mutex
	inserts    []insertCall
	deletes    []deleteCall
	lookups    int
	lastDumped map[string]time.Time
	// failInsert makes the n-th insert, counted from 1, fail
	failInsert int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{lastDumped: make(map[string]time.Time)}
}

func (f *fakeTransport) Insert(_ context.Context, table string, rows []*models.Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInsert > 0 && len(f.inserts)+1 == f.failInsert {
		f.failInsert = 0
		return errors.New(errors.ErrorTypeQuery, "clickhouse returned 500")
	}
	f.inserts = append(f.inserts, insertCall{table: table, rows: rows})
	return nil
}

func (f *fakeTransport) LastDumpedTimestamp(_ context.Context, table, _, _, value string) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	ts, ok := f.lastDumped[table+"/"+value]
	return ts, ok, nil
}

func (f *fakeTransport) DeleteWhereIn(_ context.Context, table, column string, values []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, deleteCall{table: table, column: column, values: values})
	return nil
}

func (f *fakeTransport) tables() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.inserts))
	for i, c := range f.inserts {
		out[i] = c.table
	}
	return out
}

func column(row *models.Row, name string) interface{} {
	v, _ := row.Get(name)
	return v
}

var fixedNow = time.Date(2024, 5, 3, 15, 47, 39, 331024000, time.UTC)

func ts(s string) *time.Time {
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func block(location string, children ...string) *models.Block {
	b := &models.Block{Location: models.MustParseUsageKey(location), DisplayName: location}
	for _, c := range children {
		b.Children = append(b.Children, models.MustParseUsageKey(c))
	}
	return b
}

func loc(blockType, id string) string {
	return "block-v1:edX+DemoX+Demo+type@" + blockType + "+block@" + id
}

const demoCourse = "course-v1:edX+DemoX+Demo"

func demoStore() *memory.Store {
	store := memory.New()
	store.PutBlocks(demoCourse,
		block(loc("course", "course"), loc("chapter", "ch1")),
		block(loc("chapter", "ch1")),
	)
	return store
}
