// Package memory is an in-process Repository, used by tests and by tools that
// already hold the records to export.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openedx/event-sink-clickhouse/pkg/errors"
	"github.com/openedx/event-sink-clickhouse/pkg/models"
	"github.com/openedx/event-sink-clickhouse/pkg/repository"
)

// Store keeps records per kind in memory.
type Store struct {
	mu      sync.RWMutex
	records map[string]map[string]models.Record
	blocks  map[string][]*models.Block
	ccx     map[string][]string

	reads       atomic.Int64
	cacheClears atomic.Int64
}

// New returns an empty store
func New() *Store {
	return &Store{
		records: make(map[string]map[string]models.Record),
		blocks:  make(map[string][]*models.Block),
		ccx:     make(map[string][]string),
	}
}

var _ repository.Repository = (*Store)(nil)

// Put adds or replaces records of kind
func (s *Store) Put(kind string, records ...models.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKey, ok := s.records[kind]
	if !ok {
		byKey = make(map[string]models.Record)
		s.records[kind] = byKey
	}
	for _, r := range records {
		byKey[r.PrimaryKey()] = r
	}
}

// PutBlocks sets the structure of a course
func (s *Store) PutBlocks(courseKey string, blocks ...*models.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[courseKey] = blocks
}

// PutCCX registers custom courses derived from courseKey
func (s *Store) PutCCX(courseKey string, ccxKeys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ccx[courseKey] = append(s.ccx[courseKey], ccxKeys...)
}

// Reads returns how many read calls the store served
func (s *Store) Reads() int64 { return s.reads.Load() }

// CacheClears returns how many times ClearCaches was called
func (s *Store) CacheClears() int64 { return s.cacheClears.Load() }

// Page implements repository.RecordStore
func (s *Store) Page(_ context.Context, kind string, q repository.PageQuery) ([]models.Record, error) {
	s.reads.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()

	include := toSet(q.IDs)
	skip := toSet(q.SkipIDs)

	var out []models.Record
	for key, r := range s.records[kind] {
		if q.AfterPK != "" && repository.ComparePK(key, q.AfterPK) <= 0 {
			continue
		}
		if len(include) > 0 && !include[key] {
			continue
		}
		if skip[key] {
			continue
		}
		out = append(out, r)
	}
	repository.SortRecords(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Get implements repository.RecordStore
func (s *Store) Get(_ context.Context, kind, id string) (models.Record, error) {
	s.reads.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[kind][id]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "%s %s not found", kind, id)
	}
	return r, nil
}

// LastModified implements repository.RecordStore
func (s *Store) LastModified(ctx context.Context, kind, id string) (time.Time, bool, error) {
	r, err := s.Get(ctx, kind, id)
	if err != nil {
		return time.Time{}, false, err
	}
	var modified *time.Time
	switch rec := r.(type) {
	case *models.CourseOverview:
		modified = rec.Modified
	case *models.ExternalID:
		modified = rec.Modified
	}
	if modified == nil {
		return time.Time{}, false, nil
	}
	return *modified, true, nil
}

// CCXCourses implements repository.RecordStore
func (s *Store) CCXCourses(_ context.Context, courseKey string) ([]string, error) {
	s.reads.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.ccx[courseKey]...), nil
}

// CourseBlocks implements repository.BlockSource
func (s *Store) CourseBlocks(_ context.Context, courseKey string) ([]*models.Block, error) {
	s.reads.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	blocks, ok := s.blocks[courseKey]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "no structure for course %s", courseKey)
	}
	return blocks, nil
}

// ClearCaches implements repository.Repository
func (s *Store) ClearCaches() {
	s.cacheClears.Add(1)
}

func toSet(keys []string) map[string]bool {
	if len(keys) == 0 {
		return nil
	}
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}
