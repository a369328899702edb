// Package repository defines how sinks read upstream records. Implementations
// live in subpackages: memory for tests and embedding, sqlstore for the LMS
// database and modulestore for course structures.
package repository

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/openedx/event-sink-clickhouse/pkg/models"
)

// Record kinds known to the sink registry
const (
	KindCourseOverviews = "course_overviews"
	KindUserProfile     = "user_profile"
	KindExternalID      = "external_id"
	KindAuthUser        = "auth_user"
)

// PageQuery selects a page of records ordered by primary key.
type PageQuery struct {
	// AfterPK excludes records whose key is not greater than it; empty starts at the beginning
	AfterPK string
	// IDs restricts the page to these keys when not empty
	IDs []string
	// SkipIDs excludes keys and takes precedence over IDs
	SkipIDs []string
	// Limit is the page size; zero means no limit
	Limit int
}

// RecordStore reads records of a kind.
type RecordStore interface {
	// Page returns records of kind matching q in primary key order
	Page(ctx context.Context, kind string, q PageQuery) ([]models.Record, error)
	// Get returns one record, or an errors.ErrorTypeNotFound error
	Get(ctx context.Context, kind, id string) (models.Record, error)
	// LastModified returns the modification time of a record; ok is false when
	// the record has none
	LastModified(ctx context.Context, kind, id string) (t time.Time, ok bool, err error)
	// CCXCourses returns the keys of custom courses derived from courseKey
	CCXCourses(ctx context.Context, courseKey string) ([]string, error)
}

// BlockSource reads course structures.
type BlockSource interface {
	// CourseBlocks returns the blocks of a course in depth first order from the
	// root, followed by blocks outside the tree
	CourseBlocks(ctx context.Context, courseKey string) ([]*models.Block, error)
}

// Repository is everything a sink reads from.
type Repository interface {
	RecordStore
	BlockSource
	// ClearCaches drops cached upstream data between records of a bulk dump
	ClearCaches()
}

// Composite joins a record store and a block source into a Repository.
type Composite struct {
	RecordStore
	BlockSource
}

// ClearCaches clears the caches of both parts that keep any
func (c Composite) ClearCaches() {
	if cc, ok := c.RecordStore.(interface{ ClearCaches() }); ok {
		cc.ClearCaches()
	}
	if cc, ok := c.BlockSource.(interface{ ClearCaches() }); ok {
		cc.ClearCaches()
	}
}

// ComparePK orders primary keys numerically when both are integers and
// lexically otherwise.
func ComparePK(a, b string) int {
	ai, aErr := strconv.ParseInt(a, 10, 64)
	bi, bErr := strconv.ParseInt(b, 10, 64)
	if aErr == nil && bErr == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// SortRecords sorts records by primary key in place
func SortRecords(records []models.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return ComparePK(records[i].PrimaryKey(), records[j].PrimaryKey()) < 0
	})
}
