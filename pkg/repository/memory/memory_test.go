package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openedx/event-sink-clickhouse/pkg/errors"
	"github.com/openedx/event-sink-clickhouse/pkg/models"
	"github.com/openedx/event-sink-clickhouse/pkg/repository"
)

func keys(records []models.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.PrimaryKey()
	}
	return out
}

func TestPage(t *testing.T) {
	store := New()
	for _, id := range []int64{3, 10, 1, 22, 2} {
		store.Put(repository.KindUserProfile, &models.UserProfile{ID: id})
	}
	ctx := context.Background()

	tests := []struct {
		name  string
		query repository.PageQuery
		want  []string
	}{
		{"numeric order", repository.PageQuery{}, []string{"1", "2", "3", "10", "22"}},
		{"after pk", repository.PageQuery{AfterPK: "3"}, []string{"10", "22"}},
		{"ids", repository.PageQuery{IDs: []string{"22", "2"}}, []string{"2", "22"}},
		{"skip wins over ids", repository.PageQuery{IDs: []string{"22", "2"}, SkipIDs: []string{"2"}}, []string{"22"}},
		{"limit", repository.PageQuery{Limit: 2}, []string{"1", "2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := store.Page(ctx, repository.KindUserProfile, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, keys(page))
		})
	}
}

func TestGetAndLastModified(t *testing.T) {
	store := New()
	modified := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.Put(repository.KindCourseOverviews,
		&models.CourseOverview{ID: "course-v1:a+b+c", Modified: &modified},
		&models.CourseOverview{ID: "course-v1:a+b+d"},
	)
	ctx := context.Background()

	ts, ok, err := store.LastModified(ctx, repository.KindCourseOverviews, "course-v1:a+b+c")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, modified, ts)

	_, ok, err = store.LastModified(ctx, repository.KindCourseOverviews, "course-v1:a+b+d")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Get(ctx, repository.KindCourseOverviews, "course-v1:x+y+z")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	assert.EqualValues(t, 3, store.Reads())
}
