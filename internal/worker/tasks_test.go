package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openedx/event-sink-clickhouse/pkg/config"
	"github.com/openedx/event-sink-clickhouse/pkg/errors"
	"github.com/openedx/event-sink-clickhouse/pkg/lock"
	"github.com/openedx/event-sink-clickhouse/pkg/models"
	"github.com/openedx/event-sink-clickhouse/pkg/repository"
	"github.com/openedx/event-sink-clickhouse/pkg/repository/memory"
	"github.com/openedx/event-sink-clickhouse/pkg/sink"
)

type recordingTransport struct {
	mu      sync.Mutex
	name    string
	inserts []string
	deletes []string
}

func (r *recordingTransport) Insert(_ context.Context, table string, rows []*models.Row) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		key, _ := row.Get("course_key")
		if table == "course_overviews" {
			r.inserts = append(r.inserts, key.(string))
		}
	}
	return nil
}

func (r *recordingTransport) LastDumpedTimestamp(context.Context, string, string, string, string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (r *recordingTransport) DeleteWhereIn(_ context.Context, table, _ string, values []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range values {
		r.deletes = append(r.deletes, table+":"+v)
	}
	return nil
}

// heldLocker refuses keys listed in held.
type heldLocker struct {
	held     map[string]bool
	acquired []string
	released int
}

func (h *heldLocker) Acquire(_ context.Context, key string) (lock.ReleaseFunc, error) {
	if h.held[key] {
		return nil, errors.New(errors.ErrorTypeLocked, "held")
	}
	h.acquired = append(h.acquired, key)
	return func(context.Context) error { h.released++; return nil }, nil
}

const (
	masterCourse = "course-v1:edX+DemoX+Demo"
	ccxCourse    = "ccx-v1:edX+DemoX+Demo+ccx@3"
)

func taskFixture(t *testing.T, enabled ...string) (*config.Config, *memory.Store, *recordingTransport) {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Repository.Driver = "memory"
	for _, kind := range enabled {
		cfg.Sinks.Enabled[kind] = true
	}

	store := memory.New()
	for _, key := range []string{masterCourse, ccxCourse} {
		store.Put(repository.KindCourseOverviews, &models.CourseOverview{ID: key, Org: "edX"})
		store.PutBlocks(key)
	}
	store.PutCCX(masterCourse, ccxCourse)
	store.Put(repository.KindUserProfile, &models.UserProfile{ID: 5, UserID: 9})
	store.Put(repository.KindAuthUser, &models.User{ID: 9})
	return cfg, store, &recordingTransport{name: "default"}
}

func TestDumpCourseIncludesCCX(t *testing.T) {
	cfg, store, transport := taskFixture(t, repository.KindCourseOverviews)
	locker := &heldLocker{}
	tasks := NewTasks(cfg, store, transport, WithLocker(locker), WithTasksLogger(zap.NewNop()))

	require.NoError(t, tasks.DumpCourse(context.Background(), masterCourse, nil))

	assert.Equal(t, []string{masterCourse, ccxCourse}, transport.inserts)
	assert.Equal(t, []string{"course_overviews:" + masterCourse, "course_overviews:" + ccxCourse}, locker.acquired)
	assert.Equal(t, 2, locker.released)
}

func TestDumpCourseDisabled(t *testing.T) {
	cfg, store, transport := taskFixture(t)
	tasks := NewTasks(cfg, store, transport, WithTasksLogger(zap.NewNop()))

	require.NoError(t, tasks.DumpCourse(context.Background(), masterCourse, nil))
	assert.Empty(t, transport.inserts)
}

func TestDumpCourseLockedIsNoop(t *testing.T) {
	cfg, store, transport := taskFixture(t, repository.KindCourseOverviews)
	locker := &heldLocker{held: map[string]bool{"course_overviews:" + masterCourse: true}}
	tasks := NewTasks(cfg, store, transport, WithLocker(locker), WithTasksLogger(zap.NewNop()))

	require.NoError(t, tasks.DumpCourse(context.Background(), masterCourse, nil))
	assert.Empty(t, transport.inserts)
}

func TestDumpCourseWithOverrides(t *testing.T) {
	cfg, store, transport := taskFixture(t, repository.KindCourseOverviews)
	overridden := &recordingTransport{name: "override"}
	var got config.ClickHouseConfig
	tasks := NewTasks(cfg, store, transport,
		WithTasksLogger(zap.NewNop()),
		WithTransportFactory(func(c config.ClickHouseConfig) (sink.Transport, error) {
			got = c
			return overridden, nil
		}))

	overrides := &config.Overrides{URL: config.String("http://other:8123"), Database: config.String("reporting")}
	require.NoError(t, tasks.DumpCourse(context.Background(), masterCourse, overrides))

	assert.Empty(t, transport.inserts)
	assert.Len(t, overridden.inserts, 2)
	assert.Equal(t, "http://other:8123", got.URL)
	assert.Equal(t, "reporting", got.Database)
	assert.Equal(t, cfg.ClickHouse.Username, got.Username)
}

func TestDumpData(t *testing.T) {
	cfg, store, transport := taskFixture(t, repository.KindUserProfile, repository.KindAuthUser)
	tasks := NewTasks(cfg, store, transport, WithTasksLogger(zap.NewNop()))
	ctx := context.Background()

	require.NoError(t, tasks.DumpData(ctx, repository.KindUserProfile, "5", nil))
	require.NoError(t, tasks.DumpData(ctx, repository.KindAuthUser, "9", nil))
	assert.Equal(t, []string{"user_profile:9", "external_id:9"}, transport.deletes)

	err := tasks.DumpData(ctx, repository.KindUserProfile, "404", nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	// disabled sink
	require.NoError(t, tasks.DumpData(ctx, repository.KindExternalID, "1", nil))
}

func TestDumpDataWithoutModelIsNoop(t *testing.T) {
	cfg, store, transport := taskFixture(t, repository.KindUserProfile)
	delete(cfg.Models, repository.KindUserProfile)
	tasks := NewTasks(cfg, store, transport, WithTasksLogger(zap.NewNop()))

	assert.NoError(t, tasks.DumpData(context.Background(), repository.KindUserProfile, "5", nil))
}

func TestSweepCourses(t *testing.T) {
	cfg, store, transport := taskFixture(t)
	cfg.Sinks.SleepTime = 0
	tasks := NewTasks(cfg, store, transport, WithTasksLogger(zap.NewNop()))

	require.NoError(t, tasks.SweepCourses(context.Background()))
	assert.ElementsMatch(t, []string{masterCourse, ccxCourse}, transport.inserts)
}
