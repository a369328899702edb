package sink

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openedx/event-sink-clickhouse/pkg/models"
	"github.com/openedx/event-sink-clickhouse/pkg/repository"
	"github.com/openedx/event-sink-clickhouse/pkg/repository/memory"
)

func TestPolicyShouldDump(t *testing.T) {
	const course = "course-v1:edX+DemoX+Demo"
	modified := time.Date(2023, 5, 3, 15, 47, 39, 331024000, time.UTC)

	tests := []struct {
		name       string
		force      bool
		modified   *time.Time
		lastDumped *time.Time
		want       bool
		reason     string
	}{
		{"forced", true, &modified, &modified, true, ReasonForced},
		{"never dumped", false, &modified, nil, true, ReasonNotPresent},
		{"never dumped without modified", false, nil, nil, true, ReasonNotPresent},
		{"dumped without modified", false, nil, &modified, false, ReasonNoModified},
		{"equal timestamps", false, &modified, &modified, false,
			"not modified since last dump: last dumped 2023-05-03 15:47:39.331024+00:00 >= last modified 2023-05-03 15:47:39.331024+00:00"},
		{"modified after dump", false, ptr(modified.Add(time.Microsecond)), &modified, true,
			"modified since last dump: last dumped 2023-05-03 15:47:39.331024+00:00 < last modified 2023-05-03 15:47:39.331025+00:00"},
		{"dumped after modified", false, &modified, ptr(modified.Add(time.Hour)), false,
			"not modified since last dump: last dumped 2023-05-03 16:47:39.331024+00:00 >= last modified 2023-05-03 15:47:39.331024+00:00"},
		{"sub-microsecond difference is equal", false, ptr(modified.Add(500 * time.Nanosecond)), &modified, false,
			"not modified since last dump: last dumped 2023-05-03 15:47:39.331024+00:00 >= last modified 2023-05-03 15:47:39.331024+00:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			store.Put(repository.KindCourseOverviews, &models.CourseOverview{ID: course, Modified: tt.modified})
			transport := newFakeTransport()
			if tt.lastDumped != nil {
				transport.lastDumped["course_overviews/"+course] = *tt.lastDumped
			}

			policy := NewPolicy(descriptors[repository.KindCourseOverviews], transport, store)
			got, reason, err := policy.ShouldDump(context.Background(), course, tt.force)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestPolicyNonIncremental(t *testing.T) {
	transport := newFakeTransport()
	policy := NewPolicy(descriptors[repository.KindUserProfile], transport, memory.New())

	got, reason, err := policy.ShouldDump(context.Background(), "1", false)
	require.NoError(t, err)
	assert.True(t, got)
	assert.Equal(t, ReasonNotIncremental, reason)
	assert.Zero(t, transport.lookups)
}

func ptr(t time.Time) *time.Time { return &t }
