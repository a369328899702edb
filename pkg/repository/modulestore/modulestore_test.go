package modulestore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/openedx/event-sink-clickhouse/pkg/config"
	"github.com/openedx/event-sink-clickhouse/pkg/errors"
	"github.com/openedx/event-sink-clickhouse/pkg/models"
)

func name(s string) *string { return &s }

func sampleStructure() *structure {
	edited := time.Date(2024, 2, 2, 8, 0, 0, 0, time.UTC)
	st := &structure{
		ID:   primitive.NewObjectID(),
		Root: []string{"course", "course"},
		Blocks: []blockDoc{
			{BlockType: "about", BlockID: "overview", Fields: blockFields{DisplayName: name("Overview")}},
			{BlockType: "vertical", BlockID: "unit_1", Fields: blockFields{Children: [][]string{{"problem", "p1"}}}},
			{BlockType: "problem", BlockID: "p1", Fields: blockFields{DisplayName: name("Problem 1")}},
			{BlockType: "sequential", BlockID: "seq1", Fields: blockFields{
				DisplayName: name("Homework"),
				Graded:      true,
				Children:    [][]string{{"vertical", "unit_1"}},
			}},
			{BlockType: "chapter", BlockID: "ch1", Fields: blockFields{
				DisplayName: name("Week 1"),
				Children:    [][]string{{"sequential", "seq1"}, {"sequential", "missing"}},
			}},
			{BlockType: "course", BlockID: "course", Fields: blockFields{
				DisplayName: name("Demo"),
				Children:    [][]string{{"chapter", "ch1"}},
			}},
		},
	}
	st.Blocks[4].EditInfo.EditedOn = &edited
	return st
}

func TestOrderBlocks(t *testing.T) {
	course := models.CourseKey{Org: "edX", Course: "DemoX", Run: "Demo"}
	blocks := orderBlocks(sampleStructure(), course)

	var order []string
	for _, b := range blocks {
		order = append(order, b.Location.BlockType+"@"+b.Location.BlockID)
	}
	assert.Equal(t, []string{
		"course@course", "chapter@ch1", "sequential@seq1", "vertical@unit_1", "problem@p1", "about@overview",
	}, order)

	chapter := blocks[1]
	assert.Equal(t, "Week 1", chapter.DisplayName)
	assert.Equal(t, "aggregator", chapter.CompletionMode)
	assert.NotNil(t, chapter.EditedOn)
	require.Len(t, chapter.Children, 2, "children are kept even when a child is missing")

	assert.True(t, blocks[2].Graded)
	assert.Equal(t, "unit 1", blocks[3].DisplayName, "display name falls back to the block id")
	assert.Equal(t, "completable", blocks[4].CompletionMode)
	assert.Equal(t, "excluded", blocks[5].CompletionMode)
	assert.Equal(t, "block-v1:edX+DemoX+Demo+type@problem+block@p1", blocks[4].Location.String())
}

func TestOrderBlocksForCustomCourse(t *testing.T) {
	course := models.CourseKey{Org: "edX", Course: "DemoX", Run: "Demo", CCX: "3"}
	blocks := orderBlocks(sampleStructure(), course)
	require.Len(t, blocks, 6)

	assert.Equal(t, "ccx-block-v1:edX+DemoX+Demo+ccx@3+type@course+block@course", blocks[0].Location.String())
	assert.Equal(t, "ccx-v1:edX+DemoX+Demo+ccx@3", blocks[0].Location.Course.String())
	for _, child := range blocks[1].Children {
		assert.Equal(t, "3", child.Course.CCX)
	}
}

func TestCourseBlocksAgainstMongo(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set; skipping MongoDB integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := config.ModulestoreConfig{URI: uri, Database: "event_sink_test", Branch: "published-branch"}
	store, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	defer store.Close(ctx)

	require.NoError(t, store.db.Drop(ctx))
	st := sampleStructure()
	_, err = store.db.Collection(structuresCollection).InsertOne(ctx, st)
	require.NoError(t, err)
	_, err = store.db.Collection(activeVersionsCollection).InsertOne(ctx, activeVersion{
		Org: "edX", Course: "DemoX", Run: "Demo",
		Versions: map[string]primitive.ObjectID{"published-branch": st.ID},
	})
	require.NoError(t, err)

	blocks, err := store.CourseBlocks(ctx, "course-v1:edX+DemoX+Demo")
	require.NoError(t, err)
	assert.Len(t, blocks, 6)

	ccxBlocks, err := store.CourseBlocks(ctx, "ccx-v1:edX+DemoX+Demo+ccx@3")
	require.NoError(t, err)
	require.Len(t, ccxBlocks, 6)
	assert.Equal(t, "ccx-v1:edX+DemoX+Demo+ccx@3", ccxBlocks[0].Location.Course.String())
	assert.Equal(t, "", blocks[0].Location.Course.CCX)

	_, err = store.CourseBlocks(ctx, "course-v1:edX+Other+Run")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}
