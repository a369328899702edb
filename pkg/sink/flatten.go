package sink

import (
	"context"

	"go.uber.org/zap"

	"github.com/openedx/event-sink-clickhouse/pkg/errors"
	"github.com/openedx/event-sink-clickhouse/pkg/logger"
	"github.com/openedx/event-sink-clickhouse/pkg/models"
	"github.com/openedx/event-sink-clickhouse/pkg/repository"
	"github.com/openedx/event-sink-clickhouse/pkg/serializer"
)

// Course block tables
const (
	CourseBlocksTable        = "course_blocks"
	CourseRelationshipsTable = "course_relationships"
)

// Flatten turns the blocks of a course, in depth first order, into
// course_blocks and course_relationships rows.
//
// Every block is stamped with the section, subsection and unit counters current
// when it is visited: a chapter starts a new section, a sequential a new
// subsection and a vertical a new unit. Blocks are identified by their location
// without branch or version; a block seen twice keeps the position of its
// first visit, so order strictly increases, and the content of its last
// visit. Edges whose parent or child is not among the blocks are dropped, and
// the remaining edges are numbered from 0 per parent.
func Flatten(blocks []*models.Block, detached map[string]bool, batch serializer.SyncBatch) ([]*models.Row, []*models.Row, error) {
	type node struct {
		block *models.Block
		pos   serializer.Position
	}

	var order, section, subsection, unit int
	var identities []models.UsageKey
	nodes := make(map[models.UsageKey]node, len(blocks))

	for _, b := range blocks {
		order++
		switch b.Location.BlockType {
		case "chapter":
			section++
			subsection, unit = 0, 0
		case "sequential":
			subsection++
			unit = 0
		case "vertical":
			unit++
		}

		id := b.Location.StripBranchAndVersion()
		n, seen := nodes[id]
		if !seen {
			identities = append(identities, id)
			n.pos = serializer.Position{Order: order, Section: section, Subsection: subsection, Unit: unit}
		}
		n.block = b
		nodes[id] = n
	}

	blockRows := make([]*models.Row, 0, len(identities))
	var relationships []*models.Row
	for _, id := range identities {
		n := nodes[id]
		row, err := serializer.Block(n.block, n.pos, detached[n.block.Location.BlockType], batch)
		if err != nil {
			return nil, nil, err
		}
		blockRows = append(blockRows, row)

		childOrder := 0
		for _, child := range n.block.Children {
			childID := child.StripBranchAndVersion()
			if _, ok := nodes[childID]; !ok {
				continue
			}
			relationships = append(relationships, serializer.Relationship(
				id.Course.String(), id.String(), childID.String(), childOrder, batch))
			childOrder++
		}
	}
	return blockRows, relationships, nil
}

// CourseBlocksSink writes the structure of a course after its overview.
type CourseBlocksSink struct {
	transport Transport
	blocks    repository.BlockSource
	detached  map[string]bool
	logger    *zap.Logger
}

// NewCourseBlocksSink creates the nested sink of course overviews
func NewCourseBlocksSink(transport Transport, blocks repository.BlockSource, detached map[string]bool, log *zap.Logger) *CourseBlocksSink {
	if log == nil {
		log = logger.Get()
	}
	return &CourseBlocksSink{
		transport: transport,
		blocks:    blocks,
		detached:  detached,
		logger:    log.With(zap.String("sink", CourseBlocksTable)),
	}
}

// Name implements NestedSink
func (c *CourseBlocksSink) Name() string { return "XBlock" }

// DumpRelated implements NestedSink. Blocks are inserted before relationships.
func (c *CourseBlocksSink) DumpRelated(ctx context.Context, parent models.Record, batch serializer.SyncBatch) error {
	courseKey := parent.PrimaryKey()
	blocks, err := c.blocks.CourseBlocks(ctx, courseKey)
	if err != nil {
		return errors.Wrap(err, errors.TypeOf(err), "read course blocks of "+courseKey)
	}

	blockRows, relationships, err := Flatten(blocks, c.detached, batch)
	if err != nil {
		return err
	}

	log := c.logger.With(zap.String("course_key", courseKey), zap.String("dump_id", batch.ID.String()))
	log.Info("Now dumping course blocks to ClickHouse",
		zap.Int("blocks", len(blockRows)), zap.Int("relationships", len(relationships)))
	if err := c.transport.Insert(ctx, CourseBlocksTable, blockRows); err != nil {
		return err
	}
	if err := c.transport.Insert(ctx, CourseRelationshipsTable, relationships); err != nil {
		return err
	}
	log.Info("Completed dumping course blocks to ClickHouse")
	return nil
}
