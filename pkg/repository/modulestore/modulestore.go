// Package modulestore reads course structures from the split modulestore kept
// in MongoDB. A course's active_versions document points at the structure of
// each branch; the structure lists every block with its fields and children.
package modulestore

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/openedx/event-sink-clickhouse/pkg/config"
	"github.com/openedx/event-sink-clickhouse/pkg/errors"
	"github.com/openedx/event-sink-clickhouse/pkg/models"
	"github.com/openedx/event-sink-clickhouse/pkg/repository"
)

const (
	activeVersionsCollection = "modulestore.active_versions"
	structuresCollection     = "modulestore.structures"
)

type activeVersion struct {
	Org      string                        `bson:"org"`
	Course   string                        `bson:"course"`
	Run      string                        `bson:"run"`
	Versions map[string]primitive.ObjectID `bson:"versions"`
}

type structure struct {
	ID     primitive.ObjectID `bson:"_id"`
	Root   []string           `bson:"root"`
	Blocks []blockDoc         `bson:"blocks"`
}

type blockDoc struct {
	BlockType string      `bson:"block_type"`
	BlockID   string      `bson:"block_id"`
	Fields    blockFields `bson:"fields"`
	EditInfo  struct {
		EditedOn *time.Time `bson:"edited_on"`
	} `bson:"edit_info"`
}

type blockFields struct {
	DisplayName    *string    `bson:"display_name"`
	Children       [][]string `bson:"children"`
	Graded         bool       `bson:"graded"`
	CompletionMode string     `bson:"completion_mode"`
}

// Store implements repository.BlockSource over MongoDB.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	branch string
	logger *zap.Logger

	mu         sync.Mutex
	structures map[primitive.ObjectID]*structure
}

var _ repository.BlockSource = (*Store)(nil)

// Open connects to the modulestore and verifies the connection.
func Open(ctx context.Context, cfg config.ModulestoreConfig, l *zap.Logger) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to MongoDB")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to ping MongoDB")
	}
	return New(client, cfg, l), nil
}

// New wraps a connected client
func New(client *mongo.Client, cfg config.ModulestoreConfig, l *zap.Logger) *Store {
	if l == nil {
		l = zap.NewNop()
	}
	branch := cfg.Branch
	if branch == "" {
		branch = "published-branch"
	}
	return &Store{
		client:     client,
		db:         client.Database(cfg.Database),
		branch:     branch,
		logger:     l.With(zap.String("component", "modulestore")),
		structures: make(map[primitive.ObjectID]*structure),
	}
}

// Close disconnects from MongoDB
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// CourseBlocks implements repository.BlockSource. Custom courses read the
// structure of their master course; their blocks keep the ccx key.
func (s *Store) CourseBlocks(ctx context.Context, courseKey string) ([]*models.Block, error) {
	key, err := models.ParseCourseKey(courseKey)
	if err != nil {
		return nil, err
	}
	course := key.ForBranch()
	master := course
	master.CCX = ""

	var av activeVersion
	err = s.db.Collection(activeVersionsCollection).FindOne(ctx, bson.M{
		"org":    master.Org,
		"course": master.Course,
		"run":    master.Run,
	}).Decode(&av)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "course %s not found in modulestore", courseKey)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read active versions")
	}

	versionID, ok := av.Versions[s.branch]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "course %s has no %s", courseKey, s.branch)
	}

	st, err := s.structure(ctx, versionID)
	if err != nil {
		return nil, err
	}
	return orderBlocks(st, course), nil
}

func (s *Store) structure(ctx context.Context, id primitive.ObjectID) (*structure, error) {
	s.mu.Lock()
	cached, ok := s.structures[id]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	var st structure
	err := s.db.Collection(structuresCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&st)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "structure %s not found", id.Hex())
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read structure")
	}

	s.mu.Lock()
	s.structures[id] = &st
	s.mu.Unlock()
	s.logger.Debug("loaded structure", zap.String("structure", id.Hex()), zap.Int("blocks", len(st.Blocks)))
	return &st, nil
}

// ClearCaches drops cached structures
func (s *Store) ClearCaches() {
	s.mu.Lock()
	s.structures = make(map[primitive.ObjectID]*structure)
	s.mu.Unlock()
}

type blockRef struct{ blockType, blockID string }

// orderBlocks walks the structure depth first from its root, then appends the
// blocks the walk did not reach in stored order.
func orderBlocks(st *structure, course models.CourseKey) []*models.Block {
	byRef := make(map[blockRef]*blockDoc, len(st.Blocks))
	for i := range st.Blocks {
		b := &st.Blocks[i]
		byRef[blockRef{b.BlockType, b.BlockID}] = b
	}

	out := make([]*models.Block, 0, len(st.Blocks))
	visited := make(map[blockRef]bool, len(st.Blocks))

	var walk func(ref blockRef)
	walk = func(ref blockRef) {
		if visited[ref] {
			return
		}
		doc, ok := byRef[ref]
		if !ok {
			return
		}
		visited[ref] = true
		out = append(out, toBlock(doc, course))
		for _, child := range doc.Fields.Children {
			if len(child) == 2 {
				walk(blockRef{child[0], child[1]})
			}
		}
	}

	if len(st.Root) == 2 {
		walk(blockRef{st.Root[0], st.Root[1]})
	}
	for i := range st.Blocks {
		b := &st.Blocks[i]
		ref := blockRef{b.BlockType, b.BlockID}
		if !visited[ref] {
			visited[ref] = true
			out = append(out, toBlock(b, course))
		}
	}
	return out
}

func toBlock(doc *blockDoc, course models.CourseKey) *models.Block {
	block := &models.Block{
		Location:       models.UsageKey{Course: course, BlockType: doc.BlockType, BlockID: doc.BlockID},
		DisplayName:    displayName(doc),
		Graded:         doc.Fields.Graded,
		CompletionMode: doc.Fields.CompletionMode,
		EditedOn:       doc.EditInfo.EditedOn,
	}
	if block.CompletionMode == "" {
		block.CompletionMode = defaultCompletionMode(doc.BlockType)
	}
	for _, child := range doc.Fields.Children {
		if len(child) == 2 {
			block.Children = append(block.Children, models.UsageKey{Course: course, BlockType: child[0], BlockID: child[1]})
		}
	}
	return block
}

func displayName(doc *blockDoc) string {
	if doc.Fields.DisplayName != nil {
		return *doc.Fields.DisplayName
	}
	return strings.ReplaceAll(doc.BlockID, "_", " ")
}

func defaultCompletionMode(blockType string) string {
	switch blockType {
	case "course", "chapter", "sequential", "vertical":
		return "aggregator"
	case "discussion", "about", "static_tab", "course_info":
		return "excluded"
	default:
		return "completable"
	}
}
