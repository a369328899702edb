// Package sqlstore reads upstream records from the LMS relational database
// through gorm. MySQL and PostgreSQL are supported.
package sqlstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"strconv"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/openedx/event-sink-clickhouse/pkg/config"
	"github.com/openedx/event-sink-clickhouse/pkg/errors"
	"github.com/openedx/event-sink-clickhouse/pkg/models"
	"github.com/openedx/event-sink-clickhouse/pkg/repository"
)

const (
	externalIDTypeTable = "external_user_ids_externalidtype"
	ccxTable            = "ccx_customcourseforedx"
)

// Store implements repository.RecordStore over gorm.
type Store struct {
	db     *gorm.DB
	models map[string]config.ModelConfig
	logger *zap.Logger
}

var _ repository.RecordStore = (*Store)(nil)

// Open connects to the database described by cfg.
func Open(cfg config.RepositoryConfig, modelCfg map[string]config.ModelConfig, l *zap.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = MySQLDSN(cfg.MySQL)
		}
		dialector = gormmysql.Open(dsn)
	case "postgres":
		if cfg.DSN == "" {
			return nil, errors.New(errors.ErrorTypeConfig, "postgres repository needs a dsn")
		}
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported repository driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to "+cfg.Driver)
	}
	return New(db, modelCfg, l), nil
}

// New wraps an open gorm connection.
func New(db *gorm.DB, modelCfg map[string]config.ModelConfig, l *zap.Logger) *Store {
	if l == nil {
		l = zap.NewNop()
	}
	return &Store{
		db:     db,
		models: modelCfg,
		logger: l.With(zap.String("component", "sqlstore")),
	}
}

// MySQLDSN builds a DSN that scans DATETIME columns into UTC time.Time values.
func MySQLDSN(c config.MySQLConfig) string {
	dsn := mysqldriver.NewConfig()
	dsn.User = c.User
	dsn.Passwd = c.Password
	dsn.Net = "tcp"
	dsn.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	dsn.DBName = c.Database
	dsn.ParseTime = true
	dsn.Loc = time.UTC
	return dsn.FormatDSN()
}

// Close releases the underlying connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) table(kind string) (string, error) {
	m, ok := s.models[kind]
	if !ok || !m.Complete() {
		return "", errors.Newf(errors.ErrorTypeConfig, "no model config for %s", kind)
	}
	return m.Model, nil
}

// numericPK reports whether kind is keyed by an integer id
func numericPK(kind string) bool {
	return kind != repository.KindCourseOverviews
}

func pkValue(kind, key string) (interface{}, error) {
	if !numericPK(kind) {
		return key, nil
	}
	n, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return nil, errors.Newf(errors.ErrorTypeValidation, "%s keys are integers, got %q", kind, key)
	}
	return n, nil
}

func pkValues(kind string, keys []string) ([]interface{}, error) {
	out := make([]interface{}, 0, len(keys))
	for _, k := range keys {
		v, err := pkValue(kind, k)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// scope applies q to a query whose primary key column is pk.
func scope(tx *gorm.DB, kind, pk string, q repository.PageQuery) (*gorm.DB, error) {
	if q.AfterPK != "" {
		after, err := pkValue(kind, q.AfterPK)
		if err != nil {
			return nil, err
		}
		tx = tx.Where(pk+" > ?", after)
	}
	if len(q.IDs) > 0 {
		ids, err := pkValues(kind, q.IDs)
		if err != nil {
			return nil, err
		}
		tx = tx.Where(pk+" IN ?", ids)
	}
	if len(q.SkipIDs) > 0 {
		skip, err := pkValues(kind, q.SkipIDs)
		if err != nil {
			return nil, err
		}
		tx = tx.Where(pk+" NOT IN ?", skip)
	}
	tx = tx.Order(pk)
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	return tx, nil
}

// Page implements repository.RecordStore
func (s *Store) Page(ctx context.Context, kind string, q repository.PageQuery) ([]models.Record, error) {
	tx, pk, err := s.query(ctx, kind)
	if err != nil {
		return nil, err
	}
	if tx, err = scope(tx, kind, pk, q); err != nil {
		return nil, err
	}
	return s.find(tx, kind)
}

// Get implements repository.RecordStore
func (s *Store) Get(ctx context.Context, kind, id string) (models.Record, error) {
	records, err := s.Page(ctx, kind, repository.PageQuery{IDs: []string{id}, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "%s %s not found", kind, id)
	}
	return records[0], nil
}

// query starts a select for kind and returns the qualified primary key column
func (s *Store) query(ctx context.Context, kind string) (*gorm.DB, string, error) {
	table, err := s.table(kind)
	if err != nil {
		return nil, "", err
	}
	tx := s.db.WithContext(ctx)

	switch kind {
	case repository.KindExternalID:
		userTable, err := s.table(repository.KindAuthUser)
		if err != nil {
			return nil, "", err
		}
		tx = tx.Table(table + " AS e").
			Select("e.id, e.external_user_id, t.name AS external_id_type, u.username, e.user_id, e.created, e.modified").
			Joins("JOIN " + externalIDTypeTable + " t ON t.id = e.external_id_type_id").
			Joins("JOIN " + userTable + " u ON u.id = e.user_id")
		return tx, "e.id", nil
	case repository.KindCourseOverviews, repository.KindUserProfile, repository.KindAuthUser:
		return tx.Table(table), "id", nil
	default:
		return nil, "", errors.Newf(errors.ErrorTypeConfig, "unsupported record kind %s", kind)
	}
}

func (s *Store) find(tx *gorm.DB, kind string) ([]models.Record, error) {
	var records []models.Record
	var err error

	switch kind {
	case repository.KindCourseOverviews:
		var rows []courseOverviewRow
		err = tx.Find(&rows).Error
		for i := range rows {
			records = append(records, rows[i].record())
		}
	case repository.KindUserProfile:
		var rows []userProfileRow
		err = tx.Find(&rows).Error
		for i := range rows {
			records = append(records, rows[i].record())
		}
	case repository.KindExternalID:
		var rows []externalIDRow
		err = tx.Find(&rows).Error
		for i := range rows {
			records = append(records, rows[i].record())
		}
	case repository.KindAuthUser:
		var rows []userRow
		err = tx.Find(&rows).Error
		for i := range rows {
			records = append(records, rows[i].record())
		}
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read "+kind)
	}
	return records, nil
}

// LastModified implements repository.RecordStore. Only course overviews and
// external ids carry a modification time.
func (s *Store) LastModified(ctx context.Context, kind, id string) (time.Time, bool, error) {
	if kind != repository.KindCourseOverviews && kind != repository.KindExternalID {
		return time.Time{}, false, nil
	}
	table, err := s.table(kind)
	if err != nil {
		return time.Time{}, false, err
	}
	key, err := pkValue(kind, id)
	if err != nil {
		return time.Time{}, false, err
	}

	var row struct {
		Modified *time.Time `gorm:"column:modified"`
	}
	err = s.db.WithContext(ctx).Table(table).Select("modified").Where("id = ?", key).Take(&row).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, errors.Newf(errors.ErrorTypeNotFound, "%s %s not found", kind, id)
	}
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read modified time")
	}
	if row.Modified == nil {
		return time.Time{}, false, nil
	}
	return row.Modified.UTC(), true, nil
}

// CCXCourses implements repository.RecordStore
func (s *Store) CCXCourses(ctx context.Context, courseKey string) ([]string, error) {
	master, err := models.ParseCourseKey(courseKey)
	if err != nil {
		return nil, err
	}

	var ids []int64
	err = s.db.WithContext(ctx).Table(ccxTable).Where("course_id = ?", courseKey).Order("id").Pluck("id", &ids).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read ccx courses")
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		ccx := master.ForBranch()
		ccx.CCX = strconv.FormatInt(id, 10)
		keys = append(keys, ccx.String())
	}
	if len(keys) > 0 {
		s.logger.Debug("found ccx courses", zap.String("course_key", courseKey), zap.Int("count", len(keys)))
	}
	return keys, nil
}

func (s *Store) String() string {
	return fmt.Sprintf("sqlstore(%s)", s.db.Dialector.Name())
}
