package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethpandaops/dperf/pkg/config"
	"github.com/ethpandaops/dperf/pkg/run"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrRunNotFound is returned when no stored run has the requested id.
var ErrRunNotFound = errors.New("run not found")

// listBatchSize is the number of documents loaded per query by ListDocuments.
const listBatchSize = 100

const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// Store provides persistence for submitted runs.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// InsertRun stores doc as a new row. Duplicate run ids are allowed.
	InsertRun(ctx context.Context, r *run.Run, doc []byte) error

	// ListSummaries returns every run ordered by time, newest first.
	ListSummaries(ctx context.Context) ([]run.Summary, error)

	// GetRunByID returns the document of the first run stored with runID.
	GetRunByID(ctx context.Context, runID int64) ([]byte, error)

	// ListDocuments calls fn for every stored run in insertion order.
	ListDocuments(ctx context.Context, fn func(doc *RunDocument) error) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection, sizes the pool and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var (
		dialector gorm.Dialector
		err       error
	)

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(sqliteDSN(s.cfg.SQLite.Path))
	case "postgres":
		dialector = postgres.Open(s.cfg.Postgres.DSN())
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	s.db, err = gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	lifetime, err := s.cfg.Pool.Lifetime()
	if err != nil {
		return err
	}

	if s.cfg.Pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(s.cfg.Pool.MaxOpenConns)
	}

	if s.cfg.Pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(s.cfg.Pool.MaxIdleConns)
	}

	sqlDB.SetConnMaxLifetime(lifetime)

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}

	if err := s.db.WithContext(ctx).AutoMigrate(&RunDocument{}); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// sqliteDSN adds the pragmas needed for concurrent writers sharing one
// database file.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	return path + sep + sqlitePragmas
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

func (s *store) InsertRun(
	ctx context.Context, r *run.Run, doc []byte,
) error {
	row := &RunDocument{
		RunID:    r.RunID,
		Name:     r.Name,
		Time:     r.Time,
		Document: string(doc),
	}

	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	return nil
}

func (s *store) ListSummaries(ctx context.Context) ([]run.Summary, error) {
	var rows []RunDocument
	if err := s.db.WithContext(ctx).
		Select("id", "run_id", "name", "time").
		Order("time DESC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	summaries := make([]run.Summary, 0, len(rows))
	for i := range rows {
		summaries = append(summaries, rows[i].Summary())
	}

	return summaries, nil
}

func (s *store) GetRunByID(ctx context.Context, runID int64) ([]byte, error) {
	var row RunDocument
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("getting run %d: %w", runID, ErrRunNotFound)
		}

		return nil, fmt.Errorf("getting run %d: %w", runID, err)
	}

	return []byte(row.Document), nil
}

func (s *store) ListDocuments(
	ctx context.Context, fn func(doc *RunDocument) error,
) error {
	var rows []RunDocument

	result := s.db.WithContext(ctx).
		FindInBatches(&rows, listBatchSize, func(_ *gorm.DB, _ int) error {
			for i := range rows {
				if err := fn(&rows[i]); err != nil {
					return err
				}
			}

			return nil
		})
	if result.Error != nil {
		return fmt.Errorf("listing run documents: %w", result.Error)
	}

	return nil
}
