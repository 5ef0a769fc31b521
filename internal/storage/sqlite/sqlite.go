// Package sqlite provides the default storage backend — a single-file
// database through the glebarez/sqlite GORM driver (pure Go
// modernc.org/sqlite, no CGO). It reuses the postgres package's models and
// repositories; only connection setup differs:
//   - WAL journal mode by default, so readers never block on the writer
//   - busy_timeout in place of a connection pool (one file, one writer)
//   - JSON columns land as TEXT, which SQLite treats as JSON natively
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/jkaninda/mpango/internal/storage"
	pgstore "github.com/jkaninda/mpango/internal/storage/postgres"
)

// Config holds the database file path and journal mode.
type Config struct {
	Path        string
	JournalMode string // "wal" when unset
}

// Store is the SQLite implementation of storage.Store.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger

	// Repositories, created lazily on first access.
	mu        sync.Mutex
	runs      storage.RunStore
	schedules storage.ScheduledRunStore
}

// Open creates a new SQLite-backed Store, creating the database file and
// its parent directory if needed.
func Open(cfg Config, slogger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0750); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	journalMode := cfg.JournalMode
	if journalMode == "" {
		journalMode = "wal"
	}
	// busy_timeout keeps concurrent run workers from failing on transient
	// write contention; foreign_keys is off by default in SQLite.
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)",
		cfg.Path, journalMode)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  pgstore.NewGormLogger(slogger),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	slogger.Info("sqlite store opened",
		slog.String("path", cfg.Path),
		slog.String("journal_mode", journalMode),
	)
	return &Store{db: db, logger: slogger}, nil
}

// Migrate creates or updates the run tables from the shared postgres models.
func (s *Store) Migrate(_ context.Context) error {
	return s.db.AutoMigrate(
		&pgstore.RunModel{},
		&pgstore.ScheduledRunModel{},
	)
}

// Close releases the database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database file is still reachable, for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Driver reports the backend name for logs and health output.
func (s *Store) Driver() string {
	return storage.DriverSQLite
}

// GormDB exposes the raw GORM handle.
func (s *Store) GormDB() *gorm.DB {
	return s.db
}

// Repositories come from the postgres package; GORM's SQLite dialect
// rewrites the SQL.

func (s *Store) Runs() storage.RunStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs == nil {
		s.runs = pgstore.NewRunRepository(s.db)
	}
	return s.runs
}

func (s *Store) ScheduledRuns() storage.ScheduledRunStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedules == nil {
		s.schedules = pgstore.NewScheduledRunRepository(s.db)
	}
	return s.schedules
}

var _ storage.Store = (*Store)(nil)
