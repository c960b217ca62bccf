package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const defaultBusyTimeout = 5 * time.Second

var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Options controls how a SQLite database file is opened.
type Options struct {
	Path         string
	Logger       logger.Interface
	BusyTimeout  time.Duration
	MaxOpenConns int
	MaxIdleConns int
	ConnMaxIdle  time.Duration
	ConnMaxLife  time.Duration
}

// WikiPath returns the database file that holds the wiki identified by token.
// Each token maps to its own file inside dir.
func WikiPath(dir string, token string) (string, error) {
	if dir == "" {
		return "", eris.New("data directory is required")
	}
	if !tokenPattern.MatchString(token) {
		return "", eris.Errorf("invalid wiki token: %q", token)
	}

	return filepath.Join(dir, fmt.Sprintf("wiki-%s.db", token)), nil
}

// GormLogger adapts a logrus logger for Gorm. Only slow queries and errors are
// reported.
func GormLogger(log *logrus.Logger) logger.Interface {
	if log == nil {
		return logger.Default.LogMode(logger.Silent)
	}

	return logger.New(log, logger.Config{
		SlowThreshold:             500 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// Open establishes a SQLite connection using Gorm, creating the parent
// directory of the file when needed.
func Open(opts Options) (*gorm.DB, error) {
	if opts.Path == "" {
		return nil, eris.New("database path is required")
	}

	if dir := filepath.Dir(opts.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "creating database directory: %s", dir)
		}
	}

	if opts.BusyTimeout == 0 {
		opts.BusyTimeout = defaultBusyTimeout
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=1&_journal_mode=WAL", opts.Path, opts.BusyTimeout/time.Millisecond)

	gormLogger := opts.Logger
	if gormLogger == nil {
		gormLogger = logger.Default.LogMode(logger.Warn)
	}

	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, eris.Wrapf(err, "opening sqlite database: %s", opts.Path)
	}

	sqlDB, err := SQLDB(database)
	if err != nil {
		return nil, err
	}
	configurePool(sqlDB, opts)

	if err := enforcePragmas(database, opts.BusyTimeout); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return database, nil
}

// SQLDB exposes the underlying database handle.
func SQLDB(database *gorm.DB) (*sql.DB, error) {
	if database == nil {
		return nil, eris.New("gorm DB is required")
	}

	sqlDB, err := database.DB()
	if err != nil {
		return nil, eris.Wrap(err, "retrieving sql.DB from gorm")
	}
	return sqlDB, nil
}

func configurePool(sqlDB *sql.DB, opts Options) {
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxIdle > 0 {
		sqlDB.SetConnMaxIdleTime(opts.ConnMaxIdle)
	}
	if opts.ConnMaxLife > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLife)
	}
}

func enforcePragmas(database *gorm.DB, busyTimeout time.Duration) error {
	pragmas := []struct {
		statement string
		action    string
	}{
		{"PRAGMA foreign_keys = ON;", "enabling foreign keys pragma"},
		{fmt.Sprintf("PRAGMA busy_timeout = %d;", int(busyTimeout/time.Millisecond)), "configuring busy timeout pragma"},
		{"PRAGMA journal_mode = WAL;", "setting journal mode to WAL"},
	}

	for _, pragma := range pragmas {
		if err := database.Exec(pragma.statement).Error; err != nil {
			return eris.Wrap(err, pragma.action)
		}
	}

	return nil
}

// Close releases the underlying database resources. A nil database is a no-op.
func Close(database *gorm.DB) error {
	if database == nil {
		return nil
	}

	sqlDB, err := SQLDB(database)
	if err != nil {
		return eris.Wrap(err, "retrieving sql.DB for close")
	}

	if err := sqlDB.Close(); err != nil {
		return eris.Wrap(err, "closing database connection")
	}

	return nil
}
