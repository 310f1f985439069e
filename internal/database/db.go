package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// Config holds database configuration
type Config struct {
	Path  string // SQLite database file, ":memory:" for a throwaway store
	Debug bool   // log every statement
}

// DB wraps the GORM database instance
type DB struct {
	db *gorm.DB
}

// NewDB opens the database with the pure Go SQLite driver and migrates the
// radio user and call log tables.
func NewDB(config Config, l *log.Logger) (*DB, error) {
	var gormLog logger.Interface
	if l != nil {
		level := logger.Warn
		forced := log.WarnLevel
		if config.Debug {
			level = logger.Info
			forced = log.DebugLevel
		}
		gormLog = logger.New(
			l.StandardLog(log.StandardLogOptions{ForceLevel: forced}),
			logger.Config{
				SlowThreshold:             500 * time.Millisecond,
				LogLevel:                  level,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		)
	} else {
		gormLog = logger.Default.LogMode(logger.Silent)
	}

	if config.Path != ":memory:" {
		if dir := filepath.Dir(config.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("database directory: %w", err)
			}
		}
	}

	dialector := sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        config.Path,
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", config.Path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// One writer; an in-memory database also lives only as long as its
	// connection.
	sqlDB.SetMaxOpenConns(1)

	if err := configureSQLite(sqlDB); err != nil {
		return nil, fmt.Errorf("configure %s: %w", config.Path, err)
	}

	if err := db.AutoMigrate(&RadioUser{}, &CallRecord{}); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", config.Path, err)
	}

	if l != nil {
		l.Info("database initialized", "path", config.Path)
	}

	return &DB{db: db}, nil
}

func configureSQLite(sqlDB *sql.DB) error {
	pragmaSettings := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=10000",
		"PRAGMA temp_store=memory",
	}

	for _, pragma := range pragmaSettings {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return nil
}

// GetDB returns the underlying GORM database instance
func (db *DB) GetDB() *gorm.DB {
	return db.db
}

// Users returns the radio user repository.
func (db *DB) Users() *RadioUserRepository {
	return NewRadioUserRepository(db.db)
}

// Calls returns the call log repository.
func (db *DB) Calls() *CallLogRepository {
	return NewCallLogRepository(db.db)
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health checks if the database connection is healthy
func (db *DB) Health() error {
	sqlDB, err := db.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
