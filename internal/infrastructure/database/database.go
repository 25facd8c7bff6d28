package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver

	"github.com/nerrad567/houseflow-core/internal/infrastructure/config"
)

const (
	dirMode  = 0o750
	fileMode = 0o600

	openTimeout = 5 * time.Second
	idleTimeout = 30 * time.Minute
)

// ErrNoPath is returned by Open when the database section has no path.
var ErrNoPath = errors.New("database: path is empty")

// DB is the history store's SQLite handle. SQLite allows one writer, so
// the pool holds exactly one connection.
type DB struct {
	*sql.DB
}

// Open creates the parent directory if needed, opens the file and pings it.
func Open(cfg config.DatabaseConfig) (*DB, error) {
	if cfg.Path == "" {
		return nil, ErrNoPath
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirMode); err != nil {
		return nil, fmt.Errorf("database: creating directory for %s: %w", cfg.Path, err)
	}

	sqlDB, err := sql.Open("sqlite3", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("database: opening %s: %w", cfg.Path, err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxIdleTime(idleTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("database: pinging %s: %w", cfg.Path, err)
	}

	// The driver honours the umask; history is owner-only.
	_ = os.Chmod(cfg.Path, fileMode)

	return &DB{DB: sqlDB}, nil
}

// dsn renders the go-sqlite3 connection string: foreign keys on, busy
// timeout in milliseconds, and WAL with NORMAL sync when enabled.
func dsn(cfg config.DatabaseConfig) string {
	q := url.Values{}
	q.Set("_foreign_keys", "on")
	q.Set("_busy_timeout", strconv.Itoa(cfg.BusyTimeout*1000))
	if cfg.WALMode {
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", "NORMAL")
	}
	return "file:" + cfg.Path + "?" + q.Encode()
}

// HealthCheck confirms the connection still answers a query.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	return nil
}

// Close is safe on a DB whose handle was never opened.
func (db *DB) Close() error {
	if db == nil || db.DB == nil {
		return nil
	}
	return db.DB.Close()
}
