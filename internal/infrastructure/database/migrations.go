package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"
)

// ErrNoDownSQL is returned by MigrateDown when the newest applied
// migration has no .down.sql file.
var ErrNoDownSQL = errors.New("database: migration cannot be rolled back")

// Migration is one versioned schema change. Files are named
// YYYYMMDD_HHMMSS_description.up.sql with an optional .down.sql twin.
type Migration struct {
	Version string
	Name    string
	UpSQL   string
	DownSQL string
}

const createLedger = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version    TEXT PRIMARY KEY,
	applied_at TEXT NOT NULL
)`

// Migrate applies, oldest first, every migration in fsys not yet listed in
// schema_migrations. Each runs in its own transaction, so a failure keeps
// the ones before it.
func (db *DB) Migrate(ctx context.Context, fsys fs.FS) error {
	if _, err := db.ExecContext(ctx, createLedger); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}
	all, err := LoadMigrations(fsys)
	if err != nil {
		return err
	}
	done, err := db.appliedVersions(ctx)
	if err != nil {
		return err
	}

	for _, m := range all {
		if _, ok := done[m.Version]; ok {
			continue
		}
		err := db.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
				m.Version, time.Now().UTC().Format(time.RFC3339))
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %s_%s: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// MigrateDown reverts the newest applied migration and returns its
// version, or "" when nothing has been applied.
func (db *DB) MigrateDown(ctx context.Context, fsys fs.FS) (string, error) {
	if _, err := db.ExecContext(ctx, createLedger); err != nil {
		return "", fmt.Errorf("creating schema_migrations: %w", err)
	}
	var latest string
	if err := db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), '') FROM schema_migrations").Scan(&latest); err != nil {
		return "", fmt.Errorf("reading schema_migrations: %w", err)
	}
	if latest == "" {
		return "", nil
	}

	all, err := LoadMigrations(fsys)
	if err != nil {
		return "", err
	}
	i := slices.IndexFunc(all, func(m Migration) bool { return m.Version == latest })
	if i < 0 {
		return "", fmt.Errorf("database: applied migration %s is not in the migration set", latest)
	}
	m := all[i]
	if m.DownSQL == "" {
		return "", fmt.Errorf("%w: %s_%s", ErrNoDownSQL, m.Version, m.Name)
	}

	err = db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, m.DownSQL); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", m.Version)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("reverting %s_%s: %w", m.Version, m.Name, err)
	}
	return m.Version, nil
}

func (db *DB) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (db *DB) appliedVersions(ctx context.Context) (map[string]struct{}, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("reading schema_migrations: %w", err)
	}
	defer rows.Close()

	done := make(map[string]struct{})
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		done[v] = struct{}{}
	}
	return done, rows.Err()
}

// LoadMigrations reads the migration files at the root of fsys, sorted by
// version. Other files are ignored; a version without up SQL is an error.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}

	found := make(map[string]*Migration)
	for _, e := range entries {
		version, name, up, ok := parseMigrationFilename(e.Name())
		if e.IsDir() || !ok {
			continue
		}
		body, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		m := found[version]
		if m == nil {
			m = &Migration{Version: version, Name: name}
			found[version] = m
		}
		if up {
			m.UpSQL = string(body)
		} else {
			m.DownSQL = string(body)
		}
	}

	out := make([]Migration, 0, len(found))
	for _, m := range found {
		if m.UpSQL == "" {
			return nil, fmt.Errorf("database: migration %s has no up SQL", m.Version)
		}
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b Migration) int { return strings.Compare(a.Version, b.Version) })
	return out, nil
}

// parseMigrationFilename splits "20260118_120000_initial_schema.up.sql"
// into version "20260118_120000", name "initial_schema" and direction.
// Without a description the name is the version.
func parseMigrationFilename(filename string) (version, name string, up, ok bool) {
	stem, isSQL := strings.CutSuffix(filename, ".sql")
	if !isSQL {
		return "", "", false, false
	}
	if s, cut := strings.CutSuffix(stem, ".up"); cut {
		stem, up = s, true
	} else if s, cut := strings.CutSuffix(stem, ".down"); cut {
		stem = s
	} else {
		return "", "", false, false
	}

	date, rest, found := strings.Cut(stem, "_")
	if !found {
		return "", "", false, false
	}
	clock, desc, _ := strings.Cut(rest, "_")
	version = date + "_" + clock
	name = desc
	if name == "" {
		name = version
	}
	return version, name, up, true
}
