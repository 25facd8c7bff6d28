package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/houseflow-core/internal/accessory"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// ErrInvalidRetention is returned by Prune for a non-positive retention.
var ErrInvalidRetention = errors.New("history: retention must be positive")

// Entry is one recorded characteristic value.
type Entry struct {
	ID             int64                    `json:"id"`
	AccessoryID    uuid.UUID                `json:"accessory-id"`
	ServiceName    accessory.ServiceName    `json:"service-name"`
	Characteristic accessory.Characteristic `json:"characteristic"`
	RecordedAt     time.Time                `json:"recorded-at"`
}

// Repository stores characteristic history in SQLite.
type Repository struct {
	db *sql.DB
}

// NewRepository returns a repository over an open, migrated database.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Record inserts one characteristic value.
func (r *Repository) Record(ctx context.Context, accessoryID uuid.UUID, service accessory.ServiceName, c accessory.Characteristic, at time.Time) error {
	value, err := accessory.MarshalCharacteristic(c)
	if err != nil {
		return fmt.Errorf("marshalling characteristic: %w", err)
	}

	var numeric sql.NullFloat64
	if v, ok := accessory.Numeric(c); ok {
		numeric = sql.NullFloat64{Float64: v, Valid: true}
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO characteristic_history
		 (accessory_id, service_name, characteristic_name, value, numeric_value, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		accessoryID.String(),
		string(service),
		string(c.Name()),
		string(value),
		numeric,
		at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting characteristic history: %w", err)
	}
	return nil
}

// RecordConnectivity inserts a connect or disconnect transition.
func (r *Repository) RecordConnectivity(ctx context.Context, accessoryID uuid.UUID, online bool, at time.Time) error {
	flag := 0
	if online {
		flag = 1
	}
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO connectivity_log (accessory_id, online, recorded_at) VALUES (?, ?, ?)",
		accessoryID.String(), flag, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting connectivity log: %w", err)
	}
	return nil
}

// History returns recent entries for an accessory, newest first.
// limit defaults to 50 and is capped at 500.
func (r *Repository) History(ctx context.Context, accessoryID uuid.UUID, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, service_name, value, recorded_at
		 FROM characteristic_history
		 WHERE accessory_id = ?
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT ?`,
		accessoryID.String(),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying characteristic history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		entry := Entry{AccessoryID: accessoryID}
		var service, value string
		var recordedAt int64

		if err := rows.Scan(&entry.ID, &service, &value, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning characteristic history: %w", err)
		}
		entry.ServiceName = accessory.ServiceName(service)
		entry.RecordedAt = time.UnixMilli(recordedAt).UTC()

		entry.Characteristic, err = accessory.UnmarshalCharacteristic([]byte(value))
		if err != nil {
			return nil, fmt.Errorf("decoding history row %d: %w", entry.ID, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating characteristic history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries recorded before now-retention and returns the
// number of characteristic rows removed.
func (r *Repository) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, ErrInvalidRetention
	}
	cutoff := time.Now().Add(-retention).UnixMilli()

	result, err := r.db.ExecContext(ctx, "DELETE FROM characteristic_history WHERE recorded_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting characteristic history: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, "DELETE FROM connectivity_log WHERE recorded_at < ?", cutoff); err != nil {
		return 0, fmt.Errorf("deleting connectivity log: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
