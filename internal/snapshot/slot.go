// Package snapshot persists a serialized copy of the record set to a local
// SQLite slot so a restart can seed the store before any network fetch.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"tradeboard/internal/domain"
	"tradeboard/internal/observability"
)

// Snapshot errors. Callers log and ignore them; a corrupt or stale
// snapshot is discarded, never thrown at the user.
var (
	ErrEmpty   = errors.New("snapshot: slot is empty")
	ErrStale   = errors.New("snapshot: slot is older than the freshness window")
	ErrCorrupt = errors.New("snapshot: payload could not be decoded")
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS snapshot (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	payload TEXT NOT NULL,
	saved_at TIMESTAMP NOT NULL
);`

// payload is the serialized slot contents.
type payload struct {
	Records []*domain.TradeRecord `json:"records"`
	SavedAt time.Time             `json:"timestamp"`
}

// Slot is a single-row durability slot.
type Slot struct {
	db *sql.DB
}

// Open opens (creating if needed) the slot at the given path.
func Open(path string) (*Slot, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot db: %w", err)
	}

	// WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("snapshot schema: %w", err)
	}

	return &Slot{db: db}, nil
}

// Close closes the underlying database.
func (s *Slot) Close() error {
	return s.db.Close()
}

// Save overwrites the slot with the given records.
func (s *Slot) Save(ctx context.Context, records []*domain.TradeRecord, savedAt time.Time) error {
	body, err := json.Marshal(payload{Records: records, SavedAt: savedAt})
	if err != nil {
		observability.RecordSnapshotOp("save", "error")
		return fmt.Errorf("encode snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshot (id, payload, saved_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload,
			saved_at = excluded.saved_at`,
		string(body), savedAt,
	)
	if err != nil {
		observability.RecordSnapshotOp("save", "error")
		return fmt.Errorf("write snapshot: %w", err)
	}
	observability.RecordSnapshotOp("save", "success")
	return nil
}

// Load returns the stored records when the slot is present and not older
// than maxAge. ErrEmpty, ErrStale and ErrCorrupt are expected conditions,
// not failures.
func (s *Slot) Load(ctx context.Context, maxAge time.Duration) ([]*domain.TradeRecord, time.Time, error) {
	var body string
	var savedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, saved_at FROM snapshot WHERE id = 1`,
	).Scan(&body, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		observability.RecordSnapshotOp("load", "empty")
		return nil, time.Time{}, ErrEmpty
	}
	if err != nil {
		observability.RecordSnapshotOp("load", "error")
		return nil, time.Time{}, fmt.Errorf("read snapshot: %w", err)
	}

	if time.Since(savedAt) > maxAge {
		observability.RecordSnapshotOp("load", "stale")
		return nil, savedAt, ErrStale
	}

	var p payload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		observability.RecordSnapshotOp("load", "corrupt")
		return nil, savedAt, ErrCorrupt
	}

	observability.RecordSnapshotOp("load", "success")
	return p.Records, savedAt, nil
}
