package internal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lychee-technology/formsync"
	_ "modernc.org/sqlite"
)

const watermarkSchema = `
CREATE TABLE IF NOT EXISTS sync_watermarks (
	form_id    TEXT PRIMARY KEY,
	synced_at  TEXT NOT NULL,
	updated_at TEXT NOT NULL
);`

// watermarkLayout stores the wall clock of a watermark without a zone.
const watermarkLayout = "2006-01-02 15:04:05.999999999"

// SQLiteWatermarkStore persists per-form sync watermarks in a local SQLite file.
// Watermarks are wall clocks in the source database's session frame; their zone is
// dropped on write and they read back as UTC-located values with the same fields.
type SQLiteWatermarkStore struct {
	db *sql.DB
}

var _ formsync.WatermarkStore = (*SQLiteWatermarkStore)(nil)

// OpenWatermarkStore opens or creates the store at path. ":memory:" keeps it in memory.
func OpenWatermarkStore(path string) (*SQLiteWatermarkStore, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create watermark directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open watermark store: %w", err)
	}
	// one writer; also keeps a :memory: database on a single connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(watermarkSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize watermark store: %w", err)
	}
	return &SQLiteWatermarkStore{db: db}, nil
}

// Get returns the watermark of formID and whether one is recorded.
func (s *SQLiteWatermarkStore) Get(ctx context.Context, formID string) (time.Time, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT synced_at FROM sync_watermarks WHERE form_id = ?`, formID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read watermark for form %s: %w", formID, err)
	}
	at, err := parseWatermark(raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt watermark for form %s: %w", formID, err)
	}
	return at, true, nil
}

// Set records at as the watermark of formID.
func (s *SQLiteWatermarkStore) Set(ctx context.Context, formID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_watermarks (form_id, synced_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(form_id) DO UPDATE SET synced_at = excluded.synced_at, updated_at = excluded.updated_at`,
		formID, wallClock(at).Format(watermarkLayout), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to write watermark for form %s: %w", formID, err)
	}
	return nil
}

// Delete forgets the watermark of formID so its next pass is a full sync.
func (s *SQLiteWatermarkStore) Delete(ctx context.Context, formID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_watermarks WHERE form_id = ?`, formID); err != nil {
		return fmt.Errorf("failed to delete watermark for form %s: %w", formID, err)
	}
	return nil
}

// List returns every recorded watermark.
func (s *SQLiteWatermarkStore) List(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT form_id, synced_at FROM sync_watermarks ORDER BY form_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list watermarks: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan watermark: %w", err)
		}
		at, err := parseWatermark(raw)
		if err != nil {
			continue
		}
		out[id] = at
	}
	return out, rows.Err()
}

// parseWatermark reads a stored wall clock. Zoned RFC 3339 values keep their own fields.
func parseWatermark(raw string) (time.Time, error) {
	if at, err := time.Parse(watermarkLayout, raw); err == nil {
		return at, nil
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}
	return wallClock(at), nil
}

// Close closes the underlying database.
func (s *SQLiteWatermarkStore) Close() error {
	return s.db.Close()
}
