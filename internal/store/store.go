// Package store provides SQLite-backed download history for fetchpool.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fentz26/fetchpool/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// DefaultHistoryLimit caps ListHistory when no limit is given.
const DefaultHistoryLimit = 100

// Store provides access to the fetchpool SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS history (
		id TEXT PRIMARY KEY,
		serial_id INTEGER NOT NULL,
		tag TEXT,
		uri TEXT NOT NULL,
		path TEXT NOT NULL,
		outcome TEXT NOT NULL,
		length INTEGER NOT NULL DEFAULT 0,
		message TEXT,
		finished_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS actions (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		serial_id INTEGER,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_outcome ON history(outcome);
	CREATE INDEX IF NOT EXISTS idx_history_finished_at ON history(finished_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- History Operations ---

// RecordHistory inserts a finished download. ID and FinishedAt are filled
// when empty.
func (s *Store) RecordHistory(entry *models.HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.FinishedAt.IsZero() {
		entry.FinishedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(
		`INSERT INTO history (id, serial_id, tag, uri, path, outcome, length, message, finished_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.SerialID, entry.Tag, entry.URI, entry.Path, entry.Outcome, entry.Length, entry.Message, entry.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// ListHistory returns the newest entries first, optionally filtered by
// outcome.
func (s *Store) ListHistory(outcome models.Outcome, limit int) ([]models.HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	query := `SELECT id, serial_id, tag, uri, path, outcome, length, message, finished_at FROM history`
	var args []interface{}
	if outcome != "" {
		query += ` WHERE outcome = ?`
		args = append(args, outcome)
	}
	query += ` ORDER BY finished_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		var tag, message sql.NullString
		if err := rows.Scan(&e.ID, &e.SerialID, &tag, &e.URI, &e.Path, &e.Outcome, &e.Length, &message, &e.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Tag = tag.String
		e.Message = message.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountHistory returns the number of entries per outcome.
func (s *Store) CountHistory() (map[models.Outcome]int, error) {
	rows, err := s.db.Query(`SELECT outcome, COUNT(*) FROM history GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("count history: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Outcome]int)
	for rows.Next() {
		var outcome models.Outcome
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}

// --- Action Operations ---

// WriteAction writes an audit record for a control plane call.
func (s *Store) WriteAction(action, inputsHash, outcome string, serialID int, details string) (*models.ActionRecord, error) {
	rec := &models.ActionRecord{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		SerialID:   serialID,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO actions (id, action, inputs_hash, outcome, serial_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Action, rec.InputsHash, rec.Outcome, rec.SerialID, rec.Details, rec.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert action: %w", err)
	}
	return rec, nil
}

// ListActions returns the newest action records first.
func (s *Store) ListActions(limit int) ([]models.ActionRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := s.db.Query(
		`SELECT id, action, inputs_hash, outcome, serial_id, details, timestamp FROM actions ORDER BY timestamp DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var recs []models.ActionRecord
	for rows.Next() {
		var r models.ActionRecord
		var serialID sql.NullInt64
		var details sql.NullString
		if err := rows.Scan(&r.ID, &r.Action, &r.InputsHash, &r.Outcome, &serialID, &details, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		r.SerialID = int(serialID.Int64)
		r.Details = details.String
		recs = append(recs, r)
	}
	return recs, rows.Err()
}
