// Package history implements the Transfer History Ledger: a small,
// append-only log of completed/failed/cancelled transfers, backed by
// SQLite the way the teacher's storage.Store backs its message and file
// tables, so an external UI surface can show "recent activity" across
// restarts.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"goairdrop/model"
)

// ErrNotFound indicates a lookup found no matching row.
var ErrNotFound = errors.New("history: not found")

// DefaultDBFileName is the SQLite filename under the data directory.
const DefaultDBFileName = "history.db"

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS transfer_history (
  transfer_id        TEXT PRIMARY KEY,
  peer_id            TEXT NOT NULL,
  peer_display_name  TEXT NOT NULL,
  direction          TEXT NOT NULL CHECK(direction IN ('send','receive')),
  file_count         INTEGER NOT NULL,
  total_bytes        INTEGER NOT NULL,
  outcome            TEXT NOT NULL,
  completed_at       INTEGER NOT NULL
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_transfer_history_completed_at
ON transfer_history (completed_at DESC, transfer_id);
`,
}

// Entry is one row of recorded transfer history.
type Entry struct {
	TransferID      string
	PeerID          string
	PeerDisplayName string
	Direction       model.TransferDirection
	FileCount       int
	TotalBytes      int64
	Outcome         model.TransferState
	CompletedAt     time.Time
}

// Store is a thin, single-writer wrapper around a SQLite connection
// holding the transfer_history table.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) history.db under dataDir and applies migrations.
func Open(dataDir string) (*Store, string, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create history directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, DefaultDBFileName)

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, "", fmt.Errorf("open history database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, "", fmt.Errorf("apply history migration: %w", err)
		}
	}

	return &Store{db: db}, dbPath, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordTerminal appends one history entry for a transfer that has just
// reached a terminal state. Called once per transfer from the Transfer
// State Machine's terminal hook.
func (s *Store) RecordTerminal(record model.TransferRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	completedAt := record.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO transfer_history
		 (transfer_id, peer_id, peer_display_name, direction, file_count, total_bytes, outcome, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.TransferID,
		record.Peer.PeerID,
		record.Peer.DisplayName,
		string(record.Direction),
		len(record.Files),
		record.TotalBytes,
		string(record.State),
		completedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("record transfer history: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, most recently completed first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT transfer_id, peer_id, peer_display_name, direction, file_count, total_bytes, outcome, completed_at
		 FROM transfer_history ORDER BY completed_at DESC, transfer_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query transfer history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var direction, outcome string
		var completedAt int64
		if err := rows.Scan(&e.TransferID, &e.PeerID, &e.PeerDisplayName, &direction, &e.FileCount, &e.TotalBytes, &outcome, &completedAt); err != nil {
			return nil, fmt.Errorf("scan transfer history row: %w", err)
		}
		e.Direction = model.TransferDirection(direction)
		e.Outcome = model.TransferState(outcome)
		e.CompletedAt = time.Unix(completedAt, 0)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ByID looks up one history entry by transfer id.
func (s *Store) ByID(transferID string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(
		`SELECT transfer_id, peer_id, peer_display_name, direction, file_count, total_bytes, outcome, completed_at
		 FROM transfer_history WHERE transfer_id = ?`, transferID)

	var e Entry
	var direction, outcome string
	var completedAt int64
	if err := row.Scan(&e.TransferID, &e.PeerID, &e.PeerDisplayName, &direction, &e.FileCount, &e.TotalBytes, &outcome, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("query transfer history row: %w", err)
	}
	e.Direction = model.TransferDirection(direction)
	e.Outcome = model.TransferState(outcome)
	e.CompletedAt = time.Unix(completedAt, 0)
	return e, nil
}
