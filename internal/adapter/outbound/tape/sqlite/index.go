// Package sqlite indexes tape metadata (tape_id -> file path, session,
// duration) for the "tapes list"/"tapes inspect" CLI subcommands. The tape
// frame log itself always stays in tape's flat append-only file format;
// this index never stores frames, only enough metadata to find a tape file
// quickly without scanning a directory.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tapwire/gateway/internal/domain/recorder"
)

const schema = `
CREATE TABLE IF NOT EXISTS tapes (
	tape_id          TEXT PRIMARY KEY,
	session_id       TEXT NOT NULL,
	path             TEXT NOT NULL,
	protocol_version TEXT NOT NULL,
	transport_type   TEXT NOT NULL,
	created_at       TEXT NOT NULL,
	duration_ms      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tapes_session ON tapes(session_id);
CREATE INDEX IF NOT EXISTS idx_tapes_created ON tapes(created_at);
`

// Index is a sqlite-backed metadata index over recorded tapes.
type Index struct {
	db *sql.DB
}

// Open opens (creating if necessary) a sqlite index database at path.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open tape index: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate tape index schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Close closes the underlying database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// TapeEntry is one row of the tape index: metadata plus the on-disk path to
// the tape's frame log.
type TapeEntry struct {
	recorder.TapeMetadata
	Path string
}

// Register records (or replaces) a finalized tape's metadata in the index.
func (idx *Index) Register(ctx context.Context, entry TapeEntry) error {
	_, err := idx.db.ExecContext(ctx, `
		INSERT INTO tapes (tape_id, session_id, path, protocol_version, transport_type, created_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tape_id) DO UPDATE SET
			session_id = excluded.session_id,
			path = excluded.path,
			protocol_version = excluded.protocol_version,
			transport_type = excluded.transport_type,
			created_at = excluded.created_at,
			duration_ms = excluded.duration_ms
	`, entry.TapeID, entry.SessionID, entry.Path, entry.ProtocolVersion, entry.TransportType,
		entry.CreatedAt.UTC().Format(time.RFC3339Nano), entry.DurationMs)
	if err != nil {
		return fmt.Errorf("register tape: %w", err)
	}
	return nil
}

// Get looks up a single tape by ID.
func (idx *Index) Get(ctx context.Context, tapeID string) (*TapeEntry, error) {
	row := idx.db.QueryRowContext(ctx, `
		SELECT tape_id, session_id, path, protocol_version, transport_type, created_at, duration_ms
		FROM tapes WHERE tape_id = ?
	`, tapeID)
	entry, err := scanTapeEntry(row)
	if err != nil {
		return nil, fmt.Errorf("get tape %s: %w", tapeID, err)
	}
	return entry, nil
}

// List returns every indexed tape, most recently created first.
func (idx *Index) List(ctx context.Context) ([]TapeEntry, error) {
	rows, err := idx.db.QueryContext(ctx, `
		SELECT tape_id, session_id, path, protocol_version, transport_type, created_at, duration_ms
		FROM tapes ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list tapes: %w", err)
	}
	defer rows.Close()

	var entries []TapeEntry
	for rows.Next() {
		entry, err := scanTapeEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tape row: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// rowScanner abstracts *sql.Row and *sql.Rows, both of which implement Scan.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTapeEntry(row rowScanner) (*TapeEntry, error) {
	var entry TapeEntry
	var createdAt string
	if err := row.Scan(&entry.TapeID, &entry.SessionID, &entry.Path, &entry.ProtocolVersion,
		&entry.TransportType, &createdAt, &entry.DurationMs); err != nil {
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	entry.CreatedAt = ts
	return &entry, nil
}
