// Package history keeps a local log of the signatures a device produced.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Kind is what was signed.
type Kind string

const (
	KindTransaction Kind = "transaction"
	KindMessage     Kind = "message"
)

var (
	ErrNotFound       = errors.New("signature not found")
	ErrNotInitialized = errors.New("history store not initialized")
)

// Entry is one recorded signature.
type Entry struct {
	Network   string
	Signature string // base-58
	PublicKey string // base-58
	Path      string
	Kind      Kind
	Size      int // signed message length in bytes
	CreatedAt time.Time
}

// Store persists signature entries. Recording the same signature on the
// same network twice keeps one row.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the history DB under dataDir/history.db.
func Open(dataDir string) (*Store, error) {
	return OpenDSN(filepath.Join(dataDir, "history.db"))
}

// OpenDSN opens a history DB using the given sqlite DSN or path. Tests may
// pass ":memory:".
func OpenDSN(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// Every pooled connection to :memory: would see its own database.
	db.SetMaxOpenConns(1)

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS signatures (
	network TEXT NOT NULL,
	signature TEXT NOT NULL,
	public_key TEXT NOT NULL,
	path TEXT NOT NULL,
	kind TEXT NOT NULL,
	size INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (network, signature)
);
CREATE INDEX IF NOT EXISTS signatures_created_at ON signatures (created_at);
`)
	if err != nil {
		return fmt.Errorf("create signatures table: %w", err)
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record stores e, stamping CreatedAt when it is zero.
func (s *Store) Record(e Entry) error {
	if s == nil || s.db == nil {
		return ErrNotInitialized
	}
	if e.Network == "" || e.Signature == "" {
		return fmt.Errorf("network and signature are required")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}

	_, err := s.db.Exec(`
INSERT INTO signatures (network, signature, public_key, path, kind, size, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(network, signature) DO UPDATE SET
	public_key=excluded.public_key,
	path=excluded.path,
	kind=excluded.kind,
	size=excluded.size
`, e.Network, e.Signature, e.PublicKey, e.Path, string(e.Kind), e.Size, e.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("persist signature: %w", err)
	}
	return nil
}

const selectColumns = `SELECT network, signature, public_key, path, kind, size, created_at FROM signatures`

// Get returns the entry for a signature on a network.
func (s *Store) Get(network, signature string) (*Entry, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotInitialized
	}
	row := s.db.QueryRow(selectColumns+` WHERE network = ? AND signature = ?`, network, signature)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, signature)
	}
	return e, err
}

// List returns up to limit entries, newest first. A limit of zero or less
// returns everything.
func (s *Store) List(limit int) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotInitialized
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(selectColumns+` ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query signatures: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (*Entry, error) {
	var (
		e       Entry
		kind    string
		created int64
	)
	if err := sc.Scan(&e.Network, &e.Signature, &e.PublicKey, &e.Path, &kind, &e.Size, &created); err != nil {
		return nil, err
	}
	e.Kind = Kind(kind)
	e.CreatedAt = time.Unix(0, created)
	return &e, nil
}
