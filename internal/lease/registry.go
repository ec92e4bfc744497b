// Package lease arbitrates which running instance may act on a display output.
//
// Leases live in a small SQLite file in the user's runtime directory so that
// every instance on the session sees the same table. Acquisition is an
// unconditional overwrite: the most recent claim for an output always wins.
package lease

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DBName is the registry file name inside the runtime directory
const DBName = "leases.db"

// ErrSuperseded reports that every output this instance claimed now belongs to a newer instance
var ErrSuperseded = errors.New("lease superseded")

// Lease is one row of the registry
type Lease struct {
	OutputID   string    `json:"output_id"`
	Holder     string    `json:"holder"`
	Epoch      int64     `json:"epoch"`
	AcquiredAt time.Time `json:"acquired_at"`
	PID        int       `json:"pid"`
}

const schema = `
CREATE TABLE IF NOT EXISTS leases (
	output_id TEXT PRIMARY KEY,
	holder TEXT NOT NULL,
	epoch INTEGER NOT NULL,
	acquired_at TEXT NOT NULL,
	pid INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS lease_epoch (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	value INTEGER NOT NULL
);

INSERT OR IGNORE INTO lease_epoch(id, value) VALUES (1, 0);
`

// Registry is the shared lease table
type Registry struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens (creating if needed) the registry database at path
func Open(ctx context.Context, path string) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("apply lease schema: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("chmod registry: %w", err)
	}
	return &Registry{db: db, path: path, now: time.Now}, nil
}

// Path returns the database file path
func (r *Registry) Path() string {
	return r.path
}

// Close closes the database handle
func (r *Registry) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Acquire claims every token for holder in one transaction, overwriting
// whatever instance held them before. All rows share a fresh epoch that is
// greater than every epoch handed out so far.
func (r *Registry) Acquire(ctx context.Context, holder string, tokens []string) (int64, error) {
	if holder == "" {
		return 0, fmt.Errorf("acquire lease: empty holder")
	}
	if len(tokens) == 0 {
		return 0, fmt.Errorf("acquire lease: no outputs")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin acquire: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var epoch int64
	if err := tx.QueryRowContext(ctx,
		`UPDATE lease_epoch SET value = value + 1 WHERE id = 1 RETURNING value`,
	).Scan(&epoch); err != nil {
		return 0, fmt.Errorf("next lease epoch: %w", err)
	}

	acquiredAt := r.now().UTC().Format(time.RFC3339Nano)
	pid := os.Getpid()
	for _, token := range tokens {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO leases(output_id, holder, epoch, acquired_at, pid)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(output_id) DO UPDATE SET
	holder=excluded.holder,
	epoch=excluded.epoch,
	acquired_at=excluded.acquired_at,
	pid=excluded.pid
`, token, holder, epoch, acquiredAt, pid); err != nil {
			return 0, fmt.Errorf("upsert lease %q: %w", token, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit acquire: %w", err)
	}
	return epoch, nil
}

// Leases lists every row ordered by output
func (r *Registry) Leases(ctx context.Context) ([]Lease, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT output_id, holder, epoch, acquired_at, pid FROM leases ORDER BY output_id`)
	if err != nil {
		return nil, fmt.Errorf("query leases: %w", err)
	}
	defer rows.Close()

	var out []Lease
	for rows.Next() {
		var (
			l          Lease
			acquiredAt string
		)
		if err := rows.Scan(&l.OutputID, &l.Holder, &l.Epoch, &acquiredAt, &l.PID); err != nil {
			return nil, fmt.Errorf("scan lease: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, acquiredAt); err == nil {
			l.AcquiredAt = t
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leases: %w", err)
	}
	return out, nil
}

// Ownership resolves what holder currently owns out of the tokens it claimed
func (r *Registry) Ownership(ctx context.Context, holder string, claimed []string) (Ownership, error) {
	rows, err := r.Leases(ctx)
	if err != nil {
		return Ownership{}, err
	}
	return Resolve(rows, holder, claimed), nil
}

// Release drops the rows still held by holder. Rows already taken over by
// another instance are left alone.
func (r *Registry) Release(ctx context.Context, holder string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM leases WHERE holder = ?`, holder)
	if err != nil {
		return 0, fmt.Errorf("release leases: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("release leases: %w", err)
	}
	return n, nil
}
