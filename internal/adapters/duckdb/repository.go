package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/manthysbr/metaingest/internal/core/ports"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// DefaultLockTimeout bounds how long an operation waits for another process
// to release the database file.
const DefaultLockTimeout = 10 * time.Second

// ErrLocked is returned when the database file stayed locked by another
// process for the whole lock timeout.
var ErrLocked = errors.New("job store is locked by another process")

const schema = `
CREATE TABLE IF NOT EXISTS migration_jobs (
	job_id       VARCHAR PRIMARY KEY,
	source       VARCHAR NOT NULL,
	status       VARCHAR NOT NULL,
	started_at   TIMESTAMP NOT NULL,
	completed_at TIMESTAMP,
	metrics      VARCHAR,
	image_digest VARCHAR,
	logs_url     VARCHAR
);
`

// Repository is a single-file DuckDB job history.
//
// DuckDB lets one process at a time hold a database file open for writing,
// so a file-backed repository opens the file for each operation and closes
// it straight after. Concurrent CLI processes then take turns on the lock
// instead of failing for the whole length of a run.
type Repository struct {
	path        string
	lockTimeout time.Duration
	now         func() time.Time
	open        func(dsn string) (*sql.DB, error)

	mu  sync.Mutex
	mem *sql.DB
}

// Ensure Repository implements JobStore
var _ ports.JobStore = (*Repository)(nil)

// Option configures a Repository.
type Option func(*Repository)

// WithLockTimeout sets how long an operation waits on a locked file.
func WithLockTimeout(d time.Duration) Option {
	return func(r *Repository) {
		r.lockTimeout = d
	}
}

// NewRepository prepares the database at path, creating the file and its
// schema when needed. MemoryPath keeps one private database for the
// lifetime of the repository. The caller must Close it.
func NewRepository(path string, opts ...Option) (*Repository, error) {
	r := &Repository{
		path:        path,
		lockTimeout: DefaultLockTimeout,
		now:         time.Now,
		open:        openDB,
	}
	for _, opt := range opts {
		opt(r)
	}

	if path == MemoryPath {
		db, err := r.open("")
		if err != nil {
			return nil, fmt.Errorf("open job store %s: %w", path, err)
		}
		r.mem = db
	} else if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create job store directory: %w", err)
		}
	}

	if err := r.migrate(context.Background()); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func openDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (r *Repository) migrate(ctx context.Context) error {
	return r.withDB(ctx, func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		return nil
	})
}

// withDB runs fn against an open database. For a file it opens the file,
// retrying while another process holds the lock, and closes it once fn
// returns.
func (r *Repository) withDB(ctx context.Context, fn func(*sql.DB) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.path == MemoryPath {
		if r.mem == nil {
			return fmt.Errorf("job store %s is closed", r.path)
		}
		return fn(r.mem)
	}

	db, err := r.openLocked(ctx)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func (r *Repository) openLocked(ctx context.Context) (*sql.DB, error) {
	deadline := time.Now().Add(r.lockTimeout)
	backoff := 10 * time.Millisecond
	for {
		db, err := r.open(r.path)
		if err == nil {
			return db, nil
		}
		if !isLockConflict(err) {
			return nil, fmt.Errorf("open job store %s: %w", r.path, err)
		}

		wait := min(backoff, time.Until(deadline))
		if wait <= 0 {
			return nil, fmt.Errorf("%w: %s after %s: %v", ErrLocked, r.path, r.lockTimeout, err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("open job store %s: %w", r.path, ctx.Err())
		case <-time.After(wait):
		}
		backoff = min(backoff*2, 250*time.Millisecond)
	}
}

// isLockConflict reports whether err is DuckDB refusing a file another
// process holds.
func isLockConflict(err error) bool {
	return strings.Contains(err.Error(), "Could not set lock")
}

// Close releases the in-memory database. File-backed repositories hold
// nothing between operations.
func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mem == nil {
		return nil
	}
	err := r.mem.Close()
	r.mem = nil
	return err
}

// timestamp returns the current time at the storage resolution.
func (r *Repository) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Microsecond)
}
