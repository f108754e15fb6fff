package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"storyforge/internal/config"
	"storyforge/internal/stages"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
	schemaLockTimeout       = 10 * time.Second
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn carries the data operations shared by Store and Tx.
type conn struct {
	q        querier
	now      func() time.Time
	registry *stages.Registry
	inTx     bool
}

// Store manages Story persistence backed by SQLite.
type Store struct {
	conn
	db   *sql.DB
	path string
}

// Tx exposes the same operations as Store inside one IMMEDIATE transaction.
type Tx struct {
	conn
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps and lease checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRegistry sets the stage table the store validates stage writes against.
func WithRegistry(reg *stages.Registry) Option {
	return func(s *Store) {
		if reg != nil {
			s.registry = reg
		}
	}
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := sqliteCode(err); ok && code&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (c *conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	if c.inTx {
		return c.q.ExecContext(ctx, query, args...)
	}
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = c.q.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *conn) queryRow(ctx context.Context, scan func(*sql.Row) error, query string, args ...any) error {
	ctx = ensureContext(ctx)
	if c.inTx {
		return scan(c.q.QueryRowContext(ctx, query, args...))
	}
	return retryOnBusy(ctx, func() error {
		return scan(c.q.QueryRowContext(ctx, query, args...))
	})
}

func (c *conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	ctx = ensureContext(ctx)
	if c.inTx {
		return c.q.QueryContext(ctx, query, args...)
	}
	var rows *sql.Rows
	err := retryOnBusy(ctx, func() error {
		var queryErr error
		rows, queryErr = c.q.QueryContext(ctx, query, args...)
		return queryErr
	})
	return rows, err
}

// stampAfter returns a timestamp strictly later than prev so compare-and-swap
// on updated_at never sees the same value twice.
func (c *conn) stampAfter(prev time.Time) time.Time {
	now := c.now().UTC()
	if !now.After(prev) {
		now = prev.Add(time.Nanosecond)
	}
	return now
}

// Open initializes or connects to the story database, validating stages
// against the table named by cfg.Pipeline.StagesFile. Options apply after it.
func Open(cfg *config.Config, opts ...Option) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	reg, err := stages.FromFile(cfg.Pipeline.StagesFile)
	if err != nil {
		return nil, fmt.Errorf("load stage table: %w", err)
	}
	return OpenPath(cfg.DatabasePath(), append([]Option{WithRegistry(reg)}, opts...)...)
}

// OpenPath opens the database file at dbPath, creating the schema on first use.
func OpenPath(dbPath string, opts ...Option) (*Store, error) {
	dsn := "file:" + dbPath +
		"?_txlock=immediate" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	store := &Store{
		conn: conn{q: db, now: time.Now, registry: stages.Default()},
		db:   db,
		path: dbPath,
	}
	for _, opt := range opts {
		opt(store)
	}

	if err := store.initSchemaLocked(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// initSchemaLocked serializes first-run schema creation across processes
// sharing the database file.
func (s *Store) initSchemaLocked() error {
	ctx, cancel := context.WithTimeout(context.Background(), schemaLockTimeout)
	defer cancel()

	lock := flock.New(s.path + ".lock")
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	if !locked {
		return errors.New("acquire schema lock: timed out")
	}
	defer func() { _ = lock.Unlock() }()

	return s.initSchema(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Registry returns the stage table the store validates against.
func (s *Store) Registry() *stages.Registry {
	return s.registry
}

// Now returns the store clock reading.
func (c *conn) Now() time.Time {
	return c.now().UTC()
}

// WithTx runs fn inside one IMMEDIATE transaction. fn's error rolls the
// transaction back and is returned unchanged. A busy database is retried with
// backoff, so fn may run more than once and must not have effects outside tx.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		sqlTx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		tx := &Tx{conn: conn{q: sqlTx, now: s.now, registry: s.registry, inTx: true}}
		if err := fn(tx); err != nil {
			_ = sqlTx.Rollback()
			return err
		}
		if err := sqlTx.Commit(); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}
