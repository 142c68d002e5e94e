/*
Package sqlstore provides a database/sql implementation of inventory.Store.

PURPOSE:
  Implements every persistence interface of the stock engine on SQLite
  (mattn/go-sqlite3) or PostgreSQL (pgx stdlib). The same statements serve
  both; placeholders are rebound for PostgreSQL.

TRANSACTIONS:
  Store implements inventory.TxStore. WithTx opens one *sql.Tx and hands fn
  a Store bound to it, so a whole ledger record or process completion
  commits or rolls back as one. Nested WithTx on a bound store reuses the
  open transaction.

CONCURRENCY:
  SQLite runs with a single connection (one writer). All calls made inside
  WithTx MUST go through the bound store, or they would wait for the
  connection the transaction holds.
  PostgreSQL relies on the row lock taken by the stock compare-and-swap
  UPDATE; a lost race returns false and the Mutator re-reads.

SERIALS:
  serial_counters is advanced with INSERT ... ON CONFLICT DO UPDATE ...
  RETURNING, one atomic increment-and-read per call.

DUPLICATES:
  Document numbers use ON CONFLICT DO NOTHING and lot numbers are checked
  before the update, so a duplicate never aborts a PostgreSQL transaction.

USAGE:
  s, err := sqlstore.Open(ctx, sqlstore.Config{Driver: "sqlite", DSN: "./data/inventory.db"})
  if err != nil {
      log.Fatal(err)
  }
  defer s.Close()

SEE ALSO:
  - inventory/store.go: Interface definitions
  - inventory/store/memory.go: In-memory implementation for testing
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"

	"github.com/warp/inventory-engine/inventory"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements inventory.TxStore.
type Store struct {
	db      *sql.DB
	q       querier
	dialect Dialect
	inTx    bool
}

var _ inventory.TxStore = (*Store)(nil)

// Config selects the driver. DSN is a file path (or ":memory:") for sqlite
// and a connection string for postgres.
type Config struct {
	Driver       string
	DSN          string
	MaxOpenConns int
}

// Open connects and migrates.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	switch cfg.Driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(ctx, cfg.DSN)
	case "postgres", "pgx":
		return openPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// New opens a SQLite store at path. Use ":memory:" for an in-memory database.
func New(path string) (*Store, error) {
	return openSQLite(context.Background(), path)
}

func openSQLite(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return finishOpen(ctx, db, sqliteDialect{})
}

func openPostgres(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	return finishOpen(ctx, db, postgresDialect{})
}

func finishOpen(ctx context.Context, db *sql.DB, d Dialect) (*Store, error) {
	s := &Store{db: db, q: db, dialect: d}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", d.Name(), err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity. Used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns "sqlite" or "postgres".
func (s *Store) Driver() string { return s.dialect.Name() }

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// WithTx runs fn in one transaction.
func (s *Store) WithTx(ctx context.Context, fn func(inventory.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return inventory.Storage("begin tx", classify(err), true)
	}
	bound := &Store{db: s.db, q: tx, dialect: s.dialect, inTx: true}
	if err := fn(bound); err != nil {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rerr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return inventory.Storage("commit", classify(err), isRetryable(err))
	}
	return nil
}

// bind rewrites placeholders for the active dialect.
func (s *Store) bind(query string) string {
	if s.dialect.Name() == "postgres" {
		return Rebind(query)
	}
	return query
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := s.q.ExecContext(ctx, s.bind(query), args...)
	return res, classify(err)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := s.q.QueryContext(ctx, s.bind(query), args...)
	return rows, classify(err)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.q.QueryRowContext(ctx, s.bind(query), args...)
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

// errUnique marks a unique-constraint violation.
var errUnique = errors.New("unique constraint violation")

func isUnique(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return false
}

// isRetryable reports lock, busy, deadlock and serialization failures.
func isRetryable(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		switch pe.Code {
		case "40001", "40P01", "55P03", "57014":
			return true
		}
	}
	return false
}

// classify wraps driver errors as inventory.StorageError with the right
// retryable flag. Unique violations keep errUnique in their chain.
func classify(err error) error {
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if isUnique(err) {
		return &inventory.StorageError{Op: "write", Err: errors.Join(errUnique, err)}
	}
	return &inventory.StorageError{Op: "sql", Err: err, Retryable: isRetryable(err)}
}

func notFound(kind string, id int64, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return &inventory.NotFoundError{Kind: kind, ID: id}
	}
	return classify(err)
}

// placeholders returns "?, ?, ?" for n values.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
