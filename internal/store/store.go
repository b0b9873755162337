package store

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"
	"text/template"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/roach88/vdoc/internal/querysql"
	"github.com/roach88/vdoc/internal/row"
)

var (
	//go:embed schema_sqlite.sql
	sqliteSchema string
	//go:embed schema_postgres.sql
	postgresSchema string

	sqliteSchemaTmpl   = template.Must(template.New("sqlite").Parse(sqliteSchema))
	postgresSchemaTmpl = template.Must(template.New("postgres").Parse(postgresSchema))
)

// Schema version tracking for SQLite files (PRAGMA user_version):
// 1 - versioned row tables with seq tie-break
const currentSchemaVersion = 1

// DefaultTable is the row table used when none is configured.
const DefaultTable = "documents"

// Store is a versioned row store over one database.
//
// Thread-safety: safe for concurrent use. SQLite stores serialize all work
// through a single connection.
type Store struct {
	db      *sql.DB
	dialect querysql.Dialect
	logger  *zap.Logger

	mu        sync.Mutex
	compilers map[string]*querysql.Compiler
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open creates or opens a SQLite database at the given path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, row.NewConnectionError("open sqlite", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, row.NewConnectionError("open sqlite", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := checkSchemaVersion(db); err != nil {
		db.Close()
		return nil, err
	}
	return newStore(db, querysql.SQLite, opts), nil
}

// OpenPostgres connects to PostgreSQL using a lib/pq connection string.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, row.NewConnectionError("open postgres", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, row.NewConnectionError("open postgres", err)
	}
	return newStore(db, querysql.Postgres, opts), nil
}

// OpenDriver opens a store by driver name ("sqlite" or "postgres").
func OpenDriver(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	d, err := querysql.DialectByName(driver)
	if err != nil {
		return nil, row.NewValidationError("open store", err.Error())
	}
	if d == querysql.Postgres {
		return OpenPostgres(ctx, dsn, opts...)
	}
	return Open(dsn, opts...)
}

func newStore(db *sql.DB, d querysql.Dialect, opts []Option) *Store {
	s := &Store{
		db:        db,
		dialect:   d,
		logger:    zap.NewNop(),
		compilers: make(map[string]*querysql.Compiler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB. The oplog and the transaction stager
// share the local database through it.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the SQL dialect of the store.
func (s *Store) Dialect() querysql.Dialect {
	return s.dialect
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// EnsureTable creates the row table if it does not exist.
func (s *Store) EnsureTable(ctx context.Context, table string) error {
	_, err := s.compiler(ctx, s.db, table)
	return err
}

// InTx runs fn inside a database transaction, committing when fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin tx", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("commit tx", err)
	}
	return nil
}

// compiler returns the compiler for table, creating the table through ex on
// first use. Within a transaction ex must be the transaction itself: a
// SQLite store has a single connection.
func (s *Store) compiler(ctx context.Context, ex Execer, table string) (*querysql.Compiler, error) {
	s.mu.Lock()
	c, ok := s.compilers[table]
	s.mu.Unlock()
	if ok {
		return c, nil
	}

	c, err := querysql.New(s.dialect, table)
	if err != nil {
		return nil, err
	}
	tmpl := sqliteSchemaTmpl
	if s.dialect == querysql.Postgres {
		tmpl = postgresSchemaTmpl
	}
	var ddl bytes.Buffer
	if err := tmpl.Execute(&ddl, struct{ Table string }{table}); err != nil {
		return nil, fmt.Errorf("render schema: %w", err)
	}
	if _, err := ex.ExecContext(ctx, ddl.String()); err != nil {
		return nil, classify("create table "+table, err)
	}

	s.mu.Lock()
	s.compilers[table] = c
	s.mu.Unlock()
	s.logger.Debug("row table ready", zap.String("table", table), zap.String("dialect", s.dialect.Name()))
	return c, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// checkSchemaVersion refuses files written by a newer schema and stamps
// fresh files with the current version.
func checkSchemaVersion(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, currentSchemaVersion)
	}
	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
