// Package sqlite implements the tree repositories on SQLite.
// Schema changes are applied through embedded golang-migrate migrations on
// open; a .bak copy of the database file is taken before migrating.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/arborworks/arbor/internal/domain/tree"
	"github.com/arborworks/arbor/internal/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps the SQLite connection and hands out repositories.
type DB struct {
	conn *sql.DB
}

// NewDB opens (or creates) the database at path, enables WAL mode and runs
// pending migrations. The parent directory is created with 0700 permissions
// if missing.
func NewDB(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// Keep a pre-migration copy of an existing database.
	if _, err := os.Stat(path); err == nil {
		if err := backupFile(path, path+".bak"); err != nil {
			return nil, fmt.Errorf("backing up database: %w", err)
		}
	}

	dsn := "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := runMigrations(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	log.Debug(log.CatDB, "Database opened", "path", path)
	return &DB{conn: conn}, nil
}

// NewMemoryDB opens a private in-memory database with migrations applied.
// Intended for tests; the pool is capped at one connection so every query
// sees the same database.
func NewMemoryDB() (*DB, error) {
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening memory database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if err := runMigrations(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &DB{conn: conn}, nil
}

// runMigrations applies all pending embedded migrations.
func runMigrations(conn *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(conn, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// backupFile copies src to dst, replacing any previous backup.
func backupFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // G304: src is the configured db path
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600) //nolint:gosec // G304
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// Connection returns the underlying *sql.DB.
func (d *DB) Connection() *sql.DB {
	return d.conn
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// querier is satisfied by both *sql.DB and *sql.Tx so repositories run
// unchanged inside and outside transactions.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// store bundles the repositories over one querier.
type store struct {
	q querier
}

var _ tree.Store = (*store)(nil)

func (s *store) Messages() tree.MessageRepository      { return &messageRepository{q: s.q} }
func (s *store) TreeStates() tree.TreeStateRepository  { return &treeStateRepository{q: s.q} }
func (s *store) Tasks() tree.TaskRepository            { return &taskRepository{q: s.q} }
func (s *store) Reactions() tree.ReactionRepository    { return &reactionRepository{q: s.q} }
func (s *store) TextLabels() tree.TextLabelsRepository { return &textLabelsRepository{q: s.q} }
func (s *store) Users() tree.UserRepository            { return &userRepository{q: s.q} }
func (s *store) Enrichment() tree.EnrichmentRepository { return &enrichmentRepository{q: s.q} }
func (s *store) Journal() tree.JournalRepository       { return &journalRepository{q: s.q} }
func (s *store) Queries() tree.QueryRepository         { return &queryRepository{q: s.q} }
func (s *store) Purges() tree.PurgeRepository          { return &purgeRepository{q: s.q} }

var _ tree.Runner = (*DB)(nil)

// InTx runs fn inside a single write transaction. The transaction commits
// when fn returns nil and rolls back otherwise.
func (d *DB) InTx(ctx context.Context, fn func(tree.Store) error) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(&store{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.ErrorErr(log.CatDB, "Rollback failed", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// View runs fn against the store without a transaction. Intended for
// read-only access.
func (d *DB) View(ctx context.Context, fn func(tree.Store) error) error {
	return fn(&store{q: d.conn})
}

// Store returns a store bound to the connection, outside any transaction.
func (d *DB) Store() tree.Store {
	return &store{q: d.conn}
}
