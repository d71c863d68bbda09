package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	// sql drivers for the sqlite and postgres dialects
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialects understood by the database driver.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// DefaultTable is used when DatabaseConfig.Table is empty.
const DefaultTable = "settings"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// DatabaseConfig is the "database" driver block.
type DatabaseConfig struct {
	Dialect     string `json:"dialect"`
	DSN         string `json:"dsn"`
	Table       string `json:"table"`
	EnsureTable bool   `json:"ensure_table"`
}

func (c *DatabaseConfig) normalize() error {
	c.Dialect = strings.ToLower(strings.TrimSpace(c.Dialect))
	if c.Dialect == "" {
		c.Dialect = DialectSQLite
	}
	if c.Dialect == "postgresql" || c.Dialect == "pgx" {
		c.Dialect = DialectPostgres
	}
	if c.Dialect != DialectSQLite && c.Dialect != DialectPostgres {
		return fmt.Errorf("unsupported dialect %q", c.Dialect)
	}
	if strings.TrimSpace(c.DSN) == "" {
		return errors.New("dsn is required")
	}
	if c.Table == "" {
		c.Table = DefaultTable
	}
	if !tableName.MatchString(c.Table) {
		return fmt.Errorf("invalid table name %q", c.Table)
	}
	return nil
}

// Database stores settings in a two column table (key TEXT PRIMARY KEY,
// value TEXT).
type Database struct {
	db      *sql.DB
	dialect string
	table   string
	owned   bool

	hasQuery    string
	getQuery    string
	insertQuery string
	updateQuery string
	deleteQuery string
}

// OpenDatabase opens a connection pool for cfg and optionally creates the
// table. The returned repository owns the pool and closes it on Close.
func OpenDatabase(ctx context.Context, cfg DatabaseConfig) (*Database, error) {
	if err := cfg.normalize(); err != nil {
		return nil, fmt.Errorf("repository: database: %w", err)
	}
	driverName := "sqlite"
	if cfg.Dialect == DialectPostgres {
		driverName = "pgx"
	}
	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("repository: database: open: %w", err)
	}
	if cfg.Dialect == DialectSQLite && strings.Contains(cfg.DSN, ":memory:") {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: database: ping: %w", err)
	}

	repo := newDatabase(db, cfg.Dialect, cfg.Table)
	repo.owned = true
	if cfg.EnsureTable {
		if err := repo.EnsureTable(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return repo, nil
}

// NewDatabase wraps an existing pool. The caller keeps ownership of db.
func NewDatabase(db *sql.DB, dialect, table string) (*Database, error) {
	cfg := DatabaseConfig{Dialect: dialect, DSN: "external", Table: table}
	if err := cfg.normalize(); err != nil {
		return nil, fmt.Errorf("repository: database: %w", err)
	}
	return newDatabase(db, cfg.Dialect, cfg.Table), nil
}

func newDatabase(db *sql.DB, dialect, table string) *Database {
	d := &Database{db: db, dialect: dialect, table: table}
	d.hasQuery = d.bind("SELECT 1 FROM %s WHERE key = ?")
	d.getQuery = d.bind("SELECT value FROM %s WHERE key = ?")
	d.insertQuery = d.bind("INSERT INTO %s (key, value) VALUES (?, ?)")
	d.updateQuery = d.bind("UPDATE %s SET value = ? WHERE key = ?")
	d.deleteQuery = d.bind("DELETE FROM %s WHERE key = ?")
	return d
}

// bind injects the table name and rewrites ? placeholders for postgres.
func (d *Database) bind(query string) string {
	query = fmt.Sprintf(query, d.table)
	if d.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// EnsureTable creates the settings table when missing.
func (d *Database) EnsureTable(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            key TEXT PRIMARY KEY,
            value TEXT
        )`, d.table)
	if _, err := d.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("repository: database: ensure table %s: %w", d.table, err)
	}
	return nil
}

// Has reports whether a row exists for key.
func (d *Database) Has(ctx context.Context, key string) (bool, error) {
	var one int
	err := d.db.QueryRowContext(ctx, d.hasQuery, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Get returns the value stored under key.
func (d *Database) Get(ctx context.Context, key string) (string, bool, error) {
	var value sql.NullString
	err := d.db.QueryRowContext(ctx, d.getQuery, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value.String, true, nil
}

// Set inserts the value and falls back to an update when the insert fails,
// typically on a primary key conflict. When the update matches no row the
// insert error is returned.
func (d *Database) Set(ctx context.Context, key, value string) error {
	_, insertErr := d.db.ExecContext(ctx, d.insertQuery, key, value)
	if insertErr == nil {
		return nil
	}
	result, err := d.db.ExecContext(ctx, d.updateQuery, value, key)
	if err != nil {
		return errors.Join(insertErr, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Join(insertErr, err)
	}
	if affected == 0 {
		return insertErr
	}
	return nil
}

// Forget deletes the row for key.
func (d *Database) Forget(ctx context.Context, key string) error {
	_, err := d.db.ExecContext(ctx, d.deleteQuery, key)
	return err
}

// Table returns the settings table name.
func (d *Database) Table() string {
	return d.table
}

// DB returns the underlying pool.
func (d *Database) DB() *sql.DB {
	return d.db
}

// Close closes the pool when it was opened by OpenDatabase.
func (d *Database) Close() error {
	if !d.owned {
		return nil
	}
	return d.db.Close()
}
