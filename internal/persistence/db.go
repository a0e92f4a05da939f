package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects placeholder syntax. Queries are written with Postgres
// $N placeholders, each used at most once, and rebound for SQLite.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

func (d Dialect) String() string {
	if d == DialectSQLite {
		return "sqlite"
	}
	return "postgres"
}

// ParseDialect maps a config driver name to a dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch driver {
	case "postgres", "":
		return DialectPostgres, nil
	case "sqlite":
		return DialectSQLite, nil
	default:
		return DialectPostgres, fmt.Errorf("unsupported database driver: %q", driver)
	}
}

var placeholderRe = regexp.MustCompile(`\$\d+`)

// Rebind rewrites a query for the dialect.
func (d Dialect) Rebind(query string) string {
	if d == DialectSQLite {
		return placeholderRe.ReplaceAllString(query, "?")
	}
	return query
}

// DB is a connection pool that knows its dialect.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// PoolConfig tunes the Postgres pool. SQLite always runs on one connection.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// Open connects and pings the database.
func Open(ctx context.Context, driver, dsn string, pool PoolConfig) (*DB, error) {
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open(dialect.String(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		// In-memory databases exist per connection
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		if _, err := sqlDB.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("configure sqlite: %w", err)
		}
	}
	return &DB{DB: sqlDB, Dialect: dialect}, nil
}

// Exec runs a rebound statement.
func (db *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.ExecContext(ctx, db.Dialect.Rebind(query), args...)
}

// Query runs a rebound query.
func (db *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.QueryContext(ctx, db.Dialect.Rebind(query), args...)
}

// QueryRow runs a rebound single-row query.
func (db *DB) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return db.QueryRowContext(ctx, db.Dialect.Rebind(query), args...)
}
