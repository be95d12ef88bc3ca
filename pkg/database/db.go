package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

type Config struct {
	// Driver forces "sqlite3" or "pgx"; empty means detect from DSN.
	Driver          string        `koanf:"driver"`
	DSN             string        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MinIdleConns    int           `koanf:"min_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	QueryTimeout    time.Duration `koanf:"query_timeout"`
}

func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    10,
		MinIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
		ConnectTimeout:  8 * time.Second,
		QueryTimeout:    5 * time.Second,
	}
}

// DefaultSQLitePath is ~/.comicmap/data.db, or ./data.db without a home dir.
func DefaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".comicmap", "data.db")
}

// Configured reports whether a store was configured at all.
func (c Config) Configured() bool {
	return strings.TrimSpace(c.DSN) != ""
}

func (c Config) Dialect() Dialect {
	return DetectDialect(c.Driver, c.DSN)
}

// Open opens and pings the store described by cfg. It does not migrate.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	dialect := cfg.Dialect()

	dsn := strings.TrimSpace(cfg.DSN)
	if dialect == SQLite {
		path, params := splitSQLiteDSN(dsn)
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("ensure data dir: %w", err)
			}
		}
		dsn = sqliteDSN(path, params)
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MinIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MinIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}

	return db, nil
}

// splitSQLiteDSN strips scheme prefixes and returns the file path with any
// parameters the caller supplied.
func splitSQLiteDSN(dsn string) (string, url.Values) {
	for _, prefix := range []string{"sqlite://", "sqlite3://", "file:"} {
		dsn = strings.TrimPrefix(dsn, prefix)
	}
	path, rawQuery, _ := strings.Cut(dsn, "?")
	params, _ := url.ParseQuery(rawQuery)
	if params == nil {
		params = url.Values{}
	}
	return path, params
}

// sqliteDSN adds per-connection pragmas the caller did not set; busy_timeout
// must be set on every pooled connection, so a one-off PRAGMA exec is not
// enough. Transactions take the write lock at BEGIN: a batch reads before it
// writes, and a deferred transaction cannot upgrade once another connection
// has committed.
func sqliteDSN(path string, params url.Values) string {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	defaults := [][2]string{
		{"_busy_timeout", "5000"},
		{"_journal_mode", "WAL"},
		{"_foreign_keys", "on"},
		{"_txlock", "immediate"},
	}
	for _, kv := range defaults {
		if !q.Has(kv[0]) {
			q.Set(kv[0], kv[1])
		}
	}
	if path == ":memory:" {
		if !q.Has("cache") {
			q.Set("cache", "shared")
		}
		return "file::memory:?" + q.Encode()
	}
	return "file:" + path + "?" + q.Encode()
}
