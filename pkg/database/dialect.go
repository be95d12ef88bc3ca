package database

import (
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// DetectDialect picks a dialect from an explicit driver name, falling back to
// the DSN scheme. Anything that is not a postgres URL is treated as SQLite.
func DetectDialect(driver, dsn string) Dialect {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "pgx", "postgres", "postgresql":
		return Postgres
	case "sqlite", "sqlite3":
		return SQLite
	}

	dsn = strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return Postgres
	}
	return SQLite
}

func (d Dialect) DriverName() string {
	if d == Postgres {
		return "pgx"
	}
	return "sqlite3"
}

// Rebind rewrites ? placeholders into the dialect's bind syntax.
// Queries must not contain literal question marks.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Placeholders returns "?, ?, ..." with n markers, unbound.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// IsUniqueViolation reports whether err came from a unique or primary key
// constraint in either supported store.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint &&
			(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
	}

	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return false
}
