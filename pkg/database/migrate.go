package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Migrate applies the schema for dialect. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	name := "schema/" + string(dialect) + ".sql"
	b, err := schemaFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}

	// one statement per Exec keeps both drivers happy
	for _, stmt := range strings.Split(string(b), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
