package mapping

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"comicmap/pkg/database"
	"comicmap/pkg/models"
)

// chunkSize bounds the number of slugs per batched statement.
const chunkSize = 200

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repo struct {
	DB      *sql.DB
	Dialect database.Dialect
	now     func() time.Time
}

func NewRepo(db *sql.DB, dialect database.Dialect) *Repo {
	return &Repo{DB: db, Dialect: dialect, now: func() time.Time { return time.Now().UTC() }}
}

const selectColumns = `SELECT identifier, slug, kind, created_at, updated_at FROM comic_maps`

func scanMapping(row interface{ Scan(...any) error }) (models.Mapping, error) {
	var m models.Mapping
	var kind string
	if err := row.Scan(&m.Identifier, &m.Slug, &kind, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return m, err
	}
	m.Kind = models.Kind(kind)
	return m, nil
}

func (r *Repo) FindBySlug(ctx context.Context, slug string, kind models.Kind) (*models.Mapping, error) {
	return r.findOne(ctx, r.DB, selectColumns+` WHERE slug = ? AND kind = ?`, slug, string(kind))
}

func (r *Repo) FindByIdentifier(ctx context.Context, id string) (*models.Mapping, error) {
	return r.findOne(ctx, r.DB, selectColumns+` WHERE identifier = ?`, id)
}

func (r *Repo) findOne(ctx context.Context, q querier, query string, args ...any) (*models.Mapping, error) {
	m, err := scanMapping(q.QueryRowContext(ctx, r.Dialect.Rebind(query), args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get mapping: %w", err)
	}
	return &m, nil
}

// Create inserts m, stamping its timestamps. It returns ErrDuplicate when the
// slug/kind pair or the identifier already exists.
func (r *Repo) Create(ctx context.Context, m *models.Mapping) error {
	now := r.now()
	m.CreatedAt, m.UpdatedAt = now, now

	_, err := r.DB.ExecContext(ctx, r.Dialect.Rebind(`
		INSERT INTO comic_maps (identifier, slug, kind, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`), m.Identifier, m.Slug, string(m.Kind), m.CreatedAt, m.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("create mapping %s/%s: %w", m.Kind, m.Slug, ErrDuplicate)
		}
		return fmt.Errorf("create mapping: %w", err)
	}
	return nil
}

// InsertIfAbsent keeps m's identifier and timestamps. It reports false when any
// unique constraint already holds a row for it.
func (r *Repo) InsertIfAbsent(ctx context.Context, m models.Mapping) (bool, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.now()
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}

	res, err := r.DB.ExecContext(ctx, r.Dialect.Rebind(`
		INSERT INTO comic_maps (identifier, slug, kind, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`), m.Identifier, m.Slug, string(m.Kind), m.CreatedAt.UTC(), m.UpdatedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("import mapping: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ResolveBatch returns the mapping of every slug, creating the missing ones
// inside a single transaction. created holds only rows this call inserted.
func (r *Repo) ResolveBatch(ctx context.Context, kind models.Kind, slugs []string, newID func() string) (found map[string]models.Mapping, created []models.Mapping, err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin batch: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	found, err = r.findManyBySlugs(ctx, tx, kind, slugs)
	if err != nil {
		return nil, nil, err
	}

	missing := make([]string, 0, len(slugs))
	for _, s := range slugs {
		if _, ok := found[s]; !ok {
			missing = append(missing, s)
		}
	}

	if len(missing) > 0 {
		// a fixed insert order keeps concurrent batches from deadlocking on Postgres
		sort.Strings(missing)
		now := r.now()
		rows := make([]models.Mapping, len(missing))
		for i, s := range missing {
			rows[i] = models.Mapping{Identifier: newID(), Slug: s, Kind: kind, CreatedAt: now, UpdatedAt: now}
		}

		inserted, err := r.insertManyIgnoreConflicts(ctx, tx, rows)
		if err != nil {
			return nil, nil, err
		}

		// re-read so slugs lost to a concurrent writer carry the winner's identifier
		winners, err := r.findManyBySlugs(ctx, tx, kind, missing)
		if err != nil {
			return nil, nil, err
		}
		for s, m := range winners {
			found[s] = m
			if inserted[m.Identifier] {
				created = append(created, m)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit batch: %w", err)
	}
	return found, created, nil
}

func (r *Repo) findManyBySlugs(ctx context.Context, q querier, kind models.Kind, slugs []string) (map[string]models.Mapping, error) {
	out := make(map[string]models.Mapping, len(slugs))

	for start := 0; start < len(slugs); start += chunkSize {
		chunk := slugs[start:min(start+chunkSize, len(slugs))]

		args := make([]any, 0, len(chunk)+1)
		args = append(args, string(kind))
		for _, s := range chunk {
			args = append(args, s)
		}

		query := selectColumns + ` WHERE kind = ? AND slug IN (` + database.Placeholders(len(chunk)) + `)`
		rows, err := q.QueryContext(ctx, r.Dialect.Rebind(query), args...)
		if err != nil {
			return nil, fmt.Errorf("find mappings: %w", err)
		}

		for rows.Next() {
			m, err := scanMapping(rows)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan mapping row: %w", err)
			}
			out[m.Slug] = m
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("rows err: %w", err)
		}
	}
	return out, nil
}

// insertManyIgnoreConflicts returns the identifiers that were actually written.
func (r *Repo) insertManyIgnoreConflicts(ctx context.Context, q querier, ms []models.Mapping) (map[string]bool, error) {
	inserted := make(map[string]bool, len(ms))

	for start := 0; start < len(ms); start += chunkSize {
		chunk := ms[start:min(start+chunkSize, len(ms))]

		var b strings.Builder
		b.WriteString(`INSERT INTO comic_maps (identifier, slug, kind, created_at, updated_at) VALUES `)
		args := make([]any, 0, len(chunk)*5)
		for i, m := range chunk {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("(?, ?, ?, ?, ?)")
			args = append(args, m.Identifier, m.Slug, string(m.Kind), m.CreatedAt, m.UpdatedAt)
		}
		b.WriteString(` ON CONFLICT DO NOTHING RETURNING identifier`)

		rows, err := q.QueryContext(ctx, r.Dialect.Rebind(b.String()), args...)
		if err != nil {
			return nil, fmt.Errorf("insert mappings: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan inserted id: %w", err)
			}
			inserted[id] = true
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("rows err: %w", err)
		}
	}
	return inserted, nil
}

// List pages through mappings oldest first. An empty kind lists all kinds.
func (r *Repo) List(ctx context.Context, kind models.Kind, limit, offset int) ([]models.Mapping, int, error) {
	where, args := "", []any{}
	if kind != "" {
		where = ` WHERE kind = ?`
		args = append(args, string(kind))
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, r.Dialect.Rebind(`SELECT COUNT(*) FROM comic_maps`+where), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count mappings: %w", err)
	}

	query := selectColumns + where + ` ORDER BY created_at ASC, identifier ASC LIMIT ? OFFSET ?`
	rows, err := r.DB.QueryContext(ctx, r.Dialect.Rebind(query), append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	out := make([]models.Mapping, 0, limit)
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan mapping row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows err: %w", err)
	}
	return out, total, nil
}

// Each streams every mapping oldest first.
func (r *Repo) Each(ctx context.Context, fn func(models.Mapping) error) error {
	rows, err := r.DB.QueryContext(ctx, selectColumns+` ORDER BY created_at ASC, identifier ASC`)
	if err != nil {
		return fmt.Errorf("query mappings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return fmt.Errorf("scan mapping row: %w", err)
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows err: %w", err)
	}
	return nil
}

func (r *Repo) CountByKind(ctx context.Context) (map[models.Kind]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT kind, COUNT(*) FROM comic_maps GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("count by kind: %w", err)
	}
	defer rows.Close()

	out := make(map[models.Kind]int, len(models.Kinds))
	for _, k := range models.Kinds {
		out[k] = 0
	}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count row: %w", err)
		}
		out[models.Kind(kind)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}
