package mapping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"comicmap/internal/sync"
	"comicmap/pkg/database"
	"comicmap/pkg/models"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Publisher receives events for newly created mappings.
type Publisher interface {
	BroadcastJSON(v any)
}

type Options struct {
	CacheTTL       time.Duration
	QueryTimeout   time.Duration
	NotFoundPolicy NotFoundPolicy
	Publisher      Publisher
	Logger         *slog.Logger
	// NewID generates identifiers; defaults to random UUIDs.
	NewID func() string
}

// cacheEntry holds whichever side of the mapping its key points to.
type cacheEntry struct {
	id  string
	ref models.SlugRef
}

// Service resolves slugs to identifiers and back. It owns the cache and is
// safe for concurrent use.
type Service struct {
	conn   *database.Connector
	cache  *expirable.LRU[string, cacheEntry]
	group  singleflight.Group
	opts   Options
	logger *slog.Logger
}

func NewService(conn *database.Connector, opts Options) *Service {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = database.DefaultConfig().QueryTimeout
	}
	if opts.NotFoundPolicy == "" {
		opts.NotFoundPolicy = PolicyNotFound
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Service{
		conn:   conn,
		cache:  expirable.NewLRU[string, cacheEntry](0, nil, opts.CacheTTL),
		opts:   opts,
		logger: opts.Logger,
	}
}

func idKey(kind models.Kind, slug string) string { return "uuid:" + string(kind) + ":" + slug }
func slugKey(id string) string                   { return "slug:" + id }

func (s *Service) remember(m models.Mapping) {
	s.cache.Add(idKey(m.Kind, m.Slug), cacheEntry{id: m.Identifier})
	s.cache.Add(slugKey(m.Identifier), cacheEntry{ref: m.Ref()})
}

// CacheSize counts live entries in both directions.
func (s *Service) CacheSize() int {
	return s.cache.Len()
}

// ResolveID returns the identifier for slug, creating the mapping if needed.
// Store problems degrade to the slug itself; it never fails outright.
func (s *Service) ResolveID(ctx context.Context, slug, kind string) Resolution {
	slug = strings.TrimSpace(slug)
	if slug == "" || strings.TrimSpace(kind) == "" {
		return Resolution{Outcome: OutcomeInvalid, Reason: msgSlugAndType}
	}
	k, ok := models.ParseKind(kind)
	if !ok {
		return Resolution{Outcome: OutcomeInvalid, Reason: msgBadType}
	}

	key := idKey(k, slug)
	if e, ok := s.cache.Get(key); ok {
		cacheHits.WithLabelValues(opGetID).Inc()
		return Resolution{Identifier: e.id, Outcome: OutcomeResolved}
	}
	cacheMisses.WithLabelValues(opGetID).Inc()

	v, err := s.do(ctx, key, func(ctx context.Context) (any, error) {
		return s.findOrCreate(ctx, slug, k)
	})
	if err != nil {
		s.degrade(opGetID, "slug", slug, err)
		return Resolution{Identifier: slug, Outcome: OutcomeDegraded, Reason: reason(err)}
	}
	return Resolution{Identifier: v.(string), Outcome: OutcomeResolved}
}

func (s *Service) findOrCreate(ctx context.Context, slug string, kind models.Kind) (string, error) {
	var id string
	err := s.withRepo(ctx, func(repo *Repo) error {
		existing, err := repo.FindBySlug(ctx, slug, kind)
		if err != nil {
			return err
		}
		if existing != nil {
			s.remember(*existing)
			id = existing.Identifier
			return nil
		}

		m := models.Mapping{Identifier: s.opts.NewID(), Slug: slug, Kind: kind}
		if err := repo.Create(ctx, &m); err != nil {
			if !errors.Is(err, ErrDuplicate) {
				return err
			}
			// another writer won the unique index
			winner, ferr := repo.FindBySlug(ctx, slug, kind)
			if ferr != nil {
				return ferr
			}
			if winner == nil {
				return err
			}
			s.remember(*winner)
			id = winner.Identifier
			return nil
		}

		s.remember(m)
		s.created(m)
		id = m.Identifier
		return nil
	})
	return id, err
}

// ResolveSlug returns the slug an identifier was issued for.
func (s *Service) ResolveSlug(ctx context.Context, id string) SlugResolution {
	id = strings.TrimSpace(id)
	if id == "" {
		return SlugResolution{Outcome: OutcomeInvalid, Reason: msgIDRequired}
	}

	key := slugKey(id)
	if e, ok := s.cache.Get(key); ok {
		cacheHits.WithLabelValues(opGetSlug).Inc()
		return SlugResolution{Ref: e.ref, Outcome: OutcomeResolved}
	}
	cacheMisses.WithLabelValues(opGetSlug).Inc()

	echo := models.SlugRef{Slug: id, Kind: models.KindSeries}

	v, err := s.do(ctx, key, func(ctx context.Context) (any, error) {
		var m *models.Mapping
		err := s.withRepo(ctx, func(repo *Repo) error {
			var err error
			m, err = repo.FindByIdentifier(ctx, id)
			return err
		})
		return m, err
	})
	if err != nil {
		s.degrade(opGetSlug, "id", id, err)
		return SlugResolution{Ref: echo, Outcome: OutcomeDegraded, Reason: reason(err)}
	}

	m := v.(*models.Mapping)
	if m == nil {
		if s.opts.NotFoundPolicy == PolicyFallback {
			degradedTotal.WithLabelValues(opGetSlug).Inc()
			s.logger.Warn("unknown identifier answered with fallback", "id", id)
			return SlugResolution{Ref: echo, Outcome: OutcomeDegraded, Reason: "identifier not found"}
		}
		return SlugResolution{Outcome: OutcomeNotFound, Reason: "identifier not found"}
	}

	s.remember(*m)
	return SlugResolution{Ref: m.Ref(), Outcome: OutcomeResolved}
}

// BulkResolve maps every slug to its identifier, creating missing mappings.
// The result is keyed by the slugs exactly as given; padded duplicates of one
// slug share its identifier. Unlike the single lookups it does not degrade:
// store failures are returned.
func (s *Service) BulkResolve(ctx context.Context, slugs []string, kind string) (map[string]string, error) {
	if len(slugs) == 0 {
		return nil, invalid(msgSlugs)
	}
	k, ok := models.ParseKind(kind)
	if !ok {
		if strings.TrimSpace(kind) == "" {
			return nil, invalid(msgSlugAndType)
		}
		return nil, invalid(msgBadType)
	}

	ids := make(map[string]string, len(slugs))
	pending := make([]string, 0, len(slugs))
	seen := make(map[string]bool, len(slugs))
	for _, raw := range slugs {
		slug := strings.TrimSpace(raw)
		if slug == "" {
			return nil, invalid(msgSlugs)
		}
		if seen[slug] {
			continue
		}
		seen[slug] = true

		if e, ok := s.cache.Get(idKey(k, slug)); ok {
			cacheHits.WithLabelValues(opBulk).Inc()
			ids[slug] = e.id
			continue
		}
		cacheMisses.WithLabelValues(opBulk).Inc()
		pending = append(pending, slug)
	}

	if len(pending) > 0 {
		chunks := (len(pending) + chunkSize - 1) / chunkSize
		qctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout*time.Duration(chunks))
		defer cancel()

		var found map[string]models.Mapping
		var created []models.Mapping
		err := s.withRepo(qctx, func(repo *Repo) error {
			var err error
			found, created, err = repo.ResolveBatch(qctx, k, pending, s.opts.NewID)
			return err
		})
		if err != nil {
			s.logger.Error("bulk sync failed", "slugs", len(pending), "err", err)
			return nil, fmt.Errorf("bulk resolve: %w", err)
		}

		for _, slug := range pending {
			m, ok := found[slug]
			if !ok {
				return nil, fmt.Errorf("bulk resolve: slug %q missing after insert", slug)
			}
			s.remember(m)
			ids[slug] = m.Identifier
		}
		for _, m := range created {
			s.created(m)
		}
	}

	out := make(map[string]string, len(slugs))
	for _, raw := range slugs {
		out[raw] = ids[strings.TrimSpace(raw)]
	}
	return out, nil
}

// Health reports liveness without forcing a store connection.
func (s *Service) Health() Health {
	return Health{
		Status:    "ok",
		Database:  s.databaseState(),
		CacheSize: s.CacheSize(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// Ready connects if needed and pings the store.
func (s *Service) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if _, err := s.conn.DB(ctx); err != nil {
		return err
	}
	return s.conn.Ping(ctx)
}

func (s *Service) List(ctx context.Context, kind string, limit, offset int) (*Page, error) {
	var k models.Kind
	if strings.TrimSpace(kind) != "" {
		var ok bool
		if k, ok = models.ParseKind(kind); !ok {
			return nil, invalid(msgBadType)
		}
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
	defer cancel()

	var items []models.Mapping
	var total int
	err := s.withRepo(ctx, func(repo *Repo) error {
		var err error
		items, total, err = repo.List(ctx, k, limit, offset)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Page{Total: total, Limit: limit, Offset: offset, Items: items}, nil
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
	defer cancel()

	var byKind map[models.Kind]int
	err := s.withRepo(ctx, func(repo *Repo) error {
		var err error
		byKind, err = repo.CountByKind(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	total := 0
	for _, n := range byKind {
		total += n
	}
	return &Stats{
		Total:     total,
		ByKind:    byKind,
		CacheSize: s.CacheSize(),
		Database:  s.databaseState(),
	}, nil
}

func (s *Service) databaseState() string {
	if s.conn.Connected() {
		return "connected"
	}
	return "disconnected"
}

// withRepo runs fn against the current handle. Errors meaning the handle is
// gone release it, so the next call reconnects, and wrap ErrStoreUnavailable.
func (s *Service) withRepo(ctx context.Context, fn func(*Repo) error) error {
	db, err := s.conn.DB(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	err = fn(NewRepo(db, s.conn.Dialect()))
	if database.IsConnLost(err) {
		s.conn.Release(db, err)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

// do collapses concurrent calls for key. The shared call outlives a cancelled
// caller and is bounded by the query timeout instead.
func (s *Service) do(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := s.group.DoChan(key, func() (any, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.QueryTimeout)
		defer cancel()
		return fn(qctx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

func (s *Service) created(m models.Mapping) {
	mappingsCreated.WithLabelValues(string(m.Kind)).Inc()
	s.logger.Debug("mapping created", "uuid", m.Identifier, "slug", m.Slug, "kind", m.Kind)
	if s.opts.Publisher != nil {
		go s.opts.Publisher.BroadcastJSON(sync.NewMappingCreated(m))
	}
}

func (s *Service) degrade(op, field, value string, err error) {
	degradedTotal.WithLabelValues(op).Inc()
	if errors.Is(err, ErrStoreUnavailable) {
		s.logger.Warn("answering in degraded mode", "op", op, field, value, "reason", err)
		return
	}
	s.logger.Error("store error, answering in degraded mode", "op", op, field, value, "err", err)
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrStoreUnavailable):
		return "store unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "store timeout"
	default:
		return "store error"
	}
}
