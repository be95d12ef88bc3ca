package mapping

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	synchub "comicmap/internal/sync"
	"comicmap/pkg/database"
	"comicmap/pkg/models"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type recorder struct {
	mu     gosync.Mutex
	events []synchub.MappingEvent
}

func (r *recorder) BroadcastJSON(v any) {
	ev, ok := v.(synchub.MappingEvent)
	if !ok {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) Events() []synchub.MappingEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]synchub.MappingEvent(nil), r.events...)
}

func testConnector(t *testing.T, dsn string) *database.Connector {
	t.Helper()
	cfg := database.DefaultConfig()
	cfg.DSN = dsn
	c := database.NewConnector(cfg, database.WithLogger(discard))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func tempDSN(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "comicmap.db")
}

func newTestService(t *testing.T, dsn string, opts Options) *Service {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = discard
	}
	return NewService(testConnector(t, dsn), opts)
}

func countRows(t *testing.T, svc *Service) int {
	t.Helper()
	st, err := svc.Stats(context.Background())
	require.NoError(t, err)
	return st.Total
}

func TestResolveIDIdempotent(t *testing.T) {
	ctx := context.Background()
	dsn := tempDSN(t)
	svc := newTestService(t, dsn, Options{})

	first := svc.ResolveID(ctx, "one-piece", "series")
	require.Equal(t, OutcomeResolved, first.Outcome)
	_, err := uuid.Parse(first.Identifier)
	require.NoError(t, err)

	second := svc.ResolveID(ctx, "one-piece", "series")
	assert.Equal(t, first.Identifier, second.Identifier)

	// a fresh process with an empty cache sees the persisted mapping
	other := newTestService(t, dsn, Options{})
	third := other.ResolveID(ctx, "one-piece", "series")
	assert.Equal(t, first.Identifier, third.Identifier)
	assert.Equal(t, 1, countRows(t, other))
}

func TestResolveRoundTrip(t *testing.T) {
	ctx := context.Background()
	dsn := tempDSN(t)
	svc := newTestService(t, dsn, Options{})

	id := svc.ResolveID(ctx, "one-piece-chapter-1100", "chapter").Identifier

	got := svc.ResolveSlug(ctx, id)
	require.Equal(t, OutcomeResolved, got.Outcome)
	assert.Equal(t, models.SlugRef{Slug: "one-piece-chapter-1100", Kind: models.KindChapter}, got.Ref)

	fresh := newTestService(t, dsn, Options{}).ResolveSlug(ctx, id)
	require.Equal(t, OutcomeResolved, fresh.Outcome)
	assert.Equal(t, got.Ref, fresh.Ref)
}

func TestResolveIDKindsAreDistinct(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, tempDSN(t), Options{})

	series := svc.ResolveID(ctx, "one-piece", "series")
	chapter := svc.ResolveID(ctx, "one-piece", "chapter")
	require.Equal(t, OutcomeResolved, series.Outcome)
	require.Equal(t, OutcomeResolved, chapter.Outcome)
	assert.NotEqual(t, series.Identifier, chapter.Identifier)
}

func TestResolveIDInvalid(t *testing.T) {
	svc := newTestService(t, tempDSN(t), Options{})

	tests := []struct {
		slug, kind string
		reason     string
	}{
		{"", "series", msgSlugAndType},
		{"  ", "series", msgSlugAndType},
		{"x", "", msgSlugAndType},
		{"x", "volume", msgBadType},
	}
	for _, tt := range tests {
		res := svc.ResolveID(context.Background(), tt.slug, tt.kind)
		assert.Equal(t, OutcomeInvalid, res.Outcome)
		assert.Equal(t, tt.reason, res.Reason)
	}

	res := svc.ResolveSlug(context.Background(), " ")
	assert.Equal(t, OutcomeInvalid, res.Outcome)
}

func TestResolveSlugNotFoundPolicy(t *testing.T) {
	ctx := context.Background()
	dsn := tempDSN(t)

	strict := newTestService(t, dsn, Options{})
	res := strict.ResolveSlug(ctx, "never-issued")
	assert.Equal(t, OutcomeNotFound, res.Outcome)

	lenient := newTestService(t, dsn, Options{NotFoundPolicy: PolicyFallback})
	res = lenient.ResolveSlug(ctx, "never-issued")
	assert.Equal(t, OutcomeDegraded, res.Outcome)
	assert.Equal(t, models.SlugRef{Slug: "never-issued", Kind: models.KindSeries}, res.Ref)
}

func TestBulkResolveConsistency(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, tempDSN(t), Options{})

	single := svc.ResolveID(ctx, "s2", "chapter").Identifier

	out, err := svc.BulkResolve(ctx, []string{"s1", "s2", "s1"}, "chapter")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, single, out["s2"])

	for slug, id := range out {
		assert.Equal(t, id, svc.ResolveID(ctx, slug, "chapter").Identifier, slug)
	}

	again, err := svc.BulkResolve(ctx, []string{"s1", "s2"}, "chapter")
	require.NoError(t, err)
	if diff := cmp.Diff(out, again); diff != "" {
		t.Errorf("bulk resolve not stable (-first +second):\n%s", diff)
	}
	assert.Equal(t, 2, countRows(t, svc))
}

func TestBulkResolveInvalid(t *testing.T) {
	svc := newTestService(t, tempDSN(t), Options{})

	tests := []struct {
		name  string
		slugs []string
		kind  string
	}{
		{"nil slugs", nil, "series"},
		{"empty slugs", []string{}, "series"},
		{"blank slug", []string{"a", " "}, "series"},
		{"missing type", []string{"a"}, ""},
		{"bad type", []string{"a"}, "volume"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.BulkResolve(context.Background(), tt.slugs, tt.kind)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestDegradedWithoutStore(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	svc := newTestService(t, "", Options{Publisher: rec})

	res := svc.ResolveID(ctx, "one-piece", "series")
	assert.Equal(t, OutcomeDegraded, res.Outcome)
	assert.Equal(t, "one-piece", res.Identifier)
	assert.Equal(t, "store unavailable", res.Reason)

	back := svc.ResolveSlug(ctx, "one-piece")
	assert.Equal(t, OutcomeDegraded, back.Outcome)
	assert.Equal(t, models.SlugRef{Slug: "one-piece", Kind: models.KindSeries}, back.Ref)

	_, err := svc.BulkResolve(ctx, []string{"a"}, "series")
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = svc.List(ctx, "", 0, 0)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	h := svc.Health()
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "disconnected", h.Database)
	assert.Error(t, svc.Ready(ctx))

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, rec.Len())
}

func TestDegradedOnStoreError(t *testing.T) {
	ctx := context.Background()
	conn := testConnector(t, tempDSN(t))
	svc := NewService(conn, Options{Logger: discard})

	db, err := conn.DB(ctx)
	require.NoError(t, err)
	_, err = db.Exec(`DROP TABLE comic_maps`)
	require.NoError(t, err)

	res := svc.ResolveID(ctx, "naruto", "series")
	assert.Equal(t, OutcomeDegraded, res.Outcome)
	assert.Equal(t, "naruto", res.Identifier)
	assert.Equal(t, "store error", res.Reason)

	// store errors degrade regardless of the not-found policy
	back := svc.ResolveSlug(ctx, "some-id")
	assert.Equal(t, OutcomeDegraded, back.Outcome)

	_, err = svc.BulkResolve(ctx, []string{"naruto"}, "series")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidInput)
}

func TestConcurrentResolveCreatesOneRow(t *testing.T) {
	ctx := context.Background()
	dsn := tempDSN(t)
	a := newTestService(t, dsn, Options{})
	b := newTestService(t, dsn, Options{})

	const n = 24
	ids := make([]string, n)
	var wg gosync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc := a
			if i%2 == 1 {
				svc = b
			}
			res := svc.ResolveID(ctx, "solo-leveling", "series")
			if res.Outcome == OutcomeResolved {
				ids[i] = res.Identifier
			}
		}()
	}
	wg.Wait()

	for i := range n {
		require.NotEmpty(t, ids[i], "call %d did not resolve", i)
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, 1, countRows(t, a))
}

func TestConcurrentBulkResolve(t *testing.T) {
	ctx := context.Background()
	dsn := tempDSN(t)
	services := []*Service{
		newTestService(t, dsn, Options{}),
		newTestService(t, dsn, Options{}),
	}

	const (
		workers  = 64
		perBatch = 50
		universe = 120
	)

	var (
		mu   gosync.Mutex
		seen = make(map[string]string)
		errs = make([]error, workers)
		wg   gosync.WaitGroup
	)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slugs := make([]string, perBatch)
			for j := range slugs {
				slugs[j] = fmt.Sprintf("ch-%d", (i*7+j)%universe)
			}

			out, err := services[i%len(services)].BulkResolve(ctx, slugs, "chapter")
			if err != nil {
				errs[i] = err
				return
			}

			mu.Lock()
			defer mu.Unlock()
			if len(out) != perBatch {
				errs[i] = fmt.Errorf("got %d entries, want %d", len(out), perBatch)
				return
			}
			for slug, id := range out {
				if prev, ok := seen[slug]; ok && prev != id {
					errs[i] = fmt.Errorf("slug %s resolved to %s and %s", slug, prev, id)
					return
				}
				seen[slug] = id
			}
		}()
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "batch %d", i)
	}
	assert.Len(t, seen, universe)
	assert.Equal(t, universe, countRows(t, services[0]))

	for slug, id := range seen {
		assert.Equal(t, id, services[1].ResolveID(ctx, slug, "chapter").Identifier, slug)
	}
}

func TestBulkResolveKeysByInputSlug(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, tempDSN(t), Options{})

	out, err := svc.BulkResolve(ctx, []string{" naruto", "naruto", "bleach "}, "series")
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.NotEmpty(t, out[" naruto"])
	assert.Equal(t, out["naruto"], out[" naruto"])
	assert.NotEmpty(t, out["bleach "])
	assert.Equal(t, out["bleach "], svc.ResolveID(ctx, "bleach", "series").Identifier)
	assert.Equal(t, 2, countRows(t, svc))
}

func TestLostConnectionIsReleased(t *testing.T) {
	ctx := context.Background()
	conn := testConnector(t, tempDSN(t))
	svc := NewService(conn, Options{Logger: discard})

	first := svc.ResolveID(ctx, "vagabond", "series")
	require.Equal(t, OutcomeResolved, first.Outcome)
	assert.Equal(t, "connected", svc.Health().Database)

	db, err := conn.DB(ctx)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	res := svc.ResolveID(ctx, "monster", "series")
	assert.Equal(t, OutcomeDegraded, res.Outcome)
	assert.Equal(t, "store unavailable", res.Reason)
	assert.Equal(t, database.StateDisconnected, conn.State())
	assert.Equal(t, "disconnected", svc.Health().Database)

	res = svc.ResolveID(ctx, "monster", "series")
	require.Equal(t, OutcomeResolved, res.Outcome)
	assert.NotEqual(t, "monster", res.Identifier)
	assert.Equal(t, "connected", svc.Health().Database)

	back := svc.ResolveSlug(ctx, first.Identifier)
	assert.Equal(t, models.SlugRef{Slug: "vagabond", Kind: models.KindSeries}, back.Ref)
	assert.Equal(t, 2, countRows(t, svc))
}

func TestReadyReleasesDeadHandle(t *testing.T) {
	ctx := context.Background()
	conn := testConnector(t, tempDSN(t))
	svc := NewService(conn, Options{Logger: discard})

	require.NoError(t, svc.Ready(ctx))
	db, err := conn.DB(ctx)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	require.Error(t, conn.Ping(ctx))
	assert.False(t, conn.Connected())

	// the next readiness check reconnects
	require.NoError(t, svc.Ready(ctx))
	assert.True(t, conn.Connected())
}

func TestCacheAnswersWithoutStore(t *testing.T) {
	ctx := context.Background()
	conn := testConnector(t, tempDSN(t))
	svc := NewService(conn, Options{Logger: discard})

	id := svc.ResolveID(ctx, "berserk", "series").Identifier
	assert.Equal(t, 2, svc.CacheSize())

	db, err := conn.DB(ctx)
	require.NoError(t, err)
	_, err = db.Exec(`DELETE FROM comic_maps`)
	require.NoError(t, err)

	assert.Equal(t, id, svc.ResolveID(ctx, "berserk", "series").Identifier)
	back := svc.ResolveSlug(ctx, id)
	assert.Equal(t, OutcomeResolved, back.Outcome)
	assert.Equal(t, "berserk", back.Ref.Slug)
}

func TestCacheExpires(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, tempDSN(t), Options{CacheTTL: 30 * time.Millisecond})

	svc.ResolveID(ctx, "vinland-saga", "series")
	require.Equal(t, 2, svc.CacheSize())
	require.Eventually(t, func() bool { return svc.CacheSize() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestEventsOnlyOnCreation(t *testing.T) {
	ctx := context.Background()
	dsn := tempDSN(t)
	rec := &recorder{}
	svc := newTestService(t, dsn, Options{Publisher: rec})

	id := svc.ResolveID(ctx, "dandadan", "series").Identifier
	require.Eventually(t, func() bool { return rec.Len() == 1 }, time.Second, 5*time.Millisecond)

	svc.ResolveID(ctx, "dandadan", "series")
	newTestService(t, dsn, Options{Publisher: rec}).ResolveID(ctx, "dandadan", "series")
	svc.ResolveSlug(ctx, id)

	_, err := svc.BulkResolve(ctx, []string{"dandadan", "c1", "c2"}, "series")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rec.Len() == 3 }, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	events := rec.Events()
	require.Len(t, events, 3)

	slugs := map[string]bool{}
	for _, ev := range events {
		assert.Equal(t, synchub.TypeMappingCreated, ev.Type)
		assert.Equal(t, models.KindSeries, ev.Kind)
		slugs[ev.Slug] = true
	}
	assert.Equal(t, map[string]bool{"dandadan": true, "c1": true, "c2": true}, slugs)
}

func TestListAndStats(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, tempDSN(t), Options{})

	for i := range 3 {
		svc.ResolveID(ctx, fmt.Sprintf("series-%d", i), "series")
	}
	svc.ResolveID(ctx, "chapter-1", "chapter")

	page, err := svc.List(ctx, "series", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, DefaultListLimit, page.Limit)
	assert.Len(t, page.Items, 3)

	page, err = svc.List(ctx, "", MaxListLimit+1, -5)
	require.NoError(t, err)
	assert.Equal(t, MaxListLimit, page.Limit)
	assert.Equal(t, 0, page.Offset)
	assert.Equal(t, 4, page.Total)

	_, err = svc.List(ctx, "volume", 10, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Total)
	assert.Equal(t, map[models.Kind]int{models.KindSeries: 3, models.KindChapter: 1}, st.ByKind)
	assert.Equal(t, "connected", st.Database)
	assert.Equal(t, 8, st.CacheSize)

	require.NoError(t, svc.Ready(ctx))
	assert.Equal(t, "connected", svc.Health().Database)
}
