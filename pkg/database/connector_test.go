package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqliteConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "comicmap.db")
	return cfg
}

func TestConnectorNotConfigured(t *testing.T) {
	c := NewConnector(DefaultConfig())

	_, err := c.DB(context.Background())
	require.ErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, StateDisconnected, c.State())
	assert.ErrorIs(t, c.Ping(context.Background()), ErrNotConfigured)
}

func TestConnectorConnectsAndMigrates(t *testing.T) {
	c := NewConnector(sqliteConfig(t))
	t.Cleanup(func() { _ = c.Close() })

	db, err := c.DB(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateConnected, c.State())
	assert.True(t, c.Connected())
	require.NoError(t, c.Ping(context.Background()))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM comic_maps`).Scan(&n))
	assert.Zero(t, n)

	again, err := c.DB(context.Background())
	require.NoError(t, err)
	assert.Same(t, db, again)
}

func TestConnectorSingleFlight(t *testing.T) {
	cfg := sqliteConfig(t)

	var calls atomic.Int32
	release := make(chan struct{})
	opener := func(ctx context.Context, cfg Config) (*sql.DB, error) {
		calls.Add(1)
		<-release
		return Open(ctx, cfg)
	}

	c := NewConnector(cfg, WithOpener(opener))
	t.Cleanup(func() { _ = c.Close() })

	const n = 16
	var wg sync.WaitGroup
	dbs := make([]*sql.DB, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dbs[i], errs[i] = c.DB(context.Background())
		}()
	}

	require.Eventually(t, func() bool { return c.State() == StateConnecting }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := range n {
		require.NoError(t, errs[i])
		assert.Same(t, dbs[0], dbs[i])
	}
}

func TestConnectorFailureIsRetried(t *testing.T) {
	cfg := sqliteConfig(t)

	var calls atomic.Int32
	opener := func(ctx context.Context, cfg Config) (*sql.DB, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("connection refused")
		}
		return Open(ctx, cfg)
	}

	c := NewConnector(cfg, WithOpener(opener))
	t.Cleanup(func() { _ = c.Close() })

	_, err := c.DB(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, c.State())

	_, err = c.DB(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, int32(2), calls.Load())
}

func TestConnectorCallerTimeoutDoesNotCancelAttempt(t *testing.T) {
	cfg := sqliteConfig(t)

	release := make(chan struct{})
	opener := func(ctx context.Context, cfg Config) (*sql.DB, error) {
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return Open(ctx, cfg)
	}

	c := NewConnector(cfg, WithOpener(opener))
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.DB(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.Eventually(t, c.Connected, 2*time.Second, 5*time.Millisecond)
}

func TestConnectorClose(t *testing.T) {
	c := NewConnector(sqliteConfig(t))

	_, err := c.DB(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.Equal(t, StateDisconnected, c.State())
	require.NoError(t, c.Close())
}

func TestConnectorReleaseReconnects(t *testing.T) {
	cfg := sqliteConfig(t)

	var calls atomic.Int32
	opener := func(ctx context.Context, cfg Config) (*sql.DB, error) {
		calls.Add(1)
		return Open(ctx, cfg)
	}
	c := NewConnector(cfg, WithOpener(opener))
	t.Cleanup(func() { _ = c.Close() })

	first, err := c.DB(context.Background())
	require.NoError(t, err)

	c.Release(first, sql.ErrConnDone)
	assert.Equal(t, StateDisconnected, c.State())
	assert.False(t, c.Connected())

	second, err := c.DB(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, int32(2), calls.Load())

	// a stale handle does not evict its replacement
	c.Release(first, sql.ErrConnDone)
	assert.Equal(t, StateConnected, c.State())
	require.NoError(t, c.Ping(context.Background()))
}

func TestConnectorPingDropsClosedHandle(t *testing.T) {
	c := NewConnector(sqliteConfig(t))
	t.Cleanup(func() { _ = c.Close() })

	db, err := c.DB(context.Background())
	require.NoError(t, err)
	require.NoError(t, db.Close())

	require.Error(t, c.Ping(context.Background()))
	assert.Equal(t, StateDisconnected, c.State())

	again, err := c.DB(context.Background())
	require.NoError(t, err)
	require.NoError(t, again.Ping())
	assert.Equal(t, StateConnected, c.State())
}

func TestConnectorPingCancelledKeepsHandle(t *testing.T) {
	c := NewConnector(sqliteConfig(t))
	t.Cleanup(func() { _ = c.Close() })

	_, err := c.DB(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, c.Ping(ctx))
	assert.Equal(t, StateConnected, c.State())
}

func TestIsConnLost(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"statement error", errors.New("no such table: comic_maps"), false},
		{"conn done", fmt.Errorf("get mapping: %w", sql.ErrConnDone), true},
		{"bad conn", driver.ErrBadConn, true},
		{"closed handle", errors.New("get mapping: sql: database is closed"), true},
		{"network", &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}, true},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), false},
		{"cancelled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConnLost(tt.err))
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
}
