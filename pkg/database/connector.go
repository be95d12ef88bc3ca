package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"comicmap/pkg/metrics"
)

// ErrNotConfigured is returned by Connector.DB when no DSN was given.
var ErrNotConfigured = errors.New("store not configured")

var connectAttempts = metrics.MustRegisterCounterVec(
	metrics.Namespace,
	"store",
	"connect_attempts_total",
	"Number of store connection attempts by result.",
	"result",
)

var connectedGauge = metrics.MustRegisterGauge(
	metrics.Namespace,
	"store",
	"connected",
	"1 while a store handle is cached, 0 otherwise.",
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// OpenFunc establishes a ready-to-use handle. Open is the default.
type OpenFunc func(ctx context.Context, cfg Config) (*sql.DB, error)

type ConnectorOption func(*Connector)

func WithOpener(fn OpenFunc) ConnectorOption {
	return func(c *Connector) { c.open = fn }
}

func WithLogger(l *slog.Logger) ConnectorOption {
	return func(c *Connector) { c.logger = l }
}

// Connector lazily opens, migrates and caches one *sql.DB. Failed attempts
// are not cached: the next caller retries.
type Connector struct {
	cfg     Config
	dialect Dialect
	open    OpenFunc
	logger  *slog.Logger

	group singleflight.Group

	mu    sync.RWMutex
	db    *sql.DB
	state State
}

func NewConnector(cfg Config, opts ...ConnectorOption) *Connector {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConfig().ConnectTimeout
	}
	c := &Connector{
		cfg:     cfg,
		dialect: cfg.Dialect(),
		open:    Open,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Connector) Config() Config   { return c.cfg }
func (c *Connector) Dialect() Dialect { return c.dialect }

func (c *Connector) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Connected reports whether a handle is cached, without connecting.
func (c *Connector) Connected() bool {
	return c.State() == StateConnected
}

// DB returns the cached handle, connecting first if needed. Concurrent
// callers share one attempt; each waits no longer than its own ctx.
func (c *Connector) DB(ctx context.Context) (*sql.DB, error) {
	if !c.cfg.Configured() {
		return nil, ErrNotConfigured
	}

	c.mu.RLock()
	db := c.db
	c.mu.RUnlock()
	if db != nil {
		return db, nil
	}

	ch := c.group.DoChan("connect", func() (any, error) {
		return c.connect()
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*sql.DB), nil
	}
}

func (c *Connector) connect() (*sql.DB, error) {
	c.mu.Lock()
	if c.db != nil {
		db := c.db
		c.mu.Unlock()
		return db, nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	// detached: a caller giving up must not abort the shared attempt
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()

	start := time.Now()
	db, err := c.open(ctx, c.cfg)
	if err == nil {
		if err = Migrate(ctx, db, c.dialect); err != nil {
			_ = db.Close()
			err = fmt.Errorf("migrate: %w", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.state = StateDisconnected
		connectedGauge.Set(0)
		connectAttempts.WithLabelValues("failure").Inc()
		c.logger.Error("store connect failed", "dialect", c.dialect, "err", err, "elapsed", time.Since(start))
		return nil, err
	}

	c.db = db
	c.state = StateConnected
	connectedGauge.Set(1)
	connectAttempts.WithLabelValues("success").Inc()
	c.logger.Info("store connected", "dialect", c.dialect, "elapsed", time.Since(start))
	return db, nil
}

// Ping checks the cached handle. It never opens a new connection; a failed
// ping drops the handle so the next DB call reconnects.
func (c *Connector) Ping(ctx context.Context) error {
	c.mu.RLock()
	db := c.db
	c.mu.RUnlock()
	if db == nil {
		if !c.cfg.Configured() {
			return ErrNotConfigured
		}
		return errors.New("store not connected")
	}
	if err := db.PingContext(ctx); err != nil {
		// a caller giving up says nothing about the store
		if ctx.Err() == nil {
			c.Release(db, err)
		}
		return err
	}
	return nil
}

// Release drops db if it is still the cached handle and returns the connector
// to disconnected. A handle that was already replaced is left alone.
func (c *Connector) Release(db *sql.DB, cause error) {
	c.mu.Lock()
	if db == nil || c.db != db {
		c.mu.Unlock()
		return
	}
	c.db = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	connectedGauge.Set(0)
	c.logger.Warn("store connection lost", "dialect", c.dialect, "err", cause)
	go func() { _ = db.Close() }()
}

// IsConnLost reports whether err means the handle itself is unusable, as
// opposed to a failing statement.
func IsConnLost(err error) bool {
	// context.DeadlineExceeded satisfies net.Error
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	// database/sql does not export its closed-handle error
	return strings.Contains(err.Error(), "sql: database is closed")
}

func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	c.state = StateDisconnected
	connectedGauge.Set(0)
	return err
}
