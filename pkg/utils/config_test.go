package utils

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, []string{"*"}, cfg.HTTP.CORSOrigins)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, "not_found", cfg.Resolver.NotFoundPolicy)
	assert.Equal(t, 8*time.Second, cfg.Store.ConnectTimeout)
	assert.Equal(t, 10, cfg.Store.MaxOpenConns)
	assert.Equal(t, 2, cfg.Store.MinIdleConns)
	assert.Empty(t, cfg.Store.DSN)
	assert.False(t, cfg.Auth.Enabled())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeFile(t, "comicmap.yaml", `
http:
  addr: ":9000"
store:
  dsn: /tmp/from-file.db
  query_timeout: 2s
cache:
  ttl: 10m
resolver:
  not_found_policy: fallback
`)
	t.Setenv("COMICMAP_STORE__DSN", "postgres://localhost/comicmap")
	t.Setenv("COMICMAP_AUTH__JWT_SECRET", "s3cret")
	t.Setenv("COMICMAP_STORE__MAX_OPEN_CONNS", "4")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, "postgres://localhost/comicmap", cfg.Store.DSN)
	assert.Equal(t, 2*time.Second, cfg.Store.QueryTimeout)
	assert.Equal(t, 4, cfg.Store.MaxOpenConns)
	assert.Equal(t, 8*time.Second, cfg.Store.ConnectTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "fallback", cfg.Resolver.NotFoundPolicy)
	assert.True(t, cfg.Auth.Enabled())
	assert.Equal(t, "comicmap", cfg.Auth.JWTIssuer)
}

func TestLoadDatabaseURLFallback(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite:///tmp/fallback.db")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite:///tmp/fallback.db", cfg.Store.DSN)
}

func TestLoadBadYAML(t *testing.T) {
	path := writeFile(t, "bad.yaml", "http: [unterminated")
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"empty addr", func(c *Config) { c.HTTP.Addr = "" }, false},
		{"unknown policy", func(c *Config) { c.Resolver.NotFoundPolicy = "ignore" }, false},
		{"zero ttl", func(c *Config) { c.Cache.TTL = 0 }, false},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, false},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, false},
		{"auth without ttl", func(c *Config) { c.Auth.JWTSecret = "x"; c.Auth.JWTDuration = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestNewLoggerFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, LogConfig{Level: "warn", Format: "json"})

	l.Info("hidden")
	l.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"k":"v"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestLoadEnvFile(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	path := writeFile(t, ".env", "COMICMAP_TEST_ENVFILE=loaded\n")
	t.Setenv("COMICMAP_TEST_ENVFILE", "")
	os.Unsetenv("COMICMAP_TEST_ENVFILE")

	assert.True(t, LoadEnvFile(logger, path))
	assert.Equal(t, "loaded", os.Getenv("COMICMAP_TEST_ENVFILE"))
	assert.False(t, LoadEnvFile(logger, filepath.Join(t.TempDir(), "nope.env")))
}
