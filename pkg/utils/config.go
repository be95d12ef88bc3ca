package utils

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"comicmap/pkg/database"
)

const (
	EnvPrefix         = "COMICMAP_"
	DefaultConfigPath = "comicmap.yaml"
)

type Config struct {
	HTTP     HTTPConfig      `koanf:"http"`
	Store    database.Config `koanf:"store"`
	Cache    CacheConfig     `koanf:"cache"`
	Resolver ResolverConfig  `koanf:"resolver"`
	Sync     SyncConfig      `koanf:"sync"`
	GRPC     GRPCConfig      `koanf:"grpc"`
	Auth     AuthConfig      `koanf:"auth"`
	Log      LogConfig       `koanf:"log"`
}

type HTTPConfig struct {
	Addr        string   `koanf:"addr"`
	CORSOrigins []string `koanf:"cors_origins"`
}

type CacheConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

type ResolverConfig struct {
	// NotFoundPolicy is "not_found" or "fallback".
	NotFoundPolicy string `koanf:"not_found_policy"`
}

type SyncConfig struct {
	TCPAddr string `koanf:"tcp_addr"`
}

type GRPCConfig struct {
	Addr string `koanf:"addr"`
}

// AuthConfig guards the admin API. An empty secret disables it.
type AuthConfig struct {
	JWTSecret   string        `koanf:"jwt_secret"`
	JWTIssuer   string        `koanf:"jwt_issuer"`
	JWTDuration time.Duration `koanf:"jwt_ttl"`
}

func (a AuthConfig) Enabled() bool { return a.JWTSecret != "" }

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Output string `koanf:"output"`
}

func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:        ":8080",
			CORSOrigins: []string{"*"},
		},
		Store:    database.DefaultConfig(),
		Cache:    CacheConfig{TTL: time.Hour},
		Resolver: ResolverConfig{NotFoundPolicy: "not_found"},
		Sync:     SyncConfig{TCPAddr: ":7070"},
		GRPC:     GRPCConfig{Addr: ":9090"},
		Auth: AuthConfig{
			JWTIssuer:   "comicmap",
			JWTDuration: 24 * time.Hour,
		},
		Log: LogConfig{Level: "info", Format: "text", Output: "stdout"},
	}
}

// Load layers defaults, the YAML file at path (if present) and COMICMAP_*
// environment variables, in that order. A double underscore in a variable
// name separates nested keys: COMICMAP_STORE__DSN sets store.dsn.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("access config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Store.DSN == "" {
		cfg.Store.DSN = os.Getenv("DATABASE_URL")
	}

	return cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

var validPolicies = map[string]bool{"not_found": true, "fallback": true}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}

func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if !validPolicies[c.Resolver.NotFoundPolicy] {
		return fmt.Errorf("invalid resolver.not_found_policy %q: must be one of not_found, fallback", c.Resolver.NotFoundPolicy)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if c.Store.ConnectTimeout <= 0 || c.Store.QueryTimeout <= 0 {
		return fmt.Errorf("store timeouts must be positive")
	}
	if c.Store.MaxOpenConns < 0 || c.Store.MinIdleConns < 0 {
		return fmt.Errorf("store pool sizes must be non-negative")
	}
	if c.Log.Level != "" && !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log.level %q", c.Log.Level)
	}
	if f := strings.ToLower(c.Log.Format); f != "" && f != "text" && f != "json" {
		return fmt.Errorf("invalid log.format %q: must be text or json", c.Log.Format)
	}
	if c.Auth.Enabled() && c.Auth.JWTDuration <= 0 {
		return fmt.Errorf("auth.jwt_ttl must be positive")
	}
	return nil
}
