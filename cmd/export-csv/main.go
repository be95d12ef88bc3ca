package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"comicmap/internal/mapping"
	"comicmap/pkg/database"
	"comicmap/pkg/models"
	"comicmap/pkg/utils"
)

func main() {
	configPath := pflag.StringP("config", "c", utils.DefaultConfigPath, "path to YAML config file")
	dsn := pflag.String("dsn", "", "store DSN (overrides store.dsn; defaults to the local SQLite file)")
	out := pflag.StringP("out", "o", "data/comic_maps.csv", "output CSV path")
	timeout := pflag.Duration("timeout", 60*time.Second, "overall export timeout")
	pflag.Parse()

	logger := utils.NewLogger(utils.LogConfig{})

	cfg, err := utils.Load(*configPath)
	if err != nil {
		logger.Error("load config failed", "err", err)
		os.Exit(1)
	}
	store := storeConfig(cfg.Store, *dsn)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn := database.NewConnector(store, database.WithLogger(logger))
	defer conn.Close()

	db, err := conn.DB(ctx)
	if err != nil {
		logger.Error("store connect failed", "err", err)
		os.Exit(1)
	}

	n, err := export(ctx, mapping.NewRepo(db, conn.Dialect()), *out)
	if err != nil {
		logger.Error("export failed", "err", err)
		os.Exit(1)
	}
	logger.Info("exported mappings", "rows", n, "path", *out)
}

func storeConfig(cfg database.Config, dsn string) database.Config {
	if dsn != "" {
		cfg.DSN = dsn
	}
	if !cfg.Configured() {
		cfg.DSN = database.DefaultSQLitePath()
	}
	return cfg
}

func export(ctx context.Context, repo *mapping.Repo, outPath string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return 0, err
	}

	f, err := os.Create(outPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	w, err := mapping.NewCSVWriter(f)
	if err != nil {
		return 0, err
	}

	n := 0
	err = repo.Each(ctx, func(m models.Mapping) error {
		n++
		return w.Write(m)
	})
	if err != nil {
		return n, fmt.Errorf("export rows: %w", err)
	}
	return n, w.Flush()
}
