package main

import (
	"context"
	"fmt"
	"os"
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
	in := pflag.StringP("in", "i", "data/comic_maps.csv", "input CSV path")
	timeout := pflag.Duration("timeout", 5*time.Minute, "overall import timeout")
	pflag.Parse()

	logger := utils.NewLogger(utils.LogConfig{})

	cfg, err := utils.Load(*configPath)
	if err != nil {
		logger.Error("load config failed", "err", err)
		os.Exit(1)
	}
	store := cfg.Store
	if *dsn != "" {
		store.DSN = *dsn
	}
	if !store.Configured() {
		store.DSN = database.DefaultSQLitePath()
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn := database.NewConnector(store, database.WithLogger(logger))
	defer conn.Close()

	db, err := conn.DB(ctx)
	if err != nil {
		logger.Error("store connect failed", "err", err)
		os.Exit(1)
	}

	res, err := importFile(ctx, mapping.NewRepo(db, conn.Dialect()), *in)
	if err != nil {
		logger.Error("import failed", "err", err, "inserted", res.Inserted, "skipped", res.Skipped)
		os.Exit(1)
	}
	logger.Info("imported mappings", "path", *in, "inserted", res.Inserted, "skipped", res.Skipped)
}

type result struct {
	Inserted int
	Skipped  int
}

// importFile never overwrites: rows whose identifier or slug/type pair is
// already stored are counted as skipped.
func importFile(ctx context.Context, repo *mapping.Repo, path string) (result, error) {
	var res result

	f, err := os.Open(path)
	if err != nil {
		return res, err
	}
	defer f.Close()

	err = mapping.ReadCSV(f, func(m models.Mapping) error {
		ok, err := repo.InsertIfAbsent(ctx, m)
		if err != nil {
			return fmt.Errorf("insert %s: %w", m.Identifier, err)
		}
		if ok {
			res.Inserted++
		} else {
			res.Skipped++
		}
		return nil
	})
	return res, err
}
