package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"comicmap/internal/app"
	synchub "comicmap/internal/sync"
	"comicmap/pkg/utils"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "api-server:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := pflag.StringP("config", "c", utils.DefaultConfigPath, "path to YAML config file")
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	addr := pflag.String("addr", "", "HTTP listen address (overrides http.addr)")
	pflag.Parse()

	boot := utils.NewLogger(utils.LogConfig{Level: "info"})
	utils.LoadEnvFile(boot, *envFile)

	cfg, err := utils.Load(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := utils.NewLogger(cfg.Log)
	a := app.New(cfg, logger)
	defer a.Close()
	a.WarmUp()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpSrv := a.HTTPServer()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	if cfg.Sync.TCPAddr != "" {
		tcpSrv := synchub.NewServer(cfg.Sync.TCPAddr, a.Hub, logger)
		// bind before serving HTTP so a port clash fails fast
		if err := tcpSrv.Listen(); err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tcpSrv.Serve(ctx); err != nil {
				errCh <- err
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("http api listening", "addr", cfg.HTTP.Addr, "store", a.Conn.Dialect(), "not_found_policy", cfg.Resolver.NotFoundPolicy)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server error", "err", err)
	}
	stop()

	logger.Info("shutting down servers")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "err", err)
	}

	wg.Wait()
	logger.Info("servers stopped")
	return nil
}
