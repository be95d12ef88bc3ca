package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"google.golang.org/grpc"

	"comicmap/internal/app"
	"comicmap/internal/grpcserver"
	"comicmap/pkg/utils"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "grpc-server:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := pflag.StringP("config", "c", utils.DefaultConfigPath, "path to YAML config file")
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	addr := pflag.String("addr", "", "gRPC listen address (overrides grpc.addr)")
	pflag.Parse()

	utils.LoadEnvFile(utils.NewLogger(utils.LogConfig{}), *envFile)

	cfg, err := utils.Load(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.GRPC.Addr = *addr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := utils.NewLogger(cfg.Log)
	a := app.New(cfg, logger)
	defer a.Close()
	a.WarmUp()

	listener, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	gs := grpc.NewServer(grpc.UnaryInterceptor(grpcserver.LoggingInterceptor(logger)))
	grpcserver.Register(gs, grpcserver.NewServer(a.Service))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		gs.GracefulStop()
	}()

	logger.Info("grpc server listening", "addr", cfg.GRPC.Addr, "service", grpcserver.ServiceName)
	if err := gs.Serve(listener); err != nil {
		return fmt.Errorf("grpc server stopped: %w", err)
	}
	return nil
}
