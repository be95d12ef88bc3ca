package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"comicmap/pkg/utils"
)

const defaultBaseURL = "http://localhost:8080"

var (
	baseURL   string
	cfgFile   string
	tokenPath string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "comicmap",
	Short: "Client for the comicmap slug/identifier service",
	Long: `comicmap talks to a running comicmap API: it resolves slugs to identifiers
and back, follows the mapping event feed and exports the mapping table.`,
	SilenceUsage: true,
}

func init() {
	def := os.Getenv("COMICMAP_API")
	if def == "" {
		def = defaultBaseURL
	}
	rootCmd.PersistentFlags().StringVar(&baseURL, "api", def, "API base URL")
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", utils.DefaultConfigPath, "config file (used by token)")
	rootCmd.PersistentFlags().StringVar(&tokenPath, "token-file", defaultTokenPath(), "admin token file")
	rootCmd.PersistentFlags().StringVar(&grpcAddr, "grpc", os.Getenv("COMICMAP_GRPC"), "gRPC resolver address; resolve commands use it instead of --api")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 15*time.Second, "request timeout")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func httpClient() *http.Client {
	return &http.Client{Timeout: timeout}
}

func defaultTokenPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./.comicmap-token.json"
	}
	return filepath.Join(home, ".comicmap", "token.json")
}
