package main

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

var (
	getIDSlug string
	getIDType string
	bulkType  string
)

var getIDCmd = &cobra.Command{
	Use:   "get-id",
	Short: "Resolve a slug to its identifier, creating it if needed",
	RunE: func(cmd *cobra.Command, args []string) error {
		if grpcAddr != "" {
			return viaGRPC(cmd, rpcGetID(getIDSlug, getIDType))
		}
		var resp map[string]any
		payload := map[string]string{"slug": getIDSlug, "type": getIDType}
		if err := doJSON(cmd.Context(), httpClient(), http.MethodPost, baseURL+"/api/get-id", "", payload, &resp); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), resp)
	},
}

var getSlugCmd = &cobra.Command{
	Use:   "get-slug <id>",
	Short: "Resolve an identifier back to its slug",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if grpcAddr != "" {
			return viaGRPC(cmd, rpcGetSlug(args[0]))
		}
		var resp map[string]any
		endpoint := baseURL + "/api/get-slug/" + url.PathEscape(strings.TrimSpace(args[0]))
		if err := doJSON(cmd.Context(), httpClient(), http.MethodGet, endpoint, "", nil, &resp); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), resp)
	},
}

var bulkSyncCmd = &cobra.Command{
	Use:   "bulk-sync <slug>...",
	Short: "Resolve many slugs of one type in a single request",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if grpcAddr != "" {
			return viaGRPC(cmd, rpcBulkSync(args, bulkType))
		}
		var resp map[string]string
		payload := map[string]any{"slugs": args, "type": bulkType}
		if err := doJSON(cmd.Context(), httpClient(), http.MethodPost, baseURL+"/api/bulk-sync", "", payload, &resp); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), resp)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show service health",
	RunE: func(cmd *cobra.Command, args []string) error {
		if grpcAddr != "" {
			return viaGRPC(cmd, rpcHealth)
		}
		var resp map[string]any
		if err := doJSON(cmd.Context(), httpClient(), http.MethodGet, baseURL+"/api/health", "", nil, &resp); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), resp)
	},
}

func init() {
	getIDCmd.Flags().StringVar(&getIDSlug, "slug", "", "slug to resolve")
	getIDCmd.Flags().StringVar(&getIDType, "type", "series", "series or chapter")
	_ = getIDCmd.MarkFlagRequired("slug")

	bulkSyncCmd.Flags().StringVar(&bulkType, "type", "series", "series or chapter")

	rootCmd.AddCommand(getIDCmd, getSlugCmd, bulkSyncCmd, healthCmd)
}
