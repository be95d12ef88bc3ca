package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"comicmap/internal/mapping"
	"comicmap/pkg/models"
)

const exportPageSize = 200

var (
	exportOut  string
	exportKind string
)

type mappingPage struct {
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
	Items  []models.Mapping `json:"items"`
}

var exportCmd = &cobra.Command{
	Use:       "export <json|csv>",
	Short:     "Export every mapping through the admin API",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"json", "csv"},
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := readToken(tokenPath)
		if err != nil {
			return err
		}

		items, err := fetchMappings(cmd.Context(), httpClient(), baseURL, token, exportKind)
		if err != nil {
			return err
		}

		out := exportOut
		if out == "" {
			out = filepath.Join("data", "mappings."+args[0])
		}
		if args[0] == "json" {
			err = writeJSON(out, items)
		} else {
			err = writeCSV(out, items)
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", out, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "exported %d mappings to %s\n", len(items), out)
		return nil
	},
}

func fetchMappings(ctx context.Context, client *http.Client, base, token, kind string) ([]models.Mapping, error) {
	var out []models.Mapping
	offset := 0
	for {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(exportPageSize))
		q.Set("offset", strconv.Itoa(offset))
		if kind != "" {
			q.Set("kind", kind)
		}

		var page mappingPage
		if err := doJSON(ctx, client, http.MethodGet, base+"/api/admin/mappings?"+q.Encode(), token, nil, &page); err != nil {
			return nil, err
		}
		if len(page.Items) == 0 {
			break
		}
		out = append(out, page.Items...)
		offset += len(page.Items)
		if offset >= page.Total {
			break
		}
	}
	return out, nil
}

func writeJSON(path string, items []models.Mapping) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func writeCSV(path string, items []models.Mapping) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := mapping.NewCSVWriter(f)
	if err != nil {
		return err
	}
	for _, m := range items {
		if err := w.Write(m); err != nil {
			return err
		}
	}
	return w.Flush()
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output path (default data/mappings.<format>)")
	exportCmd.Flags().StringVar(&exportKind, "kind", "", "only export series or chapter")
	rootCmd.AddCommand(exportCmd)
}
