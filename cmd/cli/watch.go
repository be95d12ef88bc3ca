package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	synchub "comicmap/internal/sync"
)

var (
	watchTCP    string
	watchPretty bool
	watchRetry  time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow mapping.created events (WebSocket by default, --tcp for the line feed)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))

		follow := func(ctx context.Context) error {
			if watchTCP != "" {
				return synchub.FollowTCP(ctx, watchTCP, printEvent(out, watchPretty))
			}
			u, err := websocketURL(baseURL, "/ws")
			if err != nil {
				return err
			}
			return synchub.FollowWS(ctx, u, printEvent(out, watchPretty))
		}

		for {
			err := follow(ctx)
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("feed disconnected, reconnecting", "err", err, "in", watchRetry)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(watchRetry):
			}
		}
	},
}

func printEvent(w io.Writer, pretty bool) func([]byte) error {
	return func(line []byte) error {
		if !pretty {
			_, err := fmt.Fprintln(w, string(line))
			return err
		}
		var obj map[string]any
		if err := json.Unmarshal(line, &obj); err != nil {
			_, err := fmt.Fprintln(w, string(line))
			return err
		}
		return printJSON(w, obj)
	}
}

func init() {
	watchCmd.Flags().StringVar(&watchTCP, "tcp", "", "TCP feed address, e.g. 127.0.0.1:7070")
	watchCmd.Flags().BoolVar(&watchPretty, "pretty", true, "pretty print JSON events")
	watchCmd.Flags().DurationVar(&watchRetry, "retry", time.Second, "delay before reconnecting")
	rootCmd.AddCommand(watchCmd)
}
