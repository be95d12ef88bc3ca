package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"comicmap/internal/auth"
	"comicmap/pkg/utils"
)

var (
	tokenSubject string
	tokenSave    bool
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an admin token from the server's auth config",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := utils.Load(cfgFile)
		if err != nil {
			return err
		}

		raw, exp, err := auth.NewTokenService(cfg.Auth).Sign(tokenSubject, auth.RoleAdmin)
		if err != nil {
			return err
		}

		if tokenSave {
			if err := saveToken(tokenPath, raw); err != nil {
				return fmt.Errorf("save token: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "token saved to %s (expires %s)\n", tokenPath, exp.Format("2006-01-02 15:04"))
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), raw)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "cli", "token subject")
	tokenCmd.Flags().BoolVar(&tokenSave, "save", false, "write the token to --token-file instead of stdout")
	rootCmd.AddCommand(tokenCmd)
}
