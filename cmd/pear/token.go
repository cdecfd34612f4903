package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hystdevtv/pear/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:         "token",
	Short:       "Generate an ingest API token and its bcrypt hash",
	Annotations: map[string]string{skipConfig: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := auth.GenerateToken()
		if err != nil {
			return err
		}
		hash, err := auth.HashToken(token)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "token:             %s\n", token)
		// Single quotes keep .env loaders from expanding the $ signs in the hash.
		fmt.Fprintf(out, "INGEST_TOKEN_HASH='%s'\n", hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}
