package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hystdevtv/pear/internal/config"
)

var cfg *config.Config

// skipConfig marks commands that run without configuration.
const skipConfig = "skip-config"

var rootCmd = &cobra.Command{
	Use:           "pear",
	Short:         "Email ingestion engine for customer onboarding",
	Long:          "Reads inbound customer emails, extracts contact fields, follows up on missing data and stores completed records.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations[skipConfig] == "true" {
			return nil
		}
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c
		slog.SetDefault(newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat))
		return nil
	},
}

// exitError carries a specific process exit code.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			slog.Warn(ee.msg)
			os.Exit(ee.code)
		}
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
