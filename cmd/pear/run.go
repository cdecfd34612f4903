package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process one batch of inbound messages and print the summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, appOptions{processing: true})
		if err != nil {
			return err
		}
		defer a.Close()

		sum, err := a.batches.RunBatch(ctx)
		if err != nil {
			return err
		}
		return writeJSON(sum)
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Send due reminders and archive expired cases",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		rep, err := a.sweeper.Sweep(ctx)
		if err != nil {
			return err
		}
		return writeJSON(rep)
	},
}

var guardianClear bool

var guardianCmd = &cobra.Command{
	Use:   "guardian",
	Short: "Run a guardian check and print the verdict",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		if guardianClear {
			if err := a.lockdowns.Clear(ctx); err != nil {
				return err
			}
		}
		res := a.guard.Check(ctx)
		if err := writeJSON(res); err != nil {
			return err
		}
		if !res.Allow {
			return &exitError{code: 2, msg: "processing blocked: " + res.Reason}
		}
		return nil
	},
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	guardianCmd.Flags().BoolVar(&guardianClear, "clear-lockdown", false, "clear an active emergency lockdown before checking")
	rootCmd.AddCommand(runCmd, sweepCmd, guardianCmd)
}
