package main

import (
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var sweepWatch bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Reclassify expiring certifications and recompute owner scores",
	Long: `Finds live certifications that expired or entered the expiring-soon window,
persists their new status, recomputes each affected owner and sends expiry
and tier-change notifications. Safe to run on any schedule.

Examples:
  # One pass, report printed as JSON
  sweep

  # Keep running every expiry.interval_secs
  sweep --watch`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "sweep")
		if err != nil {
			return err
		}
		defer env.Close()

		if sweepWatch {
			env.Monitor.Run(ctx)
			return nil
		}

		report, err := env.Monitor.Sweep(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepWatch, "watch", false, "keep sweeping on the configured interval")
	rootCmd.AddCommand(sweepCmd)
}
