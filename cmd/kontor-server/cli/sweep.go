package cli

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kontorhq/kontor-backend/concurrency"
	"github.com/kontorhq/kontor-backend/config"
	"github.com/kontorhq/kontor-backend/log"
	"github.com/kontorhq/kontor-backend/slotstore"
)

// sweepCmd runs one maintenance sweep and exits. Useful when the periodic
// sweeper is disabled and sweeps run from an external scheduler instead.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one maintenance sweep of the slot accounting",
	Long: `Scan the active users set once and remove the entries whose slot
counters have expired, then exit. Budgets come from the slots configuration
and can be tightened with flags.`,
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			slog.Error("Failed to load configuration", "error", err)
			os.Exit(1)
		}

		log.Configure(cfg.Log)

		store, err := slotstore.NewFromConfig(cfg)
		if err != nil {
			slog.Error("Failed to set up slot store", "error", err)
			os.Exit(1)
		}

		opts := concurrency.SweepOptions{
			MaxOps:     cfg.Slots.SweepMaxOps,
			MaxRuntime: cfg.Slots.SweepMaxRuntime,
			PageSize:   cfg.Slots.SweepScanPageSize,
		}
		if maxOps, _ := cmd.Flags().GetInt("max-ops"); maxOps > 0 {
			opts.MaxOps = maxOps
		}
		if maxRuntime, _ := cmd.Flags().GetDuration("max-runtime"); maxRuntime > 0 {
			opts.MaxRuntime = maxRuntime
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		sweeper := concurrency.NewSweeper(store, cfg.Slots.SweepScanPageSize)
		result, err := sweeper.Sweep(ctx, opts)
		if err != nil {
			slog.Error("Sweep failed", "error", err, "scanned", result.Scanned, "removed", result.Removed)
			os.Exit(1)
		}

		slog.Info("Sweep finished",
			"scanned", result.Scanned,
			"removed", result.Removed,
			"ops", result.Ops,
			"stopReason", result.StopReason)
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().String("config", "", "config file (default is ./config.yaml)")
	sweepCmd.Flags().Int("max-ops", 0, "Cap the number of store operations for this sweep")
	sweepCmd.Flags().Duration("max-runtime", 0, "Cap the wall time for this sweep")
}
