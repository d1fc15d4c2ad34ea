package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/lockplane/dbreconcile/internal/sandbox"
)

var sandboxOlderThan time.Duration

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Manage sandbox namespaces",
}

func init() {
	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Drop sandbox namespaces left behind by interrupted runs",
		RunE:  runSandboxSweep,
	}
	sweepCmd.Flags().DurationVar(&sandboxOlderThan, "older-than", time.Hour, "Only drop sandboxes created at least this long ago")

	sandboxCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(sandboxCmd)
}

func runSandboxSweep(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	engine, db, err := openTarget(cmd.Context(), settings)
	if err != nil {
		return err
	}
	defer closeDB(db, logger)

	dropped, err := sandbox.Sweep(cmd.Context(), engine, db, time.Now().Add(-sandboxOlderThan), logger)
	if err != nil {
		return err
	}
	success(cmd, "Dropped %d stale sandbox(es)", len(dropped))
	return nil
}
