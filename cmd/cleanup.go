package cmd

import (
	"errors"
	"time"

	"tankobon/downloader"

	"github.com/spf13/cobra"
)

var (
	flagSweep      bool
	flagStaleAfter time.Duration
)

func init() {
	cleanupCmd := &cobra.Command{
		Use:   "cleanup [path]",
		Short: "Remove a batch directory, or sweep stale ones",
		Long: `Remove the batch directory that contains path (a batch folder, a chapter
folder or the packaged archive), or with --sweep every batch directory in the
download folder that has not changed for --older-than.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runCleanup,
	}
	cleanupCmd.Flags().BoolVar(&flagSweep, "sweep", false, "remove every stale batch directory")
	cleanupCmd.Flags().DurationVar(&flagStaleAfter, "older-than", 0, "age after which a batch is stale (default from config)")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	switch {
	case flagSweep:
		age := cfg.StaleAfter
		if flagStaleAfter > 0 {
			age = flagStaleAfter
		}
		n, err := downloader.Sweep(cfg.DownloadDir, age)
		if err != nil {
			return err
		}
		successStyle.Fprintf(cmd.OutOrStdout(), "✓ Removed %d stale batch directories\n", n)
		return nil
	case len(args) == 1:
		if err := downloader.Cleanup(cfg.DownloadDir, args[0]); err != nil {
			return err
		}
		successStyle.Fprintln(cmd.OutOrStdout(), "✓ Removed")
		return nil
	default:
		return errors.New("give a path or --sweep")
	}
}
