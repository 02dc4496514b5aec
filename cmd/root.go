package cmd

import (
	"io"
	"os"

	"tankobon/config"
	_ "tankobon/sites" // registers every source adapter

	"github.com/spf13/cobra"
)

var (
	flagConfig string
	flagDebug  bool

	cfg       config.Config
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:           "tankobon",
	Short:         "Multi-source comic chapter downloader and archive server",
	SilenceUsage:  true,
	SilenceErrors: true,

	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		if flagDebug {
			loaded.LogLevel = "debug"
		}
		closer, err := config.InitLogging(loaded)
		if err != nil {
			return err
		}
		cfg, logCloser = loaded, closer
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		closeLogging()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default <config dir>/tankobon/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
}

func closeLogging() {
	if logCloser != nil {
		_ = logCloser.Close()
		logCloser = nil
	}
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	err := rootCmd.Execute()
	closeLogging()
	if err != nil {
		errorStyle.Fprintf(os.Stderr, "✗ %v\n", err)
		os.Exit(1)
	}
}
