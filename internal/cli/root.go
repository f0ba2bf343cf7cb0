// Package cli provides the command-line interface for the sync agent.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nucleus/sync-agent/internal/config"
	"github.com/nucleus/sync-agent/internal/core"
)

var (
	// Global flags
	configPath string
	logLevel   string

	// Loaded once per invocation
	cfg        *config.Config
	logger     *slog.Logger
	closeLogFn func() error
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "sync-agent",
	Short: "On-premises SQL sync agent",
	Long: `sync-agent authorises with the coordination service, polls the
deployment's job queue, runs each job's query against the school's database,
and uploads the result set as CSV to the storage location the service issues.

Each invocation performs one run; schedule it with cron or a systemd timer.`,
	Version:       core.AgentVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		level, err := config.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger, closeLogFn = config.SetupLogger(cfg.LogFile, level)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLogFn != nil {
			if err := closeLogFn(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
			closeLogFn = nil
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default $SYNC_CONFIG_FILE)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(oauthCmd)
	rootCmd.AddCommand(versionCmd)
}
