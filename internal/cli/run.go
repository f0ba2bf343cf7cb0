package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nucleus/sync-agent/internal/core"
	"github.com/nucleus/sync-agent/internal/pipeline"
)

var (
	runSQLTimeout time.Duration
	runSpoolDir   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Perform one sync run",
	Long: `Perform one sync run: authorise, poll the job queue, then extract and
upload each job in queue order, reporting progress to the job manager.

A failed job does not stop the run. The command exits non-zero only when
authorisation or polling fails.

Examples:
  sync-agent run
  sync-agent run --config /etc/sync-agent.yaml --sql-timeout 30m`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	runCmd.Flags().DurationVar(&runSQLTimeout, "sql-timeout", 0, "connect and query timeout (overrides config)")
	runCmd.Flags().StringVar(&runSpoolDir, "spool-dir", "", "directory for staged CSV payloads (overrides config)")
}

func runSync(cmd *cobra.Command, args []string) error {
	if runSQLTimeout > 0 {
		cfg.SQLTimeout = runSQLTimeout
	}
	if runSpoolDir != "" {
		cfg.SpoolDir = runSpoolDir
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, closeFn, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeFn(); err != nil {
			logger.Warn("failed to release resources", "error", err)
		}
	}()

	sum, err := p.Run(ctx)
	if core.IsRunFatal(err) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Sync run aborted. If this persists, contact %s or visit %s.\n",
			cfg.SupportEmail, cfg.SupportWebsite)
		return err
	}
	printSummary(cmd, sum)
	return err
}

func printSummary(cmd *cobra.Command, sum pipeline.Summary) {
	out := cmd.OutOrStdout()
	if sum.Jobs == 0 {
		fmt.Fprintln(out, "No jobs processed.")
		return
	}
	fmt.Fprintf(out, "Run %s: %d job(s)\n", sum.RunID, sum.Jobs)
	for _, st := range []pipeline.State{
		pipeline.StateUploaded,
		pipeline.StateUploadAbandoned,
		pipeline.StateUploadFailed,
		pipeline.StateExtractFailed,
	} {
		if n := sum.ByState[st]; n > 0 {
			fmt.Fprintf(out, "  %-18s %d\n", st, n)
		}
	}
}

