package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/obentoo/bucketkit/internal/common/logger"
	"github.com/spf13/cobra"
)

var runOpts updateFlags

var runCmd = &cobra.Command{
	Use:   "run [app...]",
	Short: "Update manifests, then regenerate the README",
	Long: `Run the full maintenance pass: autoupdate followed by readme. The README is
regenerated even when some apps failed to update. With --dry-run nothing is
written, the README included.

Examples:
  bucketkit run                      Scheduled maintenance of the whole bucket
  bucketkit run --strict --report report.json --metrics-file bucketkit.prom`,
	Run: runAll,
}

func init() {
	runOpts.register(runCmd)
	rootCmd.AddCommand(runCmd)
}

func runAll(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fatal("loading config: %v", err)
	}
	if err := runOpts.apply(cfg); err != nil {
		fatal("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	summary, err := updateBucket(ctx, cfg, &runOpts, args)
	if err != nil {
		fatal("%v", err)
	}
	printSummary(os.Stdout, summary)

	if runOpts.dryRun {
		logger.Info("Dry run: README not regenerated")
	} else if err := reportReadme(cfg); err != nil {
		fatal("%v", err)
	}

	exit(exitCode(summary, cfg.Update.FailurePolicy))
}
