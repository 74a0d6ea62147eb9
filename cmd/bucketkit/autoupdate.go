package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/obentoo/bucketkit/internal/autoupdate"
	"github.com/obentoo/bucketkit/internal/common/config"
	"github.com/obentoo/bucketkit/internal/common/github"
	"github.com/obentoo/bucketkit/internal/common/logger"
	"github.com/obentoo/bucketkit/internal/common/output"
	"github.com/obentoo/bucketkit/internal/common/version"
	"github.com/spf13/cobra"
)

// updateFlags are the flags shared by autoupdate and run
type updateFlags struct {
	dryRun      bool
	jobs        int
	strict      bool
	compare     string
	report      string
	metricsFile string
	progress    bool
	verify      bool
}

func (f *updateFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Compute updates without writing any file")
	cmd.Flags().IntVarP(&f.jobs, "jobs", "j", 0, "Number of apps processed concurrently (default from config)")
	cmd.Flags().BoolVar(&f.strict, "strict", false, "Exit with status 2 when any app fails")
	cmd.Flags().StringVar(&f.compare, "compare", "", "Version comparison: exact or newer (default from config)")
	cmd.Flags().StringVar(&f.report, "report", "", "Write a JSON run report to this path")
	cmd.Flags().StringVar(&f.metricsFile, "metrics-file", "", "Write Prometheus textfile metrics to this path")
	cmd.Flags().BoolVar(&f.progress, "progress", false, "Show download progress (requires --jobs 1)")
	cmd.Flags().BoolVar(&f.verify, "verify-hashes", false, "Re-hash the downloads of up-to-date apps and fix stale hashes")
}

// apply folds the flag values into cfg and revalidates it
func (f *updateFlags) apply(cfg *config.Config) error {
	if f.jobs != 0 {
		cfg.Update.Jobs = f.jobs
	}
	if f.compare != "" {
		cfg.Update.Compare = f.compare
	}
	if f.strict {
		cfg.Update.FailurePolicy = "strict"
	}
	if f.verify {
		cfg.Update.VerifyHashes = true
	}
	return cfg.Validate()
}

var autoupdateOpts updateFlags

var autoupdateCmd = &cobra.Command{
	Use:   "autoupdate [app...]",
	Short: "Update manifests to the latest upstream release",
	Long: `Check every manifest that has checkver and autoupdate rules for a newer
upstream release. Updated manifests get the new version, download URLs and
hashes; failures leave the manifest untouched and are reported per app.

Examples:
  bucketkit autoupdate                         Update every app in the bucket
  bucketkit autoupdate git 7zip                Update only the named apps
  bucketkit autoupdate --dry-run               Show what would change
  bucketkit autoupdate --jobs 1 --progress     Update sequentially with progress bars
  bucketkit autoupdate --verify-hashes         Also fix stale hashes of current versions
  bucketkit autoupdate --strict --report out/report.json`,
	Run: runAutoupdate,
}

func init() {
	autoupdateOpts.register(autoupdateCmd)
	rootCmd.AddCommand(autoupdateCmd)
}

func runAutoupdate(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fatal("loading config: %v", err)
	}
	if err := autoupdateOpts.apply(cfg); err != nil {
		fatal("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	summary, err := updateBucket(ctx, cfg, &autoupdateOpts, args)
	if err != nil {
		fatal("%v", err)
	}

	printSummary(os.Stdout, summary)
	exit(exitCode(summary, cfg.Update.FailurePolicy))
}

// newUpdater wires the release client, checker and hasher from cfg
func newUpdater(cfg *config.Config, f *updateFlags) (*autoupdate.Updater, error) {
	bucket, err := cfg.GetBucketPath()
	if err != nil {
		return nil, err
	}

	retry := autoupdate.NewRetryableHTTPClientWithConfig(autoupdate.RetryConfig{
		MaxRetries: cfg.Update.Retries,
		BaseDelay:  1 * time.Second,
		MaxDelay:   4 * time.Second,
		Timeout:    cfg.Update.Timeout,
	})
	retry.SetUserAgent("bucketkit/" + version.Short())

	ghOpts := []github.Option{
		github.WithBaseURL(cfg.GitHub.APIURL),
		github.WithHTTPClient(retry.HTTPClient()),
	}
	switch {
	case cfg.GitHub.AppID != 0:
		ghOpts = append(ghOpts, github.WithAppAuth(cfg.GitHub.AppID, cfg.GitHub.InstallationID, cfg.GitHub.PrivateKeyPath))
	case cfg.GitHub.Token != "":
		ghOpts = append(ghOpts, github.WithToken(cfg.GitHub.Token))
	default:
		logger.Debug("No GitHub credentials configured, using the anonymous rate limit")
	}
	client, err := github.NewClient(ghOpts...)
	if err != nil {
		return nil, err
	}

	checker, err := autoupdate.NewChecker(client, retry.HTTPClient())
	if err != nil {
		return nil, err
	}

	var hasherOpts []autoupdate.HasherOption
	switch {
	case !f.progress:
	case cfg.Update.Jobs != 1:
		logger.Warn("--progress needs --jobs 1, progress bars disabled")
	case !output.IsTerminal():
		logger.Debug("stderr is not a terminal, progress bars disabled")
	default:
		hasherOpts = append(hasherOpts, autoupdate.WithProgress(os.Stderr))
	}
	hasher := autoupdate.NewHasher(retry.HTTPClientWithTimeout(cfg.Update.DownloadTimeout), hasherOpts...)

	overrides, err := autoupdate.LoadAppsConfig(cfg.Bucket.Overrides)
	if err != nil {
		return nil, fmt.Errorf("loading overrides: %w", err)
	}

	return autoupdate.NewUpdater(bucket, checker, hasher,
		autoupdate.WithJobs(cfg.Update.Jobs),
		autoupdate.WithCompareMode(cfg.Update.Compare),
		autoupdate.WithDryRun(f.dryRun),
		autoupdate.WithOverrides(overrides),
		autoupdate.WithQuotaChecker(client),
		autoupdate.WithVerifyHashes(cfg.Update.VerifyHashes),
	)
}

// updateBucket runs one update pass and writes the requested report and
// metrics files. A returned error is fatal.
func updateBucket(ctx context.Context, cfg *config.Config, f *updateFlags, apps []string) (*autoupdate.Summary, error) {
	updater, err := newUpdater(cfg, f)
	if err != nil {
		return nil, err
	}

	summary, err := updater.UpdateAll(ctx, apps...)
	if err != nil {
		return nil, err
	}

	if f.report != "" {
		if err := autoupdate.NewReport(summary).Save(f.report); err != nil {
			return summary, fmt.Errorf("writing report: %w", err)
		}
		logger.Debug("Report written to %s", f.report)
	}
	if f.metricsFile != "" {
		if err := autoupdate.WriteMetrics(f.metricsFile, summary); err != nil {
			return summary, fmt.Errorf("writing metrics: %w", err)
		}
	}
	return summary, nil
}

// exitCode maps a completed run to the process exit status
func exitCode(s *autoupdate.Summary, policy string) int {
	if policy == "strict" && s.Failures() > 0 {
		return exitFailures
	}
	return exitOK
}

// printSummary writes the per-app result table
func printSummary(w io.Writer, s *autoupdate.Summary) {
	if len(s.Results) == 0 {
		logger.Info("No manifests in %s", s.Bucket)
		return
	}

	fmt.Fprintln(w)
	output.Header.Fprintln(w, "Update Results")
	fmt.Fprintln(w)

	for _, r := range s.Results {
		fmt.Fprintf(w, "  %s %s", output.FormatOutcome(string(r.Outcome)), output.FormatApp(r.App))
		switch {
		case r.Outcome == autoupdate.OutcomeUpdated:
			fmt.Fprintf(w, ": %s → %s", r.Current, r.Latest)
		case r.Outcome == autoupdate.OutcomeHashRefreshed:
			fmt.Fprintf(w, ": %s (hash refreshed)", r.Current)
		case r.Error != "":
			output.Dim.Fprintf(w, ": %s", r.Error)
		case r.Current != "":
			output.Dim.Fprintf(w, ": %s", r.Current)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w)
	updated := len(s.Updated())
	failures := s.Failures()
	if updated > 0 {
		output.Success.Fprintf(w, "%d app(s) updated\n", updated)
	} else {
		output.Success.Fprintln(w, "No app needed an update")
	}
	if failures > 0 {
		output.Warning.Fprintf(w, "%d app(s) failed\n", failures)
	}
	if s.DryRun {
		output.Info.Fprintln(w, "Dry run: no manifest was written")
	}
}
