package main

import (
	"fmt"
	"os"

	"github.com/obentoo/bucketkit/internal/common/config"
	"github.com/obentoo/bucketkit/internal/common/logger"
	"github.com/obentoo/bucketkit/internal/common/output"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	quiet      bool
	noColor    bool
	configPath string
	logFile    string
)

// defaultLogFile is the --log-file value given by the bare flag
const defaultLogFile = "default"

// Process exit codes
const (
	exitOK = 0
	// exitFatal reports a configuration error or an unreachable upstream
	exitFatal = 1
	// exitFailures reports per-app failures under the strict policy
	exitFailures = 2
)

var rootCmd = &cobra.Command{
	Use:   "bucketkit",
	Short: "Scoop bucket maintenance tools",
	Long: `Keeps a Scoop bucket current: checks every manifest for a newer upstream
release, rewrites version, download URLs and hashes, and regenerates the
package list in the bucket README.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Configure logging based on flags
		if verbose {
			logger.SetVerbose(true)
		}
		if quiet {
			logger.SetQuiet(true)
		}
		if noColor {
			output.NoColor()
		}
		var err error
		switch logFile {
		case "":
		case defaultLogFile:
			err = logger.Default().EnableFileLogging()
		default:
			err = logger.Default().EnableFileLoggingTo(logFile)
		}
		if err != nil {
			logger.Warn("Cannot write log file: %v", err)
		}
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-error output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ./"+config.LocalConfigFile+")")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write JSON logs to this file (bare flag: the state directory)")
	rootCmd.PersistentFlags().Lookup("log-file").NoOptDefVal = defaultLogFile
}

// loadConfig reads the configuration selected by --config
func loadConfig() (*config.Config, error) {
	cfg, path, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if path != "" {
		logger.Debug("Using config %s", path)
	}
	return cfg, nil
}

// exit flushes the logs and terminates the process
func exit(code int) {
	logger.Default().Close()
	os.Exit(code)
}

// fatal logs an error and exits with exitFatal
func fatal(format string, args ...interface{}) {
	logger.Error(format, args...)
	exit(exitFatal)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		exit(exitFatal)
	}
	exit(exitOK)
}
