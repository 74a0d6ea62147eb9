package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/obentoo/bucketkit/internal/autoupdate"
	"github.com/obentoo/bucketkit/internal/common/config"
	"github.com/obentoo/bucketkit/internal/common/logger"
	"github.com/obentoo/bucketkit/internal/common/output"
	"github.com/obentoo/bucketkit/internal/manifest"
	"github.com/obentoo/bucketkit/internal/readme"
	"github.com/spf13/cobra"
)

// readmeFormat overrides the configured list format
var readmeFormat string

var readmeCmd = &cobra.Command{
	Use:   "readme",
	Short: "Regenerate the package list in the bucket README",
	Long: `Rewrite the list of applications between the package list markers of the
bucket README. Everything outside the markers is left as it is. A missing
README is created from a sample that already contains the markers.

Examples:
  bucketkit readme                   Regenerate with the configured format
  bucketkit readme --format markdown Render a bullet list of code spans`,
	Args: cobra.NoArgs,
	Run:  runReadme,
}

func init() {
	readmeCmd.Flags().StringVar(&readmeFormat, "format", "", "List format: plain or markdown (default from config)")
	rootCmd.AddCommand(readmeCmd)
}

func runReadme(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fatal("loading config: %v", err)
	}
	if readmeFormat != "" {
		cfg.Readme.Format = readmeFormat
		if err := cfg.Validate(); err != nil {
			fatal("%v", err)
		}
	}

	if err := reportReadme(cfg); err != nil {
		fatal("%v", err)
	}
}

// reportReadme regenerates the README and tells the user what happened.
// Missing markers only warn.
func reportReadme(cfg *config.Config) error {
	path, _ := cfg.GetReadmePath()
	changed, err := regenerateReadme(cfg)
	switch {
	case errors.Is(err, readme.ErrMarkersNotFound):
		logger.Warn("%v; README left unchanged", err)
	case err != nil:
		return err
	case changed:
		output.PrintSuccess("Package list in %s regenerated", path)
	default:
		logger.Info("Package list in %s is up to date", path)
	}
	return nil
}

// regenerateReadme renders the bucket's app names into the configured README
func regenerateReadme(cfg *config.Config) (bool, error) {
	bucket, err := cfg.GetBucketPath()
	if err != nil {
		return false, err
	}
	names, err := manifest.Names(bucket)
	if err != nil {
		if os.IsNotExist(err) {
			return false, fmt.Errorf("%w: %s", autoupdate.ErrBucketNotFound, bucket)
		}
		return false, err
	}

	path, err := cfg.GetReadmePath()
	if err != nil {
		return false, err
	}

	g := readme.New(path, readme.Options{
		StartMarker:       cfg.Readme.StartMarker,
		EndMarker:         cfg.Readme.EndMarker,
		Format:            readme.Format(cfg.Readme.Format),
		ResolveRepository: func() string {
			return readme.DetectRepository(os.Getenv, filepath.Dir(path))
		},
	})
	return g.Regenerate(names)
}
