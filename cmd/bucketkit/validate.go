package main

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/obentoo/bucketkit/internal/autoupdate"
	"github.com/obentoo/bucketkit/internal/common/logger"
	"github.com/obentoo/bucketkit/internal/common/output"
	"github.com/obentoo/bucketkit/internal/manifest"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [app...]",
	Short: "Check manifests against the schema and the update rules",
	Long: `Validate manifests without contacting any upstream. Each manifest must
match the manifest schema; checkver and autoupdate rules must parse, every
autoupdate variant must have a download in the manifest, and its hash must
use a supported algorithm.

Examples:
  bucketkit validate            Validate every manifest in the bucket
  bucketkit validate git 7zip   Validate only the named apps`,
	Run: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

// validation is the result for one manifest
type validation struct {
	App string
	Err error
}

func runValidate(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fatal("loading config: %v", err)
	}
	bucket, err := cfg.GetBucketPath()
	if err != nil {
		fatal("%v", err)
	}

	results, err := validateBucket(bucket, args)
	if err != nil {
		fatal("%v", err)
	}

	invalid := 0
	for _, r := range results {
		if r.Err != nil {
			invalid++
			output.PrintError("%s: %v", r.App, r.Err)
			continue
		}
		logger.Debug("%s: ok", r.App)
	}

	if invalid > 0 {
		output.Warning.Printf("%d of %d manifest(s) invalid\n", invalid, len(results))
		exit(exitFatal)
	}
	output.PrintSuccess("%d manifest(s) valid", len(results))
}

// validateBucket validates the named manifests, or all of them
func validateBucket(bucket string, apps []string) ([]validation, error) {
	files, err := manifest.List(bucket)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", autoupdate.ErrBucketNotFound, bucket)
		}
		return nil, err
	}

	if len(apps) > 0 {
		if files, err = manifest.Select(files, apps); err != nil {
			return nil, err
		}
	}

	results := make([]validation, 0, len(files))
	for _, f := range files {
		results = append(results, validation{App: manifest.NameFromPath(f), Err: validateManifest(f)})
	}
	return results, nil
}

// validateManifest returns every problem found in the manifest at path
func validateManifest(path string) error {
	m, err := manifest.Load(path)
	if err != nil {
		return err
	}

	var errs []error
	cv, err := m.Checkver()
	if err != nil {
		errs = append(errs, err)
	} else if cv != nil && cv.Regex != "" {
		if _, err := regexp.Compile(cv.Regex); err != nil {
			errs = append(errs, fmt.Errorf("checkver regex: %w", err))
		}
	}

	au, err := m.Autoupdate()
	if err != nil {
		errs = append(errs, err)
	}
	if au != nil {
		if cv == nil {
			errs = append(errs, errors.New("autoupdate without checkver is never run"))
		}
		for _, variant := range au.VariantNames() {
			label := variant
			if label == "" {
				label = "root"
			}
			if m.URL(variant) == "" {
				errs = append(errs, fmt.Errorf("autoupdate variant %s has no download in the manifest", label))
				continue
			}
			if _, err := autoupdate.AlgorithmOf(m.Hash(variant)); err != nil {
				errs = append(errs, fmt.Errorf("variant %s: %w", label, err))
			}
		}
	}
	return errors.Join(errs...)
}
