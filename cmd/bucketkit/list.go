package main

import (
	"fmt"
	"os"

	"github.com/obentoo/bucketkit/internal/autoupdate"
	"github.com/obentoo/bucketkit/internal/manifest"
	"github.com/obentoo/bucketkit/internal/readme"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the applications in the bucket",
	Long:  `Print the name of every manifest in the bucket, in README order.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatal("loading config: %v", err)
		}
		bucket, err := cfg.GetBucketPath()
		if err != nil {
			fatal("%v", err)
		}

		names, err := bucketNames(bucket)
		if err != nil {
			fatal("%v", err)
		}
		for _, name := range names {
			fmt.Println(name)
		}
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

// bucketNames returns the app names of bucket sorted the way the README lists them
func bucketNames(bucket string) ([]string, error) {
	names, err := manifest.Names(bucket)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", autoupdate.ErrBucketNotFound, bucket)
		}
		return nil, err
	}
	return readme.SortNames(names), nil
}
