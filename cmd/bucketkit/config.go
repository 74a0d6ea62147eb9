package main

import (
	"fmt"

	"github.com/obentoo/bucketkit/internal/common/config"
	"github.com/obentoo/bucketkit/internal/common/output"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the configuration file",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, the config file and environment
overrides are applied. Credentials are masked.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatal("loading config: %v", err)
		}
		data, err := yaml.Marshal(cfg.Redacted())
		if err != nil {
			fatal("%v", err)
		}
		fmt.Print(string(data))
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config file with the default settings",
	Long: `Write the default configuration to path, ./` + config.LocalConfigFile + ` when omitted.
An existing file is never overwritten.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := config.LocalConfigFile
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.Default().SaveTo(path); err != nil {
			fatal("%v", err)
		}
		output.PrintSuccess("Wrote %s", path)
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
