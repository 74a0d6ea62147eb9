package main

import (
	"strings"

	"github.com/obentoo/bucketkit/internal/common/config"
	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for bucketkit.

To load completions:

Bash:
  $ source <(bucketkit completion bash)
  # To load completions for each session, execute once:
  # Linux:
  $ bucketkit completion bash > /etc/bash_completion.d/bucketkit
  # macOS:
  $ bucketkit completion bash > $(brew --prefix)/etc/bash_completion.d/bucketkit

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. You can execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc
  # To load completions for each session, execute once:
  $ bucketkit completion zsh > "${fpath[1]}/_bucketkit"
  # You will need to start a new shell for this setup to take effect.

Fish:
  $ bucketkit completion fish | source
  # To load completions for each session, execute once:
  $ bucketkit completion fish > ~/.config/fish/completions/bucketkit.fish

PowerShell:
  PS> bucketkit completion powershell | Out-String | Invoke-Expression
  # To load completions for every new session, run:
  PS> bucketkit completion powershell > bucketkit.ps1
  # and source this file from your PowerShell profile.
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletionV2(out, true)
		case "zsh":
			return rootCmd.GenZshCompletion(out)
		case "fish":
			return rootCmd.GenFishCompletion(out, true)
		default:
			return rootCmd.GenPowerShellCompletionWithDesc(out)
		}
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)

	for _, cmd := range []*cobra.Command{autoupdateCmd, runCmd, validateCmd} {
		cmd.ValidArgsFunction = completeApps
	}
}

// completeApps offers the app names of the configured bucket not yet on the command line
func completeApps(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	cfg, _, err := config.Load(configPath)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	bucket, err := cfg.GetBucketPath()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	names, err := bucketNames(bucket)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return filterApps(names, args, toComplete), cobra.ShellCompDirectiveNoFileComp
}

func filterApps(names, used []string, prefix string) []string {
	var out []string
	for _, name := range names {
		if !strings.HasPrefix(strings.ToLower(name), strings.ToLower(prefix)) {
			continue
		}
		taken := false
		for _, u := range used {
			if strings.EqualFold(u, name) {
				taken = true
				break
			}
		}
		if !taken {
			out = append(out, name)
		}
	}
	return out
}
