package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"kubepilot/pkg/version"
)

var projectDir string

var rootCmd = &cobra.Command{
	Use:   "kubepilot",
	Short: "AI-assisted Kubernetes operations",
	Long: `kubepilot turns operational intent into validated, deployed Kubernetes
manifests and drives diagnose-plan-remediate workflows against a live
cluster. All cluster access goes through a risk-gated tool gateway;
mutating operations require an approval step recorded in the session
history.

Run 'kubepilot init' once per project to write the default config and
store provider credentials, then 'kubepilot scan' to index the cluster's
capabilities.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("kubepilot %s\n", version.Version)
		fmt.Printf("  commit: %s\n", version.Commit)
		fmt.Printf("  built:  %s\n", version.Date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectDir, "dir", "C", ".",
		"project directory holding the .kubepilot config")
	rootCmd.AddCommand(versionCmd)
}
