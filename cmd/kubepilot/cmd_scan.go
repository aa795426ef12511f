package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"kubepilot/pkg/capindex"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover cluster capabilities and rebuild the index",
	Long: `Walks the API server's discovery data (including CRDs installed by
operators), enriches each resource type with its schema documentation,
and writes the lot into the capability index that recommendation
sessions search.`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, _ []string) error {
	rt, err := newRuntime(projectDir)
	if err != nil {
		return err
	}
	defer rt.Close()

	fmt.Println("⏳ Scanning cluster capabilities...")
	report, err := capindex.NewScanner(rt.kubectl, rt.index).Scan(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Discovered %d resource types, indexed %d, skipped %d\n",
		report.Discovered, report.Indexed, report.Skipped)
	for _, failure := range report.Failures {
		fmt.Printf("  ⚠️  %s\n", failure)
	}
	return nil
}
