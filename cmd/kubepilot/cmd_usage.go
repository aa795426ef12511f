package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"kubepilot/pkg/metrics"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Report model token usage from Prometheus",
	Long: `Queries the Prometheus instance scraping a running 'kubepilot serve'
for accumulated token counts, broken down by model. Set
metrics.prometheus_url in the config (or KUBEPILOT_PROMETHEUS_URL).`,
	RunE: runUsage,
}

func init() {
	rootCmd.AddCommand(usageCmd)
}

func runUsage(cmd *cobra.Command, _ []string) error {
	rt, err := newRuntime(projectDir)
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.cfg.Metrics.PrometheusURL == "" {
		return fmt.Errorf("metrics.prometheus_url is not configured")
	}
	qs, err := metrics.NewQueryService(rt.cfg.Metrics.PrometheusURL)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	totals, err := qs.Totals(ctx)
	if err != nil {
		return fmt.Errorf("query prometheus: %w", err)
	}
	byModel, err := qs.TotalsByModel(ctx)
	if err != nil {
		return fmt.Errorf("query prometheus: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tPROMPT\tCOMPLETION\tTOTAL")
	models := make([]string, 0, len(byModel))
	for model := range byModel {
		models = append(models, model)
	}
	sort.Strings(models)
	for _, model := range models {
		u := byModel[model]
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", model, u.PromptTokens, u.CompletionTokens, u.TotalTokens)
	}
	fmt.Fprintf(w, "(all)\t%d\t%d\t%d\n", totals.PromptTokens, totals.CompletionTokens, totals.TotalTokens)
	return w.Flush()
}
