package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// UsageTotals aggregates token consumption as scraped by a Prometheus
// server, fleet-wide or per model.
type UsageTotals struct {
	Model            string `json:"model,omitempty"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
}

// QueryService reads aggregated usage back from a Prometheus server
// scraping the core's registry. It powers the usage-report surface.
type QueryService struct {
	queryAPI v1.API
}

// NewQueryService creates a query service against a Prometheus URL.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{Address: prometheusURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	return &QueryService{queryAPI: v1.NewAPI(client)}, nil
}

// Totals returns token consumption summed across all models.
func (q *QueryService) Totals(ctx context.Context) (*UsageTotals, error) {
	totals := &UsageTotals{}

	prompt, err := q.scalar(ctx, `sum(kubepilot_llm_tokens_total{type="prompt"})`)
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}
	totals.PromptTokens = prompt

	completion, err := q.scalar(ctx, `sum(kubepilot_llm_tokens_total{type="completion"})`)
	if err != nil {
		return nil, fmt.Errorf("failed to query completion tokens: %w", err)
	}
	totals.CompletionTokens = completion

	totals.TotalTokens = totals.PromptTokens + totals.CompletionTokens
	return totals, nil
}

// TotalsByModel returns token consumption broken down per model.
func (q *QueryService) TotalsByModel(ctx context.Context) (map[string]*UsageTotals, error) {
	result := make(map[string]*UsageTotals)

	modelsResult, _, err := q.queryAPI.Query(ctx,
		`group by (model) (kubepilot_llm_tokens_total)`, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}

	var models []string
	if vector, ok := modelsResult.(model.Vector); ok {
		for _, sample := range vector {
			if name, ok := sample.Metric["model"]; ok {
				models = append(models, string(name))
			}
		}
	}

	for _, name := range models {
		totals := &UsageTotals{Model: name}

		prompt, err := q.scalar(ctx,
			fmt.Sprintf(`sum(kubepilot_llm_tokens_total{model=%q, type="prompt"})`, name))
		if err != nil {
			return nil, fmt.Errorf("failed to query prompt tokens for model %s: %w", name, err)
		}
		totals.PromptTokens = prompt

		completion, err := q.scalar(ctx,
			fmt.Sprintf(`sum(kubepilot_llm_tokens_total{model=%q, type="completion"})`, name))
		if err != nil {
			return nil, fmt.Errorf("failed to query completion tokens for model %s: %w", name, err)
		}
		totals.CompletionTokens = completion

		totals.TotalTokens = totals.PromptTokens + totals.CompletionTokens
		result[name] = totals
	}

	return result, nil
}

func (q *QueryService) scalar(ctx context.Context, query string) (int64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return int64(vector[0].Value), nil
	}
	return 0, nil
}
