// Package config provides configuration loading, validation, and secret
// management for kubepilot. Configuration lives in .kubepilot/config.yaml
// with environment variable substitution and per-field env overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"kubepilot/pkg/backoff"
)

// Provider identifiers for the model service.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// Environment variable names for provider credentials.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGoogleAPIKey    = "GEMINI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"
)

// Config file layout constants.
const (
	ConfigDirName  = ".kubepilot"
	ConfigFileName = "config.yaml"
)

// ModelsConfig selects the chat and embedding models.
type ModelsConfig struct {
	ChatModel     string  `yaml:"chat_model"`     // Model powering session phases
	EmbedModel    string  `yaml:"embed_model"`    // Model producing capability embeddings
	EmbedProvider string  `yaml:"embed_provider"` // Provider serving the embed model
	MaxTokens     int     `yaml:"max_tokens"`
	Temperature   float32 `yaml:"temperature"`
	OllamaHost    string  `yaml:"ollama_host"`
	Timeout       string  `yaml:"timeout"` // Per-request timeout, e.g. "120s"
}

// VectorDBConfig points at the weaviate instance backing the capability index.
type VectorDBConfig struct {
	URL     string `yaml:"url"`
	Class   string `yaml:"class"`   // Weaviate class holding capability records
	Timeout string `yaml:"timeout"` // Per-call timeout, e.g. "10s"
}

// ClusterConfig controls how kubectl is invoked.
type ClusterConfig struct {
	KubectlPath string `yaml:"kubectl_path"`
	Kubeconfig  string `yaml:"kubeconfig"`
	Context     string `yaml:"context"`
	Namespace   string `yaml:"namespace"`
}

// SessionsConfig controls session persistence and workflow limits.
type SessionsConfig struct {
	DBPath              string `yaml:"db_path"`
	WorkDir             string `yaml:"work_dir"` // Per-session artifacts (generated manifests)
	TTL                 string `yaml:"ttl"`      // Session lifetime, e.g. "24h"
	MaxRepairIterations int    `yaml:"max_repair_iterations"`
	MaxToolIterations   int    `yaml:"max_tool_iterations"`
	AutoApprove         bool   `yaml:"auto_approve"`
}

// GatewayConfig controls plugin discovery and tool invocation limits.
type GatewayConfig struct {
	PluginDir         string `yaml:"plugin_dir"`
	DiscoveryInterval string `yaml:"discovery_interval"` // e.g. "5m"
	InvokeTimeout     string `yaml:"invoke_timeout"`     // Default per-invocation timeout
}

// RetryConfig configures the backoff policy applied to transient
// collaborator failures.
type RetryConfig struct {
	MaxRetries   int     `yaml:"max_retries"`
	InitialDelay string  `yaml:"initial_delay"`
	MaxDelay     string  `yaml:"max_delay"`
	Multiplier   float64 `yaml:"multiplier"`
	Jitter       float64 `yaml:"jitter"`
}

// DeployConfig controls manifest apply and readiness polling.
type DeployConfig struct {
	ReadinessTimeout string `yaml:"readiness_timeout"` // e.g. "5m"
	PollInterval     string `yaml:"poll_interval"`     // e.g. "5s"
}

// MetricsConfig controls the promhttp listener and the optional PromQL
// query service used during remediation investigation.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Listen        string `yaml:"listen"`
	PrometheusURL string `yaml:"prometheus_url"`
}

// Config is the root kubepilot configuration.
type Config struct {
	Models   ModelsConfig   `yaml:"models"`
	VectorDB VectorDBConfig `yaml:"vector_db"`
	Cluster  ClusterConfig  `yaml:"cluster"`
	Sessions SessionsConfig `yaml:"sessions"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Retry    RetryConfig    `yaml:"retry"`
	Deploy   DeployConfig   `yaml:"deploy"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ModelInfo contains static information about a known model.
type ModelInfo struct {
	Provider         string
	MaxContextTokens int
	MaxOutputTokens  int
}

// KnownModels holds provider and sizing information for common models.
// Unknown models fall back to prefix inference via ProviderPatterns.
//
//nolint:gochecknoglobals // Static model registry
var KnownModels = map[string]ModelInfo{
	"claude-sonnet-4-5": {
		Provider:         ProviderAnthropic,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"claude-opus-4-1": {
		Provider:         ProviderAnthropic,
		MaxContextTokens: 200000,
		MaxOutputTokens:  16384,
	},
	"gpt-4o": {
		Provider:         ProviderOpenAI,
		MaxContextTokens: 128000,
		MaxOutputTokens:  4096,
	},
	"gpt-5": {
		Provider:         ProviderOpenAI,
		MaxContextTokens: 128000,
		MaxOutputTokens:  4096,
	},
	"o4-mini": {
		Provider:         ProviderOpenAI,
		MaxContextTokens: 128000,
		MaxOutputTokens:  16384,
	},
	"gemini-2.5-flash": {
		Provider:         ProviderGoogle,
		MaxContextTokens: 1048576,
		MaxOutputTokens:  65536,
	},
	"llama3.1": {
		Provider:         ProviderOllama,
		MaxContextTokens: 128000,
		MaxOutputTokens:  4096,
	},
	"qwen2.5-coder": {
		Provider:         ProviderOllama,
		MaxContextTokens: 32768,
		MaxOutputTokens:  4096,
	},
}

// ProviderPattern maps a model-name prefix to its provider.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

// ProviderPatterns infers providers for models absent from KnownModels,
// so new model releases work without code changes.
//
//nolint:gochecknoglobals // Static inference rules
var ProviderPatterns = []ProviderPattern{
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"gemini", ProviderGoogle},
	{"phi", ProviderOllama},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"deepseek", ProviderOllama},
	{"nomic", ProviderOllama},
	{"mxbai", ProviderOllama},
	{"ollama:", ProviderOllama},
}

// GetModelProvider returns the API provider for a model name, checking
// KnownModels first and prefix patterns second.
func GetModelProvider(modelName string) (string, error) {
	if info, exists := KnownModels[modelName]; exists {
		return info.Provider, nil
	}

	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}

	return "", fmt.Errorf("unknown model '%s': cannot determine API provider", modelName)
}

// GetModelInfo returns sizing information for a model, with conservative
// defaults when the model is not in KnownModels.
func GetModelInfo(modelName string) (ModelInfo, bool) {
	if info, exists := KnownModels[modelName]; exists {
		return info, true
	}

	provider := ""
	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			provider = ProviderPatterns[i].Provider
			break
		}
	}

	return ModelInfo{
		Provider:         provider,
		MaxContextTokens: 32000,
		MaxOutputTokens:  4096,
	}, false
}

// GetAPIKey returns the credential for a provider, consulting the decrypted
// secrets file first and environment variables second. Ollama has no key;
// its host URL is returned instead.
func GetAPIKey(provider string) (string, error) {
	var envVar string
	switch provider {
	case ProviderAnthropic:
		envVar = EnvAnthropicAPIKey
	case ProviderOpenAI:
		envVar = EnvOpenAIAPIKey
	case ProviderGoogle:
		envVar = EnvGoogleAPIKey
	case ProviderOllama:
		host := os.Getenv(EnvOllamaHost)
		if host == "" {
			host = "http://localhost:11434"
		}
		return host, nil
	default:
		return "", fmt.Errorf("unknown provider: %s", provider)
	}

	key, err := GetSecret(envVar)
	if err == nil && key != "" {
		return key, nil
	}

	return "", fmt.Errorf("API key not found: %s not in secrets file or environment", envVar)
}

// Duration accessors. Durations are stored as strings in YAML and parsed
// on access with a safe fallback, so a malformed value degrades instead of
// failing the whole load.

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// ModelTimeout returns the per-request model service timeout.
func (c *Config) ModelTimeout() time.Duration {
	return parseDurationOr(c.Models.Timeout, 120*time.Second)
}

// VectorDBTimeout returns the per-call vector store timeout.
func (c *Config) VectorDBTimeout() time.Duration {
	return parseDurationOr(c.VectorDB.Timeout, 10*time.Second)
}

// SessionTTL returns the session lifetime.
func (c *Config) SessionTTL() time.Duration {
	return parseDurationOr(c.Sessions.TTL, 24*time.Hour)
}

// DiscoveryInterval returns the background plugin discovery cadence.
func (c *Config) DiscoveryInterval() time.Duration {
	return parseDurationOr(c.Gateway.DiscoveryInterval, 5*time.Minute)
}

// InvokeTimeout returns the default tool invocation timeout.
func (c *Config) InvokeTimeout() time.Duration {
	return parseDurationOr(c.Gateway.InvokeTimeout, 60*time.Second)
}

// RetryInitialDelay returns the first backoff delay.
func (c *Config) RetryInitialDelay() time.Duration {
	return parseDurationOr(c.Retry.InitialDelay, 500*time.Millisecond)
}

// RetryMaxDelay returns the backoff delay cap.
func (c *Config) RetryMaxDelay() time.Duration {
	return parseDurationOr(c.Retry.MaxDelay, 30*time.Second)
}

// MaxRetries returns the retry budget for transient collaborator
// failures.
func (c *Config) MaxRetries() int {
	if c.Retry.MaxRetries <= 0 {
		return 3
	}
	return c.Retry.MaxRetries
}

// BackoffConfig returns the retry pacing policy.
func (c *Config) BackoffConfig() backoff.Config {
	if c.Retry == (RetryConfig{}) {
		return backoff.DefaultConfig
	}
	multiplier := c.Retry.Multiplier
	if multiplier <= 0 {
		multiplier = backoff.DefaultConfig.Multiplier
	}
	return backoff.Config{
		InitialDelay: c.RetryInitialDelay(),
		MaxDelay:     c.RetryMaxDelay(),
		Multiplier:   multiplier,
		Jitter:       c.Retry.Jitter,
	}
}

// MaxRepairIterations bounds the manifest generate-validate-repair
// loop.
func (c *Config) MaxRepairIterations() int {
	if c.Sessions.MaxRepairIterations <= 0 {
		return 3
	}
	return c.Sessions.MaxRepairIterations
}

// MaxToolIterations bounds the model/tool-call loop within one phase.
func (c *Config) MaxToolIterations() int {
	if c.Sessions.MaxToolIterations <= 0 {
		return 10
	}
	return c.Sessions.MaxToolIterations
}

// ReadinessTimeout returns the default deploy readiness bound.
func (c *Config) ReadinessTimeout() time.Duration {
	return parseDurationOr(c.Deploy.ReadinessTimeout, 5*time.Minute)
}

// PollInterval returns the deploy readiness polling interval.
func (c *Config) PollInterval() time.Duration {
	return parseDurationOr(c.Deploy.PollInterval, 5*time.Second)
}
