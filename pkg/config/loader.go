package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads, substitutes, defaults, and validates the config at path.
// `${VAR}` placeholders are replaced with environment values when set.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	dataStr := envVarRegex.ReplaceAllStringFunc(string(data), func(match string) string {
		envVar := match[2 : len(match)-1]
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})

	var cfg Config
	if err := yaml.Unmarshal([]byte(dataStr), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadFromDir loads .kubepilot/config.yaml under projectDir, writing a
// default config first if none exists.
func LoadFromDir(projectDir string) (*Config, error) {
	path := filepath.Join(projectDir, ConfigDirName, ConfigFileName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := WriteDefault(projectDir); err != nil {
			return nil, err
		}
	}
	return Load(path)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// WriteDefault writes the default config to projectDir/.kubepilot/config.yaml.
func WriteDefault(projectDir string) error {
	dir := filepath.Join(projectDir, ConfigDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}

	path := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// applyEnvOverrides lets a handful of operational knobs be overridden
// without editing the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KUBEPILOT_CHAT_MODEL"); v != "" {
		cfg.Models.ChatModel = v
	}
	if v := os.Getenv("KUBEPILOT_EMBED_MODEL"); v != "" {
		cfg.Models.EmbedModel = v
	}
	if v := os.Getenv(EnvOllamaHost); v != "" {
		cfg.Models.OllamaHost = v
	}
	if v := os.Getenv("KUBEPILOT_WEAVIATE_URL"); v != "" {
		cfg.VectorDB.URL = v
	}
	if v := os.Getenv("KUBECONFIG"); v != "" && cfg.Cluster.Kubeconfig == "" {
		cfg.Cluster.Kubeconfig = v
	}
	if v := os.Getenv("KUBEPILOT_DB"); v != "" {
		cfg.Sessions.DBPath = v
	}
	if v := os.Getenv("KUBEPILOT_PLUGIN_DIR"); v != "" {
		cfg.Gateway.PluginDir = v
	}
	if v := os.Getenv("KUBEPILOT_PROMETHEUS_URL"); v != "" {
		cfg.Metrics.PrometheusURL = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Models.ChatModel == "" {
		cfg.Models.ChatModel = "claude-sonnet-4-5"
	}
	if cfg.Models.EmbedModel == "" {
		cfg.Models.EmbedModel = "nomic-embed-text"
	}
	if cfg.Models.EmbedProvider == "" {
		cfg.Models.EmbedProvider = ProviderOllama
	}
	if cfg.Models.MaxTokens == 0 {
		cfg.Models.MaxTokens = 8192
	}
	if cfg.Models.OllamaHost == "" {
		cfg.Models.OllamaHost = "http://localhost:11434"
	}
	if cfg.Models.Timeout == "" {
		cfg.Models.Timeout = "120s"
	}

	if cfg.VectorDB.URL == "" {
		cfg.VectorDB.URL = "http://localhost:8080"
	}
	if cfg.VectorDB.Class == "" {
		cfg.VectorDB.Class = "ClusterCapability"
	}
	if cfg.VectorDB.Timeout == "" {
		cfg.VectorDB.Timeout = "10s"
	}

	if cfg.Cluster.KubectlPath == "" {
		cfg.Cluster.KubectlPath = "kubectl"
	}
	if cfg.Cluster.Namespace == "" {
		cfg.Cluster.Namespace = "default"
	}

	if cfg.Sessions.DBPath == "" {
		cfg.Sessions.DBPath = filepath.Join(ConfigDirName, "sessions.db")
	}
	if cfg.Sessions.TTL == "" {
		cfg.Sessions.TTL = "24h"
	}
	if cfg.Sessions.MaxRepairIterations == 0 {
		cfg.Sessions.MaxRepairIterations = 3
	}
	if cfg.Sessions.MaxToolIterations == 0 {
		cfg.Sessions.MaxToolIterations = 8
	}

	if cfg.Gateway.PluginDir == "" {
		cfg.Gateway.PluginDir = filepath.Join(ConfigDirName, "plugins")
	}
	if cfg.Gateway.DiscoveryInterval == "" {
		cfg.Gateway.DiscoveryInterval = "5m"
	}
	if cfg.Gateway.InvokeTimeout == "" {
		cfg.Gateway.InvokeTimeout = "60s"
	}

	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 3
	}
	if cfg.Retry.InitialDelay == "" {
		cfg.Retry.InitialDelay = "500ms"
	}
	if cfg.Retry.MaxDelay == "" {
		cfg.Retry.MaxDelay = "30s"
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry.Multiplier = 2.0
	}

	if cfg.Deploy.ReadinessTimeout == "" {
		cfg.Deploy.ReadinessTimeout = "5m"
	}
	if cfg.Deploy.PollInterval == "" {
		cfg.Deploy.PollInterval = "5s"
	}

	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9090"
	}
}

func validate(cfg *Config) error {
	if _, err := GetModelProvider(cfg.Models.ChatModel); err != nil {
		return fmt.Errorf("chat model: %w", err)
	}

	switch cfg.Models.EmbedProvider {
	case ProviderOllama, ProviderOpenAI, ProviderGoogle:
	default:
		return fmt.Errorf("unsupported embed provider: %s", cfg.Models.EmbedProvider)
	}

	if cfg.VectorDB.URL == "" {
		return fmt.Errorf("vector_db.url must be set")
	}
	if cfg.Sessions.MaxRepairIterations < 1 {
		return fmt.Errorf("sessions.max_repair_iterations must be at least 1")
	}
	if cfg.Sessions.MaxToolIterations < 1 {
		return fmt.Errorf("sessions.max_tool_iterations must be at least 1")
	}
	if cfg.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	if cfg.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1")
	}
	if cfg.Retry.Jitter < 0 || cfg.Retry.Jitter >= 1 {
		return fmt.Errorf("retry.jitter must be in [0,1)")
	}
	return nil
}
