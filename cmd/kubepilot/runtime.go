package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/term"

	"kubepilot/pkg/capindex"
	"kubepilot/pkg/cluster"
	"kubepilot/pkg/config"
	"kubepilot/pkg/deploy"
	"kubepilot/pkg/gateway"
	"kubepilot/pkg/llm/middleware"
	"kubepilot/pkg/llm/providers"
	"kubepilot/pkg/manifest"
	"kubepilot/pkg/metrics"
	"kubepilot/pkg/session"
	"kubepilot/pkg/vectorstore"
)

// runtime is the wired component graph behind every cluster-facing
// command. Construction order follows the dependency chain: config,
// cluster CLI, model clients, capability index, gateway, engine.
type runtime struct {
	cfg      *config.Config
	kubectl  *cluster.Kubectl
	gateway  *gateway.Gateway
	index    *capindex.Index
	store    *session.Store
	engine   *session.Engine
	registry *metrics.Registry
}

func newRuntime(projectDir string) (*runtime, error) {
	cfg, err := config.LoadFromDir(projectDir)
	if err != nil {
		return nil, err
	}
	if err := loadSecrets(projectDir); err != nil {
		return nil, err
	}

	kubectl := cluster.NewKubectl(&cfg.Cluster, cluster.NewLocalExec())
	registry := metrics.NewRegistry()

	client, err := providers.NewChatClient(cfg, middleware.Usage(registry))
	if err != nil {
		return nil, fmt.Errorf("chat model: %w", err)
	}
	embedder, err := providers.NewEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("embed model: %w", err)
	}

	vstore, err := openVectorStore(cfg)
	if err != nil {
		return nil, err
	}
	index := capindex.New(vstore, embedder, capindex.Config{
		Retries: cfg.MaxRetries(),
		Backoff: cfg.BackoffConfig(),
	})

	gw := gateway.New(cfg)
	if err := gateway.RegisterBuiltin(gw, kubectl); err != nil {
		return nil, fmt.Errorf("register builtin tools: %w", err)
	}

	store, err := session.NewStore(resolvePath(projectDir, cfg.Sessions.DBPath))
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	if cfg.Sessions.WorkDir == "" {
		cfg.Sessions.WorkDir = filepath.Join(config.ConfigDirName, "sessions")
	}
	cfg.Sessions.WorkDir = resolvePath(projectDir, cfg.Sessions.WorkDir)

	engine, err := session.NewEngine(session.Deps{
		Store:     store,
		Gateway:   gw,
		Index:     index,
		Client:    client,
		Validator: manifest.New(kubectl),
		Deployer:  deploy.New(kubectl, cfg),
		Metrics:   registry,
		Config:    cfg,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &runtime{
		cfg:      cfg,
		kubectl:  kubectl,
		gateway:  gw,
		index:    index,
		store:    store,
		engine:   engine,
		registry: registry,
	}, nil
}

func (r *runtime) Close() error {
	return r.store.Close()
}

// openVectorStore connects to weaviate and falls back to the in-memory
// store when the instance is unreachable, so read paths keep working on
// a laptop without the full stack running.
func openVectorStore(cfg *config.Config) (vectorstore.Store, error) {
	ws, err := vectorstore.NewWeaviate(cfg.VectorDB.URL, cfg.VectorDB.Class)
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.VectorDBTimeout())
	defer cancel()
	if err := ws.Ready(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  weaviate not reachable at %s, using in-memory index: %v\n",
			cfg.VectorDB.URL, err)
		return vectorstore.NewMemory(), nil
	}
	if err := ws.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("vector store schema: %w", err)
	}
	return ws, nil
}

// loadSecrets decrypts the credentials file when present. The
// passphrase comes from KUBEPILOT_PASSPHRASE or an interactive prompt;
// without either, provider keys fall back to plain environment
// variables.
func loadSecrets(projectDir string) error {
	if !config.SecretsFileExists(projectDir) {
		return nil
	}

	pass := os.Getenv("KUBEPILOT_PASSPHRASE")
	if pass == "" {
		if !term.IsTerminal(int(syscall.Stdin)) {
			return nil
		}
		fmt.Print("Secrets passphrase: ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("read passphrase: %w", err)
		}
		pass = string(raw)
	}

	secrets, err := config.DecryptSecretsFile(projectDir, pass)
	if err != nil {
		return fmt.Errorf("decrypt secrets: %w", err)
	}
	config.SetDecryptedSecrets(secrets)
	return nil
}

// resolvePath anchors relative config paths at the project directory so
// commands behave the same regardless of the shell's working directory.
func resolvePath(projectDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(projectDir, path)
}
