package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"kubepilot/pkg/cluster"
	"kubepilot/pkg/gateway"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the long-lived agent: metrics, plugin discovery, session pruning",
	Long: `Keeps kubepilot resident: serves Prometheus metrics on the configured
listen address, watches the plugin directory for tool descriptor
changes, and prunes expired sessions in the background. Stops on
SIGINT/SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	rt, err := newRuntime(projectDir)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	discoverer := gateway.NewDiscoverer(rt.gateway, rt.cfg, cluster.NewLocalExec())
	if err := discoverer.Start(ctx); err != nil {
		return fmt.Errorf("plugin discovery: %w", err)
	}
	defer discoverer.Stop()

	rt.store.StartPruneLoop(time.Hour)

	mux := http.NewServeMux()
	mux.Handle("/metrics", rt.registry.Handler())
	srv := &http.Server{
		Addr:              rt.cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("Serving metrics on %s/metrics\n", rt.cfg.Metrics.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	fmt.Fprintln(os.Stderr, "Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
