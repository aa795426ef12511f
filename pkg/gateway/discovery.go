package gateway

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"kubepilot/pkg/backoff"
	"kubepilot/pkg/cluster"
	"kubepilot/pkg/config"
	"kubepilot/pkg/logx"
)

// watchSettleDelay batches rapid descriptor writes into one rescan.
const watchSettleDelay = 200 * time.Millisecond

// Discoverer keeps the gateway's external plugins in sync with a
// descriptor directory: a scan at start, a periodic background scan
// with backoff after failures, and an fsnotify watch for immediate
// pickup of descriptor changes. The registry mirrors the directory:
// plugins whose descriptor disappears are deregistered.
type Discoverer struct {
	gw       *Gateway
	exec     cluster.Executor
	dir      string
	interval time.Duration
	pacing   backoff.Config
	logger   *logx.Logger

	mu      sync.Mutex
	managed map[string]struct{}
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewDiscoverer creates a discoverer for the configured plugin
// directory.
func NewDiscoverer(gw *Gateway, cfg *config.Config, executor cluster.Executor) *Discoverer {
	return &Discoverer{
		gw:       gw,
		exec:     executor,
		dir:      cfg.Gateway.PluginDir,
		interval: cfg.DiscoveryInterval(),
		pacing:   cfg.BackoffConfig(),
		logger:   logx.NewLogger("discovery"),
		managed:  make(map[string]struct{}),
	}
}

// Scan reads every descriptor in the plugin directory and reconciles
// the gateway against it. Individual bad descriptors are skipped with a
// warning; only an unreadable directory fails the scan. A missing
// directory counts as an empty one. Returns the number of plugins
// currently registered from disk.
func (d *Discoverer) Scan(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if os.IsNotExist(err) {
			d.reconcile(nil)
			return 0, nil
		}
		return 0, fmt.Errorf("read plugin dir %s: %w", d.dir, err)
	}

	current := make(map[string]struct{})
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return len(current), err
		}
		name := entry.Name()
		if entry.IsDir() || !isDescriptor(name) {
			continue
		}

		manifest, err := LoadPluginManifest(filepath.Join(d.dir, name))
		if err != nil {
			d.logger.Warn("skipping %s: %v", name, err)
			continue
		}
		if manifest.Name == BuiltinPlugin {
			d.logger.Warn("skipping %s: plugin name %q is reserved", name, BuiltinPlugin)
			continue
		}
		if err := d.gw.RegisterPlugin(manifest.Name, manifest.BuildTools(d.exec)); err != nil {
			d.logger.Warn("skipping %s: %v", name, err)
			continue
		}
		current[manifest.Name] = struct{}{}
	}

	d.reconcile(current)
	return len(current), nil
}

// reconcile deregisters previously discovered plugins that no longer
// have a live descriptor, then records the current set.
func (d *Discoverer) reconcile(current map[string]struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for plugin := range d.managed {
		if _, ok := current[plugin]; !ok {
			d.gw.Deregister(plugin)
			delete(d.managed, plugin)
		}
	}
	for plugin := range current {
		d.managed[plugin] = struct{}{}
	}
}

// Start runs the initial scan and launches the background loop. The
// loop stops when ctx is cancelled or Stop is called.
func (d *Discoverer) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("discovery already running")
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	d.mu.Unlock()

	if n, err := d.Scan(ctx); err != nil {
		d.logger.Warn("initial plugin scan failed: %v", err)
	} else if n > 0 {
		d.logger.Info("discovered %d plugins in %s", n, d.dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.logger.Warn("plugin watch unavailable, relying on periodic scans: %v", err)
		watcher = nil
	} else if err := watcher.Add(d.dir); err != nil {
		// Directory may not exist yet; periodic scans still cover it.
		d.logger.Warn("cannot watch %s: %v", d.dir, err)
	}

	go d.run(ctx, watcher)
	return nil
}

// Stop halts the background loop and waits for it to exit.
func (d *Discoverer) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	close(d.stopCh)
	<-d.doneCh
}

func (d *Discoverer) run(ctx context.Context, watcher *fsnotify.Watcher) {
	defer close(d.doneCh)
	if watcher != nil {
		defer watcher.Close()
	}

	var events chan fsnotify.Event
	var watchErrs chan error
	if watcher != nil {
		events = watcher.Events
		watchErrs = watcher.Errors
	}

	failures := 0
	timer := time.NewTimer(d.interval)
	defer timer.Stop()

	settle := time.NewTimer(watchSettleDelay)
	if !settle.Stop() {
		<-settle.C
	}
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return

		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !isDescriptor(filepath.Base(event.Name)) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			settle.Reset(watchSettleDelay)

		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			d.logger.Warn("plugin watch error: %v", err)

		case <-settle.C:
			d.rescan(ctx, &failures, timer)

		case <-timer.C:
			d.rescan(ctx, &failures, timer)
		}
	}
}

// rescan runs one scan and schedules the next: the regular interval
// after success, a growing backoff delay after consecutive failures.
func (d *Discoverer) rescan(ctx context.Context, failures *int, timer *time.Timer) {
	n, err := d.Scan(ctx)
	if err != nil {
		*failures++
		delay := backoff.Delay(*failures-1, d.pacing)
		d.logger.Warn("plugin scan failed (%d consecutive): %v; retrying in %s", *failures, err, delay)
		timer.Reset(delay)
		return
	}
	if *failures > 0 {
		d.logger.Info("plugin scan recovered, %d plugins registered", n)
	}
	*failures = 0
	timer.Reset(d.interval)
}

func isDescriptor(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}
