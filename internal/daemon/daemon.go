// Package daemon runs YouTrek's long-lived mode: the periodic sync
// loop, the WebSocket event bridge for the desktop shell, and a config
// file watcher for hot reload.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/ptmt/youtrek-sub001/internal/app"
	"github.com/ptmt/youtrek-sub001/internal/config"
	"github.com/ptmt/youtrek-sub001/internal/events"
	coresync "github.com/ptmt/youtrek-sub001/internal/sync"
)

// Options holds configuration for the daemon itself. The synced
// settings live in config.Config.
type Options struct {
	// ConfigPath is the config file to watch for hot reload. Empty
	// disables watching.
	ConfigPath string

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() *Options {
	return &Options{
		Logger: log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon ties the sync loop, the event bridge, and config watching into
// one lifecycle.
type Daemon struct {
	app     *app.App
	options *Options
	bridge  *events.Server
	watcher *config.Watcher

	mu      sync.Mutex
	current *config.Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon around an already-constructed App. cfg is the
// loaded configuration the App was built from; it seeds the bridge port
// and the reload baseline.
func New(a *app.App, cfg *config.Config, options *Options) (*Daemon, error) {
	if a == nil {
		return nil, fmt.Errorf("app cannot be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if options == nil {
		options = DefaultOptions()
	}
	if options.Logger == nil {
		options.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	bridge := events.NewServer(a.Hub(), a.Store(), &events.ServerConfig{
		Port:   cfg.BridgePort,
		Logger: options.Logger,
	})

	var watcher *config.Watcher
	if options.ConfigPath != "" {
		w, err := config.NewWatcher(0)
		if err != nil {
			return nil, fmt.Errorf("failed to create config watcher: %w", err)
		}
		watcher = w
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		app:     a,
		options: options,
		bridge:  bridge,
		watcher: watcher,
		current: cfg,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start brings up the bridge, the config watcher, and the sync loop.
// It blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.options.Logger.Println("Starting daemon")

	// Bridge first, so observers can connect before the initial cycle.
	if err := d.bridge.Start(); err != nil {
		return fmt.Errorf("failed to start event bridge: %w", err)
	}
	d.options.Logger.Printf("Event bridge listening on %s", d.bridge.GetAddr())

	if d.watcher != nil {
		if err := d.watcher.Start(d.options.ConfigPath); err != nil {
			// Watching is a convenience; the daemon runs without it.
			d.options.Logger.Printf("WARNING: config watching disabled: %v", err)
			d.watcher = nil
		} else {
			d.wg.Add(1)
			go d.watchConfig()
		}
	}

	if coord := d.app.Coordinator(); coord != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := coord.Start(d.ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.options.Logger.Printf("Sync loop exited: %v", err)
			}
		}()
	} else {
		d.options.Logger.Println("Not logged in; sync is disabled until youtrek login")
	}

	// Wait for shutdown
	select {
	case <-ctx.Done():
		d.options.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.options.Logger.Println("Stopping daemon")

	// Signal shutdown
	d.cancel()

	if d.watcher != nil && d.watcher.IsRunning() {
		if err := d.watcher.Stop(); err != nil {
			d.options.Logger.Printf("Error stopping config watcher: %v", err)
		}
	}

	if err := d.bridge.Stop(); err != nil {
		d.options.Logger.Printf("Error stopping event bridge: %v", err)
	}

	// Wait for goroutines to finish
	d.wg.Wait()

	d.options.Logger.Println("Daemon stopped")
	return nil
}

// BridgeAddr returns the bridge listen address once Start has run.
func (d *Daemon) BridgeAddr() string {
	return d.bridge.GetAddr()
}

// Current returns the most recently loaded configuration.
func (d *Daemon) Current() *config.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// watchConfig reacts to config file changes until shutdown.
func (d *Daemon) watchConfig() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case ev, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.options.Logger.Printf("Config change detected: %s", ev.Path)
			d.reload(ev.Path)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.options.Logger.Printf("Config watcher error: %v", err)
		}
	}
}

// reload applies a changed config file. Sync cadence, partitions, and
// backoff take effect on the running coordinator; settings that are
// baked in at startup only log a restart hint.
func (d *Daemon) reload(path string) {
	cfg, err := config.Load(path)
	if err != nil {
		d.options.Logger.Printf("WARNING: config reload failed, keeping previous settings: %v", err)
		return
	}

	d.mu.Lock()
	prev := d.current
	d.current = cfg
	d.mu.Unlock()

	if coord := d.app.Coordinator(); coord != nil {
		coord.Reconfigure(cfg.SyncInterval, cfg.Projects, coresync.Policy{
			Base: cfg.BackoffBase,
			Cap:  cfg.BackoffCap,
		})
	}

	if cfg.DatabasePath != prev.DatabasePath || cfg.BridgePort != prev.BridgePort {
		d.options.Logger.Println("WARNING: database_path and bridge_port changes take effect on restart")
	}
	d.options.Logger.Printf("Config reloaded (interval %s)", cfg.SyncInterval)
}
