package config

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadFunc receives every configuration that loaded and validated.
type ReloadFunc func(cfg *Config)

// Watcher re-reads the configuration when the file changes or the process
// receives SIGHUP. A reload that fails validation is logged and dropped, the
// previous configuration stays in effect.
type Watcher struct {
	loader   *Loader
	logger   *zap.Logger
	onReload ReloadFunc

	mu      sync.Mutex
	current *Config
}

// NewWatcher creates a watcher seeded with the configuration loaded at startup.
func NewWatcher(loader *Loader, initial *Config, onReload ReloadFunc, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		loader:   loader,
		logger:   logger.Named("config"),
		onReload: onReload,
		current:  initial,
	}
}

// Current returns the configuration in effect.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Start begins watching. It returns immediately; watching stops with ctx.
func (w *Watcher) Start(ctx context.Context) {
	if w.loader.Viper().ConfigFileUsed() != "" {
		w.loader.Viper().OnConfigChange(func(e fsnotify.Event) {
			if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
				return
			}
			w.logger.Info("Config file changed", zap.String("file", e.Name))
			w.Reload()
		})
		w.loader.Viper().WatchConfig()
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				w.logger.Info("SIGHUP received, reloading configuration")
				w.Reload()
			}
		}
	}()
}

// Reload loads the configuration now and hands it to the reload callback.
func (w *Watcher) Reload() bool {
	w.mu.Lock()
	cfg, err := w.loader.Load()
	if err != nil {
		w.mu.Unlock()
		w.logger.Error("Configuration reload rejected", zap.Error(err))
		return false
	}
	w.current = cfg
	w.mu.Unlock()

	if w.onReload != nil {
		w.onReload(cfg)
	}
	return true
}
