// Command pluginhost runs the time-tracker plugin host: it opens the host
// database, registers the built-in plugins, restores persisted enable state,
// and serves the plugin admin API.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/caarlos0/env/v11"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/timewarden/pluginhost/dynamic"
	"github.com/timewarden/pluginhost/frontend"
	"github.com/timewarden/pluginhost/host"
	"github.com/timewarden/pluginhost/manifest"
	"github.com/timewarden/pluginhost/migration"
	"github.com/timewarden/pluginhost/plugins/counter"
	"github.com/timewarden/pluginhost/plugins/tagger"
	"github.com/timewarden/pluginhost/schema"
)

type config struct {
	Addr        string `env:"PLUGINHOST_ADDR" envDefault:":8085"`
	DBPath      string `env:"PLUGINHOST_DB" envDefault:"timewarden.db"`
	PluginsDir  string `env:"PLUGINHOST_PLUGINS_DIR" envDefault:""`
	CoreVersion string `env:"PLUGINHOST_CORE_VERSION" envDefault:"2.3.0"`
	Debug       bool   `env:"PLUGINHOST_DEBUG" envDefault:"false"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("Failed to parse environment: %v", err)
	}

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the host SQLite database")
	flag.StringVar(&cfg.PluginsDir, "plugins-dir", cfg.PluginsDir, "Directory to watch for plugin file changes (optional)")
	flag.StringVar(&cfg.CoreVersion, "core-version", cfg.CoreVersion, "Host core version used for compatibility gating")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	schemas, err := schema.NewRegistry(db, logger)
	if err != nil {
		log.Fatalf("Failed to initialize schema registry: %v", err)
	}
	migrationStore, err := migration.NewSQLiteStore(db)
	if err != nil {
		log.Fatalf("Failed to initialize migration store: %v", err)
	}
	migrator := migration.NewRunner(migrationStore, migration.NewMutexLock(), logger)

	bus := host.NewBus(logger)
	methods := host.NewMethodRegistry(db)
	if err := host.RegisterBuiltinMethods(methods, schemas, bus); err != nil {
		log.Fatalf("Failed to register builtin methods: %v", err)
	}

	frontends := frontend.NewRegistry()
	mgr := host.NewManager(db, cfg.CoreVersion, schemas, methods, bus, migrator, frontends, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := registerBuiltins(ctx, mgr, logger); err != nil {
		log.Fatalf("Failed to register builtin plugins: %v", err)
	}
	if err := mgr.RestoreState(ctx); err != nil {
		logger.Warn("Failed to restore plugin state", "error", err)
	}

	var watcher *dynamic.Watcher
	if cfg.PluginsDir != "" {
		watcher = dynamic.NewWatcher(cfg.PluginsDir, func(pluginDir string) {
			reloadManifest(cfg.PluginsDir, pluginDir, logger)
		}, dynamic.WithLogger(logger))
		if err := watcher.Start(); err != nil {
			logger.Warn("Failed to start plugin watcher", "dir", cfg.PluginsDir, "error", err)
			watcher = nil
		}
	}

	mux := http.NewServeMux()
	host.NewAPIHandler(mgr).RegisterRoutes(mux)
	frontend.NewHandler(frontends).RegisterRoutes(mux)

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}
	go func() {
		logger.Info("Starting plugin host", "addr", cfg.Addr, "core_version", cfg.CoreVersion)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	cancel()

	if watcher != nil {
		watcher.Stop()
	}
	if err := server.Shutdown(context.Background()); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	mgr.Shutdown()
	bus.Close()

	fmt.Println("Shutdown complete")
}

// registerBuiltins registers and enables the compiled-in plugins. The
// manager publishes their declared frontend surface as part of enabling.
// An enable failure disables only that plugin.
func registerBuiltins(ctx context.Context, mgr *host.Manager, logger *slog.Logger) error {
	counterManifest, err := counter.Manifest()
	if err != nil {
		return fmt.Errorf("counter manifest: %w", err)
	}
	if err := mgr.Register(counterManifest, counter.New()); err != nil {
		return fmt.Errorf("register counter: %w", err)
	}

	taggerManifest, err := tagger.Manifest()
	if err != nil {
		return fmt.Errorf("tagger manifest: %w", err)
	}
	if err := mgr.Register(taggerManifest, tagger.New()); err != nil {
		return fmt.Errorf("register tagger: %w", err)
	}

	for _, mf := range []*manifest.Manifest{counterManifest, taggerManifest} {
		if err := mgr.Enable(ctx, mf.ID); err != nil {
			logger.Error("Failed to enable plugin", "plugin", mf.ID, "error", err)
		}
	}
	return nil
}

// reloadManifest re-validates a plugin's on-disk manifest after its files
// change.
func reloadManifest(root, pluginDir string, logger *slog.Logger) {
	path := filepath.Join(root, pluginDir, "plugin.yaml")
	mf, err := manifest.Load(path)
	if err != nil {
		logger.Warn("Plugin manifest failed to reload", "plugin", pluginDir, "error", err)
		return
	}
	if err := mf.Validate(); err != nil {
		logger.Warn("Plugin manifest is invalid after reload", "plugin", pluginDir, "error", err)
		return
	}
	logger.Info("Plugin manifest reloaded", "plugin", mf.ID, "version", mf.Version)
}
