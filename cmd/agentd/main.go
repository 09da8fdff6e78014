package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stepforge/agentd/internal/api"
	"github.com/stepforge/agentd/internal/config"
	"github.com/stepforge/agentd/internal/engine"
	"github.com/stepforge/agentd/internal/models"
	"github.com/stepforge/agentd/internal/registry"
	"github.com/stepforge/agentd/internal/scheduler"
	"github.com/stepforge/agentd/internal/store"
	"github.com/stepforge/agentd/internal/tool"
)

var (
	version   = "0.1.0"
	buildTime = "dev"
)

// App holds the runtime components.
type App struct {
	Config          *config.Config
	Logger          *slog.Logger
	Store           *store.Store
	Registry        *registry.Registry
	Engine          *engine.Engine
	Hub             *api.StreamHub
	APIServer       *api.Server
	Retention       *scheduler.Retention
	ManifestWatcher *config.Watcher
}

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "agentd.json", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version")
	flag.Parse()

	if *showVersion {
		fmt.Printf("agentd v%s (built %s)\n", version, buildTime)
		return 0
	}

	app, err := setup(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
		return 1
	}
	defer app.Store.Close()

	if err := serve(app); err != nil {
		app.Logger.Error("shutdown error", "error", err)
		return 1
	}

	app.Logger.Info("agentd stopped")
	return 0
}

// setup initializes all application components.
func setup(configPath string) (*App, error) {
	app := &App{}

	app.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	app.Logger.Info("starting agentd", "version", version, "config", configPath)

	cfg, err := loadConfig(configPath, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app.Config = cfg

	// Recreate the logger at the configured level.
	app.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))

	st, err := store.Open(cfg.DBPath(), app.Logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	app.Store = st

	reg, err := buildRegistry(cfg, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}
	app.Registry = reg

	provider, err := models.NewProvider(cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("create provider: %w", err)
	}

	app.Hub = api.NewStreamHub(app.Logger)

	app.Engine = engine.New(reg, provider, st, app.Logger,
		engine.WithModel(cfg.Provider.Model),
		engine.WithMaxTokens(cfg.Provider.MaxTokens),
		engine.WithSystemPrompt(cfg.Agent.SystemPrompt),
		engine.WithMaxSteps(cfg.Agent.MaxSteps),
		engine.WithToolTimeout(cfg.Agent.ToolTimeout()),
		engine.WithStepObserver(app.Hub.Publish),
	)

	app.APIServer = api.NewServer(
		cfg.Server.Port,
		app.Engine,
		app.Store,
		app.Registry,
		app.Hub,
		app.Logger,
	)

	if cfg.Retention.Enabled {
		ret, err := scheduler.NewRetention(st, cfg.Retention.Schedule, cfg.Retention.MaxAge, app.Logger)
		if err != nil {
			return nil, fmt.Errorf("create retention scheduler: %w", err)
		}
		app.Retention = ret
	}

	// Manifest edits take effect without a restart.
	if cfg.Tools.ManifestPath != "" {
		app.ManifestWatcher = config.NewWatcher(cfg.Tools.ManifestPath, 5*time.Second, app.Logger, func() {
			overrides, err := registry.LoadManifest(cfg.Tools.ManifestPath)
			if err != nil {
				app.Logger.Error("manifest reload failed", "error", err)
				return
			}
			if err := reg.ApplyOverrides(overrides); err != nil {
				app.Logger.Error("manifest reload failed", "error", err)
			}
		})
	}

	return app, nil
}

// buildRegistry registers the built-in tools and applies the optional
// TOML manifest overrides.
func buildRegistry(cfg *config.Config, logger *slog.Logger) (*registry.Registry, error) {
	fileRoot := cfg.Tools.FileRoot
	if fileRoot == "" {
		fileRoot = cfg.Server.DataDir
	}
	fileOpts := tool.FileOptions{Root: fileRoot}

	reg, err := registry.New(logger,
		tool.NewCalculator(),
		tool.NewWebSearch(cfg.Tools.SearchBaseURL),
		tool.NewReadFile(fileOpts),
		tool.NewListFiles(fileOpts),
	)
	if err != nil {
		return nil, err
	}

	if cfg.Tools.ManifestPath != "" {
		overrides, err := registry.LoadManifest(cfg.Tools.ManifestPath)
		if err != nil {
			return nil, err
		}
		if err := reg.ApplyOverrides(overrides); err != nil {
			return nil, err
		}
	}

	return reg, nil
}

// serve runs the API server and the retention scheduler until a
// shutdown signal arrives.
func serve(app *App) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.APIServer.Start(ctx)
	})

	if app.Retention != nil {
		g.Go(func() error {
			return app.Retention.Start(ctx)
		})
	}

	if app.ManifestWatcher != nil {
		app.ManifestWatcher.Start()
		defer app.ManifestWatcher.Stop()
	}

	app.Logger.Info("agentd ready", "port", app.Config.Server.Port)

	<-ctx.Done()
	app.Logger.Info("shutdown signal received")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// loadConfig loads the config file, or falls back to defaults when the
// file does not exist.
func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("no config found, using defaults", "path", path)
			cfg = config.DefaultConfig()
			if mkErr := os.MkdirAll(cfg.Server.DataDir, 0750); mkErr != nil {
				return nil, fmt.Errorf("create data dir: %w", mkErr)
			}
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
