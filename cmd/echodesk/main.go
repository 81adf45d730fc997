package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"echodesk/cli/internal/agentloop"
	"echodesk/cli/internal/application"
	"echodesk/cli/internal/command"
	"echodesk/cli/internal/config"
	"echodesk/cli/internal/db"
	"echodesk/cli/internal/global"
	"echodesk/cli/internal/kvstore"
	"echodesk/cli/internal/logging"
	"echodesk/cli/internal/taskstate"
)

var version = "dev"

var startApplication = application.StartApplication

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := command.BuildApp(command.Deps{
		LoadConfig:      config.LoadConfig,
		RunServe:        runServe,
		RunMigrateUp:    runMigrateUp,
		OpenTaskService: openTaskService,
		RunPanelWatch: func(ctx context.Context, cfg config.Config, opts command.PanelWatchOptions) error {
			return runPanelWatch(ctx, os.Stdout, cfg, opts)
		},
	})
	app.Version = version

	if err := app.RunContext(rootCtx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "echodesk: %v\n", err)
		os.Exit(1)
	}
}

func newRuntimeLogger(w io.Writer, cfg config.Config) *slog.Logger {
	return logging.NewLogger(logging.Options{
		Level:     cfg.LogLevel,
		Writer:    w,
		Component: "echodesk",
	})
}

func storeOptions(cfg config.Config) application.StoreOptions {
	return application.StoreOptions{
		Backend: cfg.Store,
		DBPath:  cfg.DBPath,
		Redis: kvstore.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
		Namespace: cfg.StoreNamespace,
	}
}

func runServe(ctx context.Context, cfg config.Config) error {
	configDir, err := global.DefaultConfigDir()
	if err != nil {
		return err
	}
	logger := newRuntimeLogger(os.Stderr, cfg)
	app, err := startApplication(ctx, application.StartOptions{
		ConfigDir: configDir,
		LocalHost: cfg.LocalHost,
		LocalPort: cfg.LocalPort,
		APIToken:  cfg.APIToken,
		Store:     storeOptions(cfg),
		OpenAI: agentloop.OpenAIConfig{
			BaseURL: cfg.OpenAIEndpoint,
			Model:   cfg.OpenAIModel,
			APIKey:  cfg.OpenAIAPIKey,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	return app.Run(ctx)
}

func runMigrateUp(_ context.Context, cfg config.Config) error {
	logger := newRuntimeLogger(os.Stderr, cfg).With("module", "migrate")
	if cfg.Store != config.StoreSQLite {
		logger.Info("store has no schema to migrate", "store", cfg.Store)
		return nil
	}
	path := cfg.DBPath
	if path == "" {
		configDir, err := global.DefaultConfigDir()
		if err != nil {
			return err
		}
		path = global.DefaultDBPath(configDir)
	}
	gdb, err := db.OpenSQLiteWithMigrations(path)
	if err != nil {
		return err
	}
	logger.Info("schema up to date", "path", path)
	return db.Close(gdb)
}

func openTaskService(ctx context.Context, cfg config.Config) (command.TaskService, func() error, error) {
	configDir, err := global.DefaultConfigDir()
	if err != nil {
		return nil, nil, err
	}
	store, _, err := application.OpenStore(ctx, configDir, storeOptions(cfg))
	if err != nil {
		return nil, nil, err
	}
	svc, err := taskstate.NewService(store, taskstate.WithLogger(newRuntimeLogger(os.Stderr, cfg)))
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return svc, store.Close, nil
}
