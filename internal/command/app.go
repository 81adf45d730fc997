package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"echodesk/cli/internal/config"
	"echodesk/cli/internal/taskstate"
)

// TaskService is the subset of the task service used by the tasks commands.
type TaskService interface {
	CreateTask(ctx context.Context, title string, stepTitles []string) (taskstate.Task, error)
	ListTasks(ctx context.Context, page, pageSize int) (taskstate.Page, error)
	GetTask(ctx context.Context, id string) (taskstate.Task, bool, error)
	DeleteTask(ctx context.Context, id string) error
	UpdateStepStatus(ctx context.Context, taskID, stepID string, status taskstate.StepStatus) (taskstate.Task, error)
	TasksByStatus(ctx context.Context, status *taskstate.StepStatus) ([]taskstate.Task, error)
}

type PanelWatchOptions struct {
	BaseURL  string
	Interval time.Duration
}

type Deps struct {
	LoadConfig   func() config.Config
	RunServe     func(context.Context, config.Config) error
	RunMigrateUp func(context.Context, config.Config) error
	// OpenTaskService returns the service and a func releasing its store.
	OpenTaskService func(context.Context, config.Config) (TaskService, func() error, error)
	RunPanelWatch   func(context.Context, config.Config, PanelWatchOptions) error
}

func BuildApp(deps Deps) *cli.App {
	serveFlags := []cli.Flag{
		&cli.StringFlag{Name: "host", Usage: "listen host"},
		&cli.IntFlag{Name: "port", Usage: "listen port"},
		&cli.StringFlag{Name: "store", Usage: "task store backend: sqlite, redis or memory"},
	}
	return &cli.App{
		Name:  "echodesk",
		Usage: "desktop assistant task runtime",
		Flags: serveFlags,
		Action: func(ctx *cli.Context) error {
			return runServe(ctx, deps)
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "start the local task API",
				Flags:  serveFlags,
				Action: func(ctx *cli.Context) error { return runServe(ctx, deps) },
			},
			{
				Name:  "migrate",
				Usage: "run database migration",
				Subcommands: []*cli.Command{
					{
						Name:  "up",
						Usage: "apply pending migrations",
						Action: func(ctx *cli.Context) error {
							if deps.RunMigrateUp == nil {
								return errors.New("migrate up runner is not configured")
							}
							return deps.RunMigrateUp(ctx.Context, loadConfig(deps))
						},
					},
				},
			},
			tasksCommand(deps),
			{
				Name:  "panel",
				Usage: "task panel helpers",
				Subcommands: []*cli.Command{
					{
						Name:  "watch",
						Usage: "poll the local API and print panel visibility changes",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "url", Usage: "local API base url"},
							&cli.DurationFlag{Name: "interval", Usage: "poll interval"},
						},
						Action: func(ctx *cli.Context) error {
							if deps.RunPanelWatch == nil {
								return errors.New("panel watch runner is not configured")
							}
							cfg := loadConfig(deps)
							opts := PanelWatchOptions{
								BaseURL:  strings.TrimSpace(ctx.String("url")),
								Interval: ctx.Duration("interval"),
							}
							if opts.BaseURL == "" {
								opts.BaseURL = fmt.Sprintf("http://%s:%d", cfg.LocalHost, cfg.LocalPort)
							}
							if opts.Interval <= 0 {
								opts.Interval = cfg.PollInterval
							}
							return deps.RunPanelWatch(ctx.Context, cfg, opts)
						},
					},
				},
			},
		},
	}
}

func loadConfig(deps Deps) config.Config {
	if deps.LoadConfig != nil {
		return deps.LoadConfig()
	}
	return config.LoadConfig()
}

func runServe(ctx *cli.Context, deps Deps) error {
	if deps.RunServe == nil {
		return errors.New("serve runner is not configured")
	}
	cfg := loadConfig(deps)
	if host := strings.TrimSpace(ctx.String("host")); host != "" {
		cfg.LocalHost = host
	}
	if port := ctx.Int("port"); port > 0 {
		cfg.LocalPort = port
	}
	if store := strings.ToLower(strings.TrimSpace(ctx.String("store"))); store != "" {
		switch store {
		case config.StoreSQLite, config.StoreRedis, config.StoreMemory:
			cfg.Store = store
		default:
			return fmt.Errorf("unsupported store backend: %s", store)
		}
	}
	return deps.RunServe(ctx.Context, cfg)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
