package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"echodesk/cli/internal/taskstate"
)

func tasksCommand(deps Deps) *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "inspect and edit stored tasks",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list tasks, newest first",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "page", Value: 1},
					&cli.IntFlag{Name: "page-size", Value: taskstate.DefaultPageSize},
					&cli.StringFlag{Name: "status", Usage: "only tasks with a step in this status"},
				},
				Action: withTaskService(deps, func(ctx *cli.Context, svc TaskService) error {
					if raw := strings.TrimSpace(ctx.String("status")); raw != "" {
						status, err := taskstate.ParseStepStatus(raw)
						if err != nil {
							return err
						}
						tasks, err := svc.TasksByStatus(ctx.Context, &status)
						if err != nil {
							return err
						}
						return writeJSON(ctx.App.Writer, taskstate.Paginate(tasks, ctx.Int("page"), ctx.Int("page-size")))
					}
					page, err := svc.ListTasks(ctx.Context, ctx.Int("page"), ctx.Int("page-size"))
					if err != nil {
						return err
					}
					return writeJSON(ctx.App.Writer, page)
				}),
			},
			{
				Name:      "show",
				Usage:     "print one task",
				ArgsUsage: "<task-id>",
				Action: withTaskService(deps, func(ctx *cli.Context, svc TaskService) error {
					id, err := requireArg(ctx, 0, "task id")
					if err != nil {
						return err
					}
					task, ok, err := svc.GetTask(ctx.Context, id)
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("%w: %s", taskstate.ErrTaskNotFound, id)
					}
					return writeJSON(ctx.App.Writer, task)
				}),
			},
			{
				Name:      "create",
				Usage:     "create a task",
				ArgsUsage: "<title>",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "step", Usage: "step title, repeatable"},
				},
				Action: withTaskService(deps, func(ctx *cli.Context, svc TaskService) error {
					title := strings.Join(ctx.Args().Slice(), " ")
					task, err := svc.CreateTask(ctx.Context, title, ctx.StringSlice("step"))
					if err != nil {
						return err
					}
					return writeJSON(ctx.App.Writer, task)
				}),
			},
			{
				Name:      "delete",
				Usage:     "delete a task",
				ArgsUsage: "<task-id>",
				Action: withTaskService(deps, func(ctx *cli.Context, svc TaskService) error {
					id, err := requireArg(ctx, 0, "task id")
					if err != nil {
						return err
					}
					if err := svc.DeleteTask(ctx.Context, id); err != nil {
						return err
					}
					return writeJSON(ctx.App.Writer, map[string]bool{"success": true})
				}),
			},
			{
				Name:      "step",
				Usage:     "set the status of one step",
				ArgsUsage: "<task-id> <step-id> <processing|completed|failed|cancelled>",
				Action: withTaskService(deps, func(ctx *cli.Context, svc TaskService) error {
					if ctx.NArg() != 3 {
						return errors.New("expected <task-id> <step-id> <status>")
					}
					status, err := taskstate.ParseStepStatus(ctx.Args().Get(2))
					if err != nil {
						return err
					}
					task, err := svc.UpdateStepStatus(ctx.Context, ctx.Args().Get(0), ctx.Args().Get(1), status)
					if err != nil {
						return err
					}
					return writeJSON(ctx.App.Writer, task)
				}),
			},
		},
	}
}

func withTaskService(deps Deps, fn func(*cli.Context, TaskService) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		if deps.OpenTaskService == nil {
			return errors.New("task service is not configured")
		}
		svc, closeFn, err := deps.OpenTaskService(ctx.Context, loadConfig(deps))
		if err != nil {
			return err
		}
		if closeFn != nil {
			defer func() { _ = closeFn() }()
		}
		return fn(ctx, svc)
	}
}

func requireArg(ctx *cli.Context, i int, name string) (string, error) {
	v := strings.TrimSpace(ctx.Args().Get(i))
	if v == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return v, nil
}
