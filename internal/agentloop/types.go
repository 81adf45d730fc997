package agentloop

import (
	"context"
	"encoding/json"

	"echodesk/cli/internal/taskstate"
)

type ResponseToolSpec struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type Tool interface {
	Name() string
	Spec() ResponseToolSpec
	Execute(ctx context.Context, input json.RawMessage, callID string) (string, *ToolError)
}

// TaskService is the part of taskstate.Service the task tools drive.
type TaskService interface {
	CreateTask(ctx context.Context, title string, stepTitles []string) (taskstate.Task, error)
	ListTasks(ctx context.Context, page, pageSize int) (taskstate.Page, error)
	GetTask(ctx context.Context, id string) (taskstate.Task, bool, error)
	UpdateTask(ctx context.Context, id string, in taskstate.TaskUpdate) (taskstate.Task, error)
	DeleteTask(ctx context.Context, id string) error
	UpdateStepStatus(ctx context.Context, taskID, stepID string, status taskstate.StepStatus) (taskstate.Task, error)
	TasksByStatus(ctx context.Context, status *taskstate.StepStatus) ([]taskstate.Task, error)
}
