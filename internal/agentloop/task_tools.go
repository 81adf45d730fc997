package agentloop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"echodesk/cli/internal/taskstate"
)

const (
	ToolCreateTask       = "createTask"
	ToolListTasks        = "listTasks"
	ToolGetTask          = "getTask"
	ToolUpdateTask       = "updateTask"
	ToolDeleteTask       = "deleteTask"
	ToolUpdateStepStatus = "updateStepStatus"
	ToolGetTasksByStatus = "getTasksByStatus"
)

func TaskToolNames() []string {
	return []string{
		ToolCreateTask,
		ToolListTasks,
		ToolGetTask,
		ToolUpdateTask,
		ToolDeleteTask,
		ToolUpdateStepStatus,
		ToolGetTasksByStatus,
	}
}

// TaskTools exposes every task operation of svc as an agent tool.
func TaskTools(svc TaskService) []Tool {
	return []Tool{
		&taskTool[createTaskInput]{
			name:        ToolCreateTask,
			description: "Create a task made of ordered steps. Every step starts as processing.",
			parameters: objectSchema(map[string]any{
				"title": stringSchema("Short task title."),
				"steps": stringListSchema("Step titles in execution order."),
			}, "title", "steps"),
			run: func(ctx context.Context, in createTaskInput) (any, error) {
				return svc.CreateTask(ctx, in.Title, in.Steps)
			},
		},
		&taskTool[listTasksInput]{
			name:        ToolListTasks,
			description: "List tasks newest first, one page at a time. Returns {list, total}.",
			parameters: objectSchema(map[string]any{
				"page":     integerSchema("1-based page number, default 1.", 1),
				"pageSize": integerSchema("Tasks per page, default 10.", 1),
			}),
			run: func(ctx context.Context, in listTasksInput) (any, error) {
				return svc.ListTasks(ctx, in.Page, in.PageSize)
			},
		},
		&taskTool[taskIDInput]{
			name:        ToolGetTask,
			description: "Get one task with its steps. Returns null when the id is unknown.",
			parameters: objectSchema(map[string]any{
				"id": stringSchema("Task id."),
			}, "id"),
			run: func(ctx context.Context, in taskIDInput) (any, error) {
				task, ok, err := svc.GetTask(ctx, in.ID)
				if err != nil || !ok {
					return nil, err
				}
				return task, nil
			},
		},
		&taskTool[updateTaskInput]{
			name: ToolUpdateTask,
			description: "Rename a task and/or replace its step list. Steps whose title matches an existing " +
				"step keep their id and status; other titles become new processing steps.",
			parameters: objectSchema(map[string]any{
				"id":    stringSchema("Task id."),
				"title": stringSchema("New task title."),
				"steps": stringListSchema("Full new list of step titles."),
			}, "id"),
			run: func(ctx context.Context, in updateTaskInput) (any, error) {
				return svc.UpdateTask(ctx, in.ID, taskstate.TaskUpdate{Title: in.Title, Steps: in.Steps})
			},
		},
		&taskTool[taskIDInput]{
			name:        ToolDeleteTask,
			description: "Delete a task permanently.",
			parameters: objectSchema(map[string]any{
				"id": stringSchema("Task id."),
			}, "id"),
			run: func(ctx context.Context, in taskIDInput) (any, error) {
				if err := svc.DeleteTask(ctx, in.ID); err != nil {
					return nil, err
				}
				return map[string]bool{"success": true}, nil
			},
		},
		&taskTool[updateStepStatusInput]{
			name:        ToolUpdateStepStatus,
			description: "Set the status of one step. Call it as soon as a step finishes, fails or is abandoned.",
			parameters: objectSchema(map[string]any{
				"taskId": stringSchema("Task id."),
				"stepId": stringSchema("Step id."),
				"status": stepStatusSchema(),
			}, "taskId", "stepId", "status"),
			run: func(ctx context.Context, in updateStepStatusInput) (any, error) {
				return svc.UpdateStepStatus(ctx, in.TaskID, in.StepID, in.status)
			},
		},
		&taskTool[tasksByStatusInput]{
			name:        ToolGetTasksByStatus,
			description: "List tasks newest first that have at least one step in the given status. Without status, list all tasks.",
			parameters: objectSchema(map[string]any{
				"status": stepStatusSchema(),
			}),
			run: func(ctx context.Context, in tasksByStatusInput) (any, error) {
				return svc.TasksByStatus(ctx, in.status)
			},
		},
	}
}

// toolInput is implemented by every argument struct. validate runs after
// decoding and before the service is called.
type toolInput interface {
	validate() error
}

type createTaskInput struct {
	Title string   `json:"title"`
	Steps []string `json:"steps"`
}

func (in *createTaskInput) validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return errors.New("title is required")
	}
	if in.Steps == nil {
		in.Steps = []string{}
	}
	return nil
}

type listTasksInput struct {
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

func (in *listTasksInput) validate() error {
	if in.Page < 0 || in.PageSize < 0 {
		return errors.New("page and pageSize must not be negative")
	}
	return nil
}

type taskIDInput struct {
	ID string `json:"id"`
}

func (in *taskIDInput) validate() error {
	if strings.TrimSpace(in.ID) == "" {
		return errors.New("id is required")
	}
	return nil
}

type updateTaskInput struct {
	ID    string   `json:"id"`
	Title *string  `json:"title"`
	Steps []string `json:"steps"`
}

func (in *updateTaskInput) validate() error {
	if strings.TrimSpace(in.ID) == "" {
		return errors.New("id is required")
	}
	return nil
}

type updateStepStatusInput struct {
	TaskID string `json:"taskId"`
	StepID string `json:"stepId"`
	Status string `json:"status"`

	status taskstate.StepStatus
}

func (in *updateStepStatusInput) validate() error {
	if strings.TrimSpace(in.TaskID) == "" || strings.TrimSpace(in.StepID) == "" {
		return errors.New("taskId and stepId are required")
	}
	status, err := taskstate.ParseStepStatus(in.Status)
	if err != nil {
		return err
	}
	in.status = status
	return nil
}

type tasksByStatusInput struct {
	Status *string `json:"status"`

	status *taskstate.StepStatus
}

func (in *tasksByStatusInput) validate() error {
	if in.Status == nil || strings.TrimSpace(*in.Status) == "" {
		return nil
	}
	status, err := taskstate.ParseStepStatus(*in.Status)
	if err != nil {
		return err
	}
	in.status = &status
	return nil
}

// taskTool adapts one typed operation to the Tool interface. In is the
// argument struct; *In must implement toolInput.
type taskTool[In any] struct {
	name        string
	description string
	parameters  map[string]any
	run         func(ctx context.Context, in In) (any, error)
}

func (t *taskTool[In]) Name() string { return t.name }

func (t *taskTool[In]) Spec() ResponseToolSpec {
	return ResponseToolSpec{
		Type:        "function",
		Name:        t.name,
		Description: t.description,
		Parameters:  t.parameters,
	}
}

func (t *taskTool[In]) Execute(ctx context.Context, input json.RawMessage, callID string) (string, *ToolError) {
	_ = callID
	var in In
	if err := decodeStrict(input, &in); err != nil {
		return "", NewToolError(fmt.Sprintf("invalid arguments for %s: %v", t.name, err), "send a JSON object matching the tool schema")
	}
	if v, ok := any(&in).(toolInput); ok {
		if err := v.validate(); err != nil {
			return "", NewToolError(fmt.Sprintf("invalid arguments for %s: %v", t.name, err), "check the arguments against the tool schema")
		}
	}
	result, err := t.run(ctx, in)
	if err != nil {
		return "", toolErrorFromErr(err)
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return "", NewToolError(fmt.Sprintf("encode %s result: %v", t.name, err), "")
	}
	return string(raw), nil
}

// decodeStrict decodes a single JSON object and rejects unknown fields and
// trailing data. Empty input is read as {}.
func decodeStrict(raw json.RawMessage, out any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		trimmed = []byte("{}")
	}
	if trimmed[0] != '{' {
		return errors.New("arguments must be a JSON object")
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after the arguments object")
	}
	return nil
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}

func stringSchema(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func integerSchema(description string, minimum int) map[string]any {
	return map[string]any{"type": "integer", "description": description, "minimum": minimum}
}

func stringListSchema(description string) map[string]any {
	return map[string]any{
		"type":        "array",
		"description": description,
		"items":       map[string]any{"type": "string"},
	}
}

func stepStatusSchema() map[string]any {
	return map[string]any{
		"type": "string",
		"enum": []string{
			string(taskstate.StepProcessing),
			string(taskstate.StepCompleted),
			string(taskstate.StepFailed),
			string(taskstate.StepCancelled),
		},
	}
}
