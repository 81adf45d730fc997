package localapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"echodesk/cli/internal/taskstate"
)

const maxRequestBodyBytes = 1 << 20

// taskView is the wire form of a task: the stored fields plus the derived
// status.
type taskView struct {
	taskstate.Task
	Status taskstate.TaskStatus `json:"status"`
}

func newTaskView(task taskstate.Task) taskView {
	return taskView{Task: task, Status: task.DerivedStatus()}
}

func newTaskViews(tasks []taskstate.Task) []taskView {
	out := make([]taskView, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, newTaskView(task))
	}
	return out
}

type pageView struct {
	List  []taskView `json:"list"`
	Total int        `json:"total"`
}

type stepTitleInput struct {
	Title string `json:"title"`
}

type createTaskRequest struct {
	Title *string          `json:"title"`
	Steps []stepTitleInput `json:"steps"`
}

type updateTaskRequest struct {
	Title *string          `json:"title"`
	Steps []stepTitleInput `json:"steps"`
}

type updateStepStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) registerTaskRoutes() {
	s.mux.HandleFunc("/api/v1/tasks", s.handleTasks)
	s.mux.HandleFunc("/api/v1/tasks/", s.handleTaskActions)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if s.deps.TaskService == nil {
		respondNotImplemented(w, r)
		return
	}
	switch r.Method {
	case http.MethodPost:
		s.handleCreateTask(w, r)
	case http.MethodGet:
		s.handleListTasks(w, r)
	default:
		respondNotImplemented(w, r)
	}
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, StatusInvalidInput, err.Error())
		return
	}
	if req.Title == nil {
		respondError(w, http.StatusBadRequest, StatusInvalidInput, "title is required")
		return
	}
	task, err := s.deps.TaskService.CreateTask(r.Context(), *req.Title, stepTitles(req.Steps))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondOK(w, newTaskView(task))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := queryInt(q.Get("page"), 1)
	if err != nil {
		respondError(w, http.StatusBadRequest, StatusInvalidInput, "page: "+err.Error())
		return
	}
	pageSize, err := queryInt(q.Get("pageSize"), taskstate.DefaultPageSize)
	if err != nil {
		respondError(w, http.StatusBadRequest, StatusInvalidInput, "pageSize: "+err.Error())
		return
	}

	var result taskstate.Page
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, err := taskstate.ParseStepStatus(raw)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		tasks, err := s.deps.TaskService.TasksByStatus(r.Context(), &status)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		result = taskstate.Paginate(tasks, page, pageSize)
	} else {
		result, err = s.deps.TaskService.ListTasks(r.Context(), page, pageSize)
		if err != nil {
			respondServiceError(w, err)
			return
		}
	}
	respondOK(w, pageView{List: newTaskViews(result.List), Total: result.Total})
}

// handleTaskActions serves /api/v1/tasks/{id} and
// /api/v1/tasks/{taskId}/steps/{stepId}/status.
func (s *Server) handleTaskActions(w http.ResponseWriter, r *http.Request) {
	if s.deps.TaskService == nil {
		respondNotImplemented(w, r)
		return
	}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/"), "/")
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			respondNotImplemented(w, r)
			return
		}
	}
	switch {
	case len(parts) == 1:
		taskID := parts[0]
		switch r.Method {
		case http.MethodGet:
			s.handleGetTask(w, r, taskID)
		case http.MethodPatch, http.MethodPut:
			s.handleUpdateTask(w, r, taskID)
		case http.MethodDelete:
			s.handleDeleteTask(w, r, taskID)
		default:
			respondNotImplemented(w, r)
		}
	case len(parts) == 4 && parts[1] == "steps" && parts[3] == "status" && r.Method == http.MethodPut:
		s.handleUpdateStepStatus(w, r, parts[0], parts[2])
	default:
		respondNotImplemented(w, r)
	}
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request, taskID string) {
	task, ok, err := s.deps.TaskService.GetTask(r.Context(), taskID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if !ok {
		respondServiceError(w, fmt.Errorf("%w: %s", taskstate.ErrTaskNotFound, taskID))
		return
	}
	respondOK(w, newTaskView(task))
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request, taskID string) {
	var req updateTaskRequest
	if err := decodeJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, StatusInvalidInput, err.Error())
		return
	}
	in := taskstate.TaskUpdate{Title: req.Title}
	if req.Steps != nil {
		in.Steps = stepTitles(req.Steps)
	}
	task, err := s.deps.TaskService.UpdateTask(r.Context(), taskID, in)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondOK(w, newTaskView(task))
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request, taskID string) {
	if err := s.deps.TaskService.DeleteTask(r.Context(), taskID); err != nil {
		respondServiceError(w, err)
		return
	}
	respondOK(w, map[string]any{"deleted": true})
}

func (s *Server) handleUpdateStepStatus(w http.ResponseWriter, r *http.Request, taskID, stepID string) {
	var req updateStepStatusRequest
	if err := decodeJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, StatusInvalidInput, err.Error())
		return
	}
	status, err := taskstate.ParseStepStatus(req.Status)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	task, err := s.deps.TaskService.UpdateStepStatus(r.Context(), taskID, stepID, status)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondOK(w, newTaskView(task))
}

func stepTitles(steps []stepTitleInput) []string {
	out := make([]string, 0, len(steps))
	for _, step := range steps {
		out = append(out, step.Title)
	}
	return out
}

// decodeJSONBody decodes exactly one JSON object, rejecting unknown fields.
func decodeJSONBody(r *http.Request, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxRequestBodyBytes {
		return errors.New("request body too large")
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return errors.New("request body must be a JSON object")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	if dec.More() {
		return errors.New("invalid json body: unexpected trailing data")
	}
	return nil
}

// queryInt parses an optional integer query value.
func queryInt(raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("must be an integer")
	}
	return n, nil
}
