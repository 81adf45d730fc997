package localapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"echodesk/cli/internal/global"
	"echodesk/cli/internal/logging"
	"echodesk/cli/internal/taskstate"
)

// OpPanelChanged is the websocket op for panel visibility changes.
const OpPanelChanged = "panel.changed"

// Envelope status codes.
const (
	StatusSuccess        = "SUCCESS"
	StatusInvalidInput   = "INVALID_INPUT"
	StatusNotFound       = "NOT_FOUND"
	StatusUnauthorized   = "UNAUTHORIZED"
	StatusUnknownError   = "UNKNOWN_ERROR"
	StatusNotImplemented = "NOT_IMPLEMENTED"
)

type TaskService interface {
	CreateTask(ctx context.Context, title string, stepTitles []string) (taskstate.Task, error)
	ListTasks(ctx context.Context, page, pageSize int) (taskstate.Page, error)
	GetTask(ctx context.Context, id string) (taskstate.Task, bool, error)
	UpdateTask(ctx context.Context, id string, in taskstate.TaskUpdate) (taskstate.Task, error)
	DeleteTask(ctx context.Context, id string) error
	UpdateStepStatus(ctx context.Context, taskID, stepID string, status taskstate.StepStatus) (taskstate.Task, error)
	TasksByStatus(ctx context.Context, status *taskstate.StepStatus) ([]taskstate.Task, error)
}

type ConfigStore interface {
	LoadOrInit() (global.GlobalConfig, error)
	Save(cfg global.GlobalConfig) error
}

type AgentLoopRunner interface {
	Run(ctx context.Context, userPrompt string) (string, error)
}

type Deps struct {
	TaskService     TaskService
	ConfigStore     ConfigStore
	AgentLoopRunner AgentLoopRunner
	// StoreBackend is reported by the capabilities route.
	StoreBackend string
	// APIToken, when set, is required as a bearer token on every /api/ route.
	APIToken string
	Logger   *slog.Logger
}

type Server struct {
	deps    Deps
	mux     *http.ServeMux
	hub     *WSHub
	logger  *slog.Logger
	handler http.Handler
}

func NewServer(deps Deps) *Server {
	logger := logging.OrDiscard(deps.Logger).With("module", "localapi")
	s := &Server{deps: deps, mux: http.NewServeMux(), hub: NewWSHub(logger), logger: logger}
	s.registerTaskRoutes()
	s.registerChatRoutes()
	s.registerConfigRoutes()
	s.registerSystemRoutes()
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/ws", s.hub.HandleWS)
	s.mux.HandleFunc("/", s.handleNotImplemented)
	s.handler = chain(s.mux,
		traceIDMiddleware,
		loggingMiddleware(logger),
		recoveryMiddleware(logger),
		authMiddleware(deps.APIToken),
	)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Hub() *WSHub {
	return s.hub
}

// PublishTaskEvent forwards a service mutation to websocket clients. It is
// meant to be installed as the task service event sink.
func (s *Server) PublishTaskEvent(evt taskstate.Event) {
	if s == nil || s.hub == nil {
		return
	}
	payload := map[string]any{"task_id": evt.TaskID}
	if evt.Task != nil {
		payload["task"] = newTaskView(*evt.Task)
	}
	s.hub.Publish(evt.Type, payload)
}

// PublishPanelState tells websocket clients whether the task panel should be
// on screen.
func (s *Server) PublishPanelState(visible bool, state string, task *taskstate.Task) {
	if s == nil || s.hub == nil {
		return
	}
	payload := map[string]any{"visible": visible, "state": state}
	if task != nil {
		payload["task"] = newTaskView(*task)
	}
	s.hub.Publish(OpPanelChanged, payload)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondOK(w, map[string]any{"status": "ok"})
}

func (s *Server) handleNotImplemented(w http.ResponseWriter, r *http.Request) {
	respondNotImplemented(w, r)
}

type envelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data"`
	Message string `json:"message"`
}

func respondOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Status: StatusSuccess, Data: data})
}

func respondError(w http.ResponseWriter, code int, status string, msg string) {
	writeJSON(w, code, envelope{Status: status, Message: msg})
}

func respondNotImplemented(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusInternalServerError, StatusNotImplemented, r.Method+" "+r.URL.Path+" is not implemented")
}

// respondServiceError maps task service errors onto the envelope.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, taskstate.ErrNotFound):
		respondError(w, http.StatusNotFound, StatusNotFound, err.Error())
	case errors.Is(err, taskstate.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, StatusInvalidInput, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, StatusUnknownError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
