package taskstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"echodesk/cli/internal/kvstore"
	"echodesk/cli/internal/logging"
)

const (
	StateKey        = "tasks"
	StateVersion    = 1
	DefaultPageSize = 10
)

// persistedState is the document stored under StateKey.
type persistedState struct {
	Version int    `json:"version"`
	Tasks   []Task `json:"tasks"`
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

func WithEventSink(sink EventSink) Option {
	return func(s *Service) { s.sink = sink }
}

func WithLogger(lg *slog.Logger) Option {
	return func(s *Service) {
		if lg != nil {
			s.logger = lg
		}
	}
}

// Service owns every read-modify-write of the task collection. Each cycle runs
// under mu so concurrent HTTP handlers and agent tools cannot lose updates.
type Service struct {
	mu     sync.Mutex
	store  kvstore.Store
	now    func() time.Time
	newID  func() string
	sink   EventSink
	logger *slog.Logger
}

func NewService(store kvstore.Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("task store is required")
	}
	s := &Service{
		store:  store,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) CreateTask(ctx context.Context, title string, stepTitles []string) (Task, error) {
	title, err := normalizeTitle("task title", title)
	if err != nil {
		return Task{}, err
	}
	titles, err := normalizeStepTitles(stepTitles)
	if err != nil {
		return Task{}, err
	}

	var created Task
	err = s.update(ctx, func(state *persistedState) (*Event, error) {
		now := s.stamp(time.Time{})
		task := Task{
			ID:        s.uniqueTaskID(state.Tasks),
			Title:     title,
			Steps:     make([]Step, 0, len(titles)),
			CreatedAt: now,
			UpdatedAt: now,
		}
		used := map[string]struct{}{}
		for _, stepTitle := range titles {
			task.Steps = append(task.Steps, s.newStep(stepTitle, now, used))
		}
		state.Tasks = append(state.Tasks, task)
		created = task.Clone()
		return &Event{Type: EventTaskCreated, TaskID: task.ID, Task: &created}, nil
	})
	if err != nil {
		return Task{}, err
	}
	s.logger.Debug("task created", "task_id", created.ID, "steps", len(created.Steps))
	return created.Clone(), nil
}

func (s *Service) ListTasks(ctx context.Context, page, pageSize int) (Page, error) {
	tasks, err := s.snapshot(ctx)
	if err != nil {
		return Page{}, err
	}
	return Paginate(sortNewestFirst(tasks), page, pageSize), nil
}

// GetTask reports ok=false for an unknown id; absence is not an error.
func (s *Service) GetTask(ctx context.Context, id string) (Task, bool, error) {
	tasks, err := s.snapshot(ctx)
	if err != nil {
		return Task{}, false, err
	}
	if i := taskIndex(tasks, id); i >= 0 {
		return tasks[i].Clone(), true, nil
	}
	return Task{}, false, nil
}

func (s *Service) UpdateTask(ctx context.Context, id string, in TaskUpdate) (Task, error) {
	var title string
	if in.Title != nil {
		t, err := normalizeTitle("task title", *in.Title)
		if err != nil {
			return Task{}, err
		}
		title = t
	}
	var titles []string
	if in.Steps != nil {
		t, err := normalizeStepTitles(in.Steps)
		if err != nil {
			return Task{}, err
		}
		titles = t
	}

	var updated Task
	err := s.update(ctx, func(state *persistedState) (*Event, error) {
		i := taskIndex(state.Tasks, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		task := state.Tasks[i].Clone()
		now := s.stamp(task.UpdatedAt)
		if in.Title != nil {
			task.Title = title
		}
		if in.Steps != nil {
			task.Steps = s.mergeStepsByTitle(task.Steps, titles, now)
		}
		task.UpdatedAt = now
		state.Tasks[i] = task
		updated = task.Clone()
		return &Event{Type: EventTaskUpdated, TaskID: task.ID, Task: &updated}, nil
	})
	if err != nil {
		return Task{}, err
	}
	return updated.Clone(), nil
}

func (s *Service) DeleteTask(ctx context.Context, id string) error {
	return s.update(ctx, func(state *persistedState) (*Event, error) {
		i := taskIndex(state.Tasks, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		state.Tasks = append(state.Tasks[:i], state.Tasks[i+1:]...)
		return &Event{Type: EventTaskDeleted, TaskID: id}, nil
	})
}

func (s *Service) UpdateStepStatus(ctx context.Context, taskID, stepID string, status StepStatus) (Task, error) {
	if !status.Valid() {
		return Task{}, fmt.Errorf("%w: unknown step status %q", ErrInvalidInput, status)
	}
	var updated Task
	err := s.update(ctx, func(state *persistedState) (*Event, error) {
		i := taskIndex(state.Tasks, taskID)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		task := state.Tasks[i].Clone()
		j := task.stepIndex(stepID)
		if j < 0 {
			return nil, fmt.Errorf("%w: %s", ErrStepNotFound, stepID)
		}
		now := s.stamp(task.UpdatedAt)
		task.Steps[j].Status = status
		task.Steps[j].UpdatedAt = now
		task.UpdatedAt = now
		state.Tasks[i] = task
		updated = task.Clone()
		return &Event{Type: EventTaskUpdated, TaskID: task.ID, Task: &updated}, nil
	})
	if err != nil {
		return Task{}, err
	}
	s.logger.Debug("step status updated", "task_id", taskID, "step_id", stepID, "status", string(status))
	return updated.Clone(), nil
}

// TasksByStatus returns all tasks newest-first, or only those having at least
// one step in status when status is non-nil.
func (s *Service) TasksByStatus(ctx context.Context, status *StepStatus) ([]Task, error) {
	if status != nil && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown step status %q", ErrInvalidInput, *status)
	}
	tasks, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return FilterByStepStatus(sortNewestFirst(tasks), status), nil
}

func (s *Service) snapshot(ctx context.Context) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return state.Tasks, nil
}

// update runs one locked get-mutate-set cycle. Nothing is written when fn
// fails. The event, if any, is emitted after the lock is released.
func (s *Service) update(ctx context.Context, fn func(*persistedState) (*Event, error)) error {
	evt, err := func() (*Event, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		state, err := s.load(ctx)
		if err != nil {
			return nil, err
		}
		evt, err := fn(&state)
		if err != nil {
			return nil, err
		}
		state.Version = StateVersion
		if err := kvstore.SetJSON(ctx, s.store, StateKey, state); err != nil {
			return nil, fmt.Errorf("persist tasks: %w", err)
		}
		return evt, nil
	}()
	if err != nil {
		return err
	}
	if evt != nil && s.sink != nil {
		s.sink(*evt)
	}
	return nil
}

func (s *Service) load(ctx context.Context) (persistedState, error) {
	state, err := kvstore.GetJSON(ctx, s.store, StateKey, persistedState{Version: StateVersion})
	if err != nil {
		return persistedState{}, fmt.Errorf("load tasks: %w", err)
	}
	if state.Version == 0 {
		state.Version = 1
	}
	if state.Version > StateVersion {
		return persistedState{}, fmt.Errorf("%w: %d", ErrUnsupportedStateVersion, state.Version)
	}
	if state.Tasks == nil {
		state.Tasks = []Task{}
	}
	for i := range state.Tasks {
		if state.Tasks[i].Steps == nil {
			state.Tasks[i].Steps = []Step{}
		}
	}
	return state, nil
}

// stamp returns the current time, never earlier than prev.
func (s *Service) stamp(prev time.Time) time.Time {
	now := s.now().UTC()
	if now.Before(prev) {
		return prev
	}
	return now
}

func (s *Service) newStep(title string, now time.Time, used map[string]struct{}) Step {
	id := s.newID()
	for {
		if _, taken := used[id]; !taken && id != "" {
			break
		}
		id = s.newID()
	}
	used[id] = struct{}{}
	return Step{ID: id, Title: title, Status: StepProcessing, CreatedAt: now, UpdatedAt: now}
}

func (s *Service) uniqueTaskID(tasks []Task) string {
	for {
		id := s.newID()
		if id != "" && taskIndex(tasks, id) < 0 {
			return id
		}
	}
}

func taskIndex(tasks []Task, id string) int {
	for i, task := range tasks {
		if task.ID == id {
			return i
		}
	}
	return -1
}

func normalizeTitle(field, title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
	}
	return title, nil
}

func normalizeStepTitles(titles []string) ([]string, error) {
	out := make([]string, 0, len(titles))
	for i, raw := range titles {
		title, err := normalizeTitle(fmt.Sprintf("step[%d] title", i), raw)
		if err != nil {
			return nil, err
		}
		out = append(out, title)
	}
	return out, nil
}
