package taskstate

import (
	"fmt"
	"strings"
	"time"
)

type StepStatus string

const (
	StepProcessing StepStatus = "processing"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepCancelled  StepStatus = "cancelled"
)

func (s StepStatus) Valid() bool {
	switch s {
	case StepProcessing, StepCompleted, StepFailed, StepCancelled:
		return true
	default:
		return false
	}
}

func ParseStepStatus(raw string) (StepStatus, error) {
	s := StepStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown step status %q", ErrInvalidInput, raw)
	}
	return s, nil
}

// TaskStatus is the summary status of a task. It is computed from the steps
// and never stored.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

type Step struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Status    StepStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

type Task struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Steps     []Step    `json:"steps"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DerivedStatus evaluates, in this order: every step completed, any step
// processing, any step failed while none was cancelled, otherwise pending.
// [failed, cancelled] is pending: a cancellation means the task was abandoned
// rather than broken. A task without steps is pending.
func (t Task) DerivedStatus() TaskStatus {
	if len(t.Steps) == 0 {
		return TaskPending
	}
	if t.allSteps(StepCompleted) {
		return TaskCompleted
	}
	if t.HasStepStatus(StepProcessing) {
		return TaskProcessing
	}
	if t.HasStepStatus(StepFailed) && !t.HasStepStatus(StepCancelled) {
		return TaskFailed
	}
	return TaskPending
}

// AllStepsCompleted reports whether the task has steps and all of them are
// completed.
func (t Task) AllStepsCompleted() bool {
	return len(t.Steps) > 0 && t.allSteps(StepCompleted)
}

func (t Task) HasStepStatus(status StepStatus) bool {
	for _, step := range t.Steps {
		if step.Status == status {
			return true
		}
	}
	return false
}

func (t Task) allSteps(status StepStatus) bool {
	for _, step := range t.Steps {
		if step.Status != status {
			return false
		}
	}
	return true
}

func (t Task) stepIndex(stepID string) int {
	for i, step := range t.Steps {
		if step.ID == stepID {
			return i
		}
	}
	return -1
}

// Clone returns a copy that shares no slice memory with t.
func (t Task) Clone() Task {
	out := t
	out.Steps = append([]Step(nil), t.Steps...)
	if out.Steps == nil {
		out.Steps = []Step{}
	}
	return out
}

type Page struct {
	List  []Task `json:"list"`
	Total int    `json:"total"`
}

// TaskUpdate carries the optional fields of an update. A nil Title keeps the
// current title; nil Steps keeps the current steps.
type TaskUpdate struct {
	Title *string
	Steps []string
}
