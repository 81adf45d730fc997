// Package taskpanel decides whether the desktop task panel shows the most
// recent task, and polls for it.
package taskpanel

import (
	"time"

	"echodesk/cli/internal/taskstate"
)

// LingerWindow is how long a fully completed task stays on screen after its
// last update.
const LingerWindow = 10 * time.Second

type State string

const (
	// StateEmpty: there is no task to show.
	StateEmpty State = "empty"
	// StateActive: the task has work left and is shown.
	StateActive State = "active"
	// StateLingering: every step is completed and the linger window is open.
	StateLingering State = "lingering"
	// StateHidden: the linger window closed; the task stays hidden.
	StateHidden State = "hidden"
)

type Decision struct {
	Visible bool
	Task    *taskstate.Task
	State   State
}

// Panel carries the poll-to-poll state. The zero value is ready to use. A
// Panel is not safe for concurrent use.
type Panel struct {
	lastTaskID string
	hiddenAt   time.Time
}

// Observe evaluates one poll result. task is nil when nothing was fetched.
func (p *Panel) Observe(task *taskstate.Task, now time.Time) Decision {
	if task == nil {
		return Decision{State: StateEmpty}
	}
	if task.ID != p.lastTaskID {
		p.lastTaskID = task.ID
		p.hiddenAt = time.Time{}
	}
	shown := task.Clone()

	if !task.AllStepsCompleted() {
		p.hiddenAt = time.Time{}
		return Decision{Visible: true, Task: &shown, State: StateActive}
	}
	if !p.hiddenAt.IsZero() {
		return Decision{Task: &shown, State: StateHidden}
	}
	if now.Sub(task.UpdatedAt) <= LingerWindow {
		return Decision{Visible: true, Task: &shown, State: StateLingering}
	}
	p.hiddenAt = now
	return Decision{Task: &shown, State: StateHidden}
}

// HiddenAt returns when the current task was hidden, or the zero time.
func (p *Panel) HiddenAt() time.Time {
	return p.hiddenAt
}

// Progress counts completed steps for a progress bar.
func Progress(task taskstate.Task) (done, total int) {
	for _, step := range task.Steps {
		if step.Status == taskstate.StepCompleted {
			done++
		}
	}
	return done, len(task.Steps)
}
