package taskstate

const (
	EventTaskCreated = "task.created"
	EventTaskUpdated = "task.updated"
	EventTaskDeleted = "task.deleted"
)

type Event struct {
	Type   string
	TaskID string
	// Task is the state after the mutation; nil for deletions.
	Task *Task
}

type EventSink func(Event)
