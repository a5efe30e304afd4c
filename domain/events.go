package domain

const (
	TaskCreated   = "task-created"
	TaskUpdated   = "task-updated"
	TaskMoved     = "task-moved"
	TaskReordered = "task-reordered"
	TaskDeleted   = "task-deleted"
)

// Event describes a change applied to a user's board.
type Event struct {
	Type      string `json:"type"`
	TaskID    string `json:"taskId"`
	UserID    string `json:"userId"`
	Task      *Task  `json:"task,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// EventEnvelope wraps an event for the events queue.
type EventEnvelope struct {
	UserID string `json:"userId"`
	Event  Event  `json:"event"`
}
