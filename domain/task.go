package domain

import (
	"strconv"
	"strings"
	"time"
)

// Stage is one of the four fixed workflow buckets of the board.
type Stage int

const (
	StageBacklog Stage = iota
	StageTodo
	StageOngoing
	StageDone
)

// StageCount is the number of stages on every board.
const StageCount = 4

var stageNames = [StageCount]string{"backlog", "todo", "ongoing", "done"}

// Valid reports whether s is one of the four board stages.
func (s Stage) Valid() bool { return s >= StageBacklog && s <= StageDone }

func (s Stage) String() string {
	if !s.Valid() {
		return "stage(" + strconv.Itoa(int(s)) + ")"
	}
	return stageNames[s]
}

// ParseStage accepts either the numeric encoding or the stage name.
func ParseStage(raw string) (Stage, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	for i, name := range stageNames {
		if raw == name {
			return Stage(i), nil
		}
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &InvalidStageError{Stage: -1, Reason: "unknown stage " + strconv.Quote(raw)}
	}
	s := Stage(n)
	if !s.Valid() {
		return 0, &InvalidStageError{Stage: s}
	}
	return s, nil
}

// Priority of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Direction of a single-step stage transition.
type Direction string

const (
	Forward  Direction = "forward"
	Backward Direction = "backward"
)

func (d Direction) Valid() bool { return d == Forward || d == Backward }

// DeadlineLayout is the calendar date format used for deadlines.
const DeadlineLayout = "2006-01-02"

// Task represents a single board item owned by one user.
type Task struct {
	ID       string   `json:"id"`
	OwnerID  string   `json:"userID"`
	Name     string   `json:"name"`
	Priority Priority `json:"priority"`
	Deadline string   `json:"deadline"`
	Stage    Stage    `json:"stage"`
	// Rank is the dense position of the task inside its (owner, stage) list.
	Rank int `json:"order"`
	// ETag is the store version token used for conditional writes.
	ETag string `json:"-"`
}

// TaskFields carries the content fields a client may set.
type TaskFields struct {
	Name     string   `json:"name"`
	Priority Priority `json:"priority"`
	Deadline string   `json:"deadline"`
}

// Normalize trims the fields and applies the default priority.
func (f TaskFields) Normalize() TaskFields {
	f.Name = strings.TrimSpace(f.Name)
	f.Deadline = strings.TrimSpace(f.Deadline)
	f.Priority = Priority(strings.ToLower(strings.TrimSpace(string(f.Priority))))
	if f.Priority == "" {
		f.Priority = PriorityLow
	}
	return f
}

// Validate checks a normalized field set.
func (f TaskFields) Validate() error {
	if f.Name == "" {
		return &ValidationError{Field: "name", Message: "name is required"}
	}
	if f.Deadline == "" {
		return &ValidationError{Field: "deadline", Message: "deadline is required"}
	}
	if _, err := time.Parse(DeadlineLayout, f.Deadline); err != nil {
		return &ValidationError{Field: "deadline", Message: "deadline must be a date in YYYY-MM-DD form"}
	}
	if !f.Priority.Valid() {
		return &ValidationError{Field: "priority", Message: "priority must be one of low, medium, high"}
	}
	return nil
}

// Apply copies the content fields onto t, leaving stage and rank untouched.
func (t *Task) Apply(f TaskFields) {
	t.Name = f.Name
	t.Priority = f.Priority
	t.Deadline = f.Deadline
}

// Summary aggregates the board counts shown on the dashboard.
type Summary struct {
	Total     int             `json:"totalTasks"`
	Completed int             `json:"completedTasks"`
	Pending   int             `json:"pendingTasks"`
	PerStage  [StageCount]int `json:"perStage"`
}

// Summarize counts tasks per stage. Completed tasks are the ones in Done.
func Summarize(tasks []Task) Summary {
	var s Summary
	for _, t := range tasks {
		if !t.Stage.Valid() {
			continue
		}
		s.Total++
		s.PerStage[t.Stage]++
	}
	s.Completed = s.PerStage[StageDone]
	s.Pending = s.Total - s.Completed
	return s
}
