package api

import (
	"context"

	"taskboard-api/domain"
)

// Tasks is the board service used by handlers.
type Tasks interface {
	ListTasks(ctx context.Context, ownerID string) ([]domain.Task, error)
	GetTask(ctx context.Context, ownerID, taskID string) (domain.Task, error)
	Summary(ctx context.Context, ownerID string) (domain.Summary, error)
	CreateTask(ctx context.Context, ownerID string, fields domain.TaskFields) (domain.Task, error)
	UpdateTask(ctx context.Context, ownerID, taskID string, fields domain.TaskFields) (domain.Task, error)
	DeleteTask(ctx context.Context, ownerID, taskID string) error
	MoveTask(ctx context.Context, ownerID, taskID string, stage domain.Stage) (domain.Task, error)
	AdvanceTask(ctx context.Context, ownerID, taskID string, dir domain.Direction) (domain.Task, error)
	ReorderTask(ctx context.Context, ownerID, taskID string, stage domain.Stage, dest int) (domain.Task, error)
	ReorderTaskFrom(ctx context.Context, ownerID, taskID string, stage domain.Stage, source, dest int) (domain.Task, error)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper tracks idempotency keys of create requests.
type Deduper interface {
	// Reserve claims key for the user. When the key is already known it
	// returns reserved=false and the id of the task created under it, or an
	// empty id while that request is still running.
	Reserve(ctx context.Context, userID, key string) (taskID string, reserved bool, err error)
	// Complete binds a reserved key to the created task.
	Complete(ctx context.Context, userID, key, taskID string) error
	// Release drops a reservation after the request failed.
	Release(ctx context.Context, userID, key string) error
}
