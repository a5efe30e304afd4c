// Package board mirrors one user's task board on the client side. Structural
// changes reach the local mirror only after the server has acknowledged
// them, so a failed call never leaves the mirror ahead of the server.
package board

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"taskboard-api/domain"
	"taskboard-api/ordering"
)

// ErrPending is returned when a task already has an unacknowledged call.
var ErrPending = errors.New("an operation on this task is already pending")

var errDiverged = errors.New("mirror diverged from server")

// API is the server surface the mirror synchronizes with.
type API interface {
	ListTasks(ctx context.Context) ([]domain.Task, error)
	CreateTask(ctx context.Context, f domain.TaskFields) (domain.Task, error)
	UpdateTask(ctx context.Context, id string, f domain.TaskFields) (domain.Task, error)
	DeleteTask(ctx context.Context, id string) error
	MoveTask(ctx context.Context, id string, stage domain.Stage) (domain.Task, error)
	AdvanceTask(ctx context.Context, id string, dir domain.Direction) (domain.Task, error)
	ReorderTask(ctx context.Context, id string, stage domain.Stage, source, dest int) (domain.Task, error)
}

// Notifier surfaces transient failure messages to the user.
type Notifier interface {
	Notify(op string, err error)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(op string, err error)

func (f NotifierFunc) Notify(op string, err error) { f(op, err) }

// State is the client mirror of a single owner's board. It is safe for
// concurrent use.
type State struct {
	api    API
	notify Notifier
	owner  string

	mu      sync.Mutex
	board   *ordering.Board
	pending map[string]struct{}
}

// NewState returns an empty mirror for owner. Call Load to populate it.
func NewState(api API, owner string, n Notifier) *State {
	if n == nil {
		n = NotifierFunc(func(string, error) {})
	}
	return &State{
		api:     api,
		notify:  n,
		owner:   owner,
		board:   ordering.NewBoard(owner, nil),
		pending: make(map[string]struct{}),
	}
}

// Load replaces the mirror with the server's board.
func (s *State) Load(ctx context.Context) error {
	tasks, err := s.api.ListTasks(ctx)
	if err != nil {
		s.notify.Notify("load", err)
		return err
	}
	s.mu.Lock()
	s.board = ordering.NewBoard(s.owner, tasks)
	s.mu.Unlock()
	return nil
}

// Tasks returns every mirrored task ordered by stage, then rank.
func (s *State) Tasks() []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board.Tasks()
}

// Stage returns the ordered tasks of one stage.
func (s *State) Stage(stage domain.Stage) []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board.Stage(stage)
}

// Get returns a mirrored task.
func (s *State) Get(id string) (domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board.Get(id)
}

// Summary counts the mirrored tasks.
func (s *State) Summary() domain.Summary {
	return domain.Summarize(s.Tasks())
}

// Pending reports whether id has an unacknowledged call.
func (s *State) Pending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[id]
	return ok
}

// Create creates a task on the server and appends the returned record.
func (s *State) Create(ctx context.Context, f domain.TaskFields) (domain.Task, error) {
	task, err := s.api.CreateTask(ctx, f)
	if err != nil {
		s.notify.Notify("create", err)
		return domain.Task{}, err
	}
	s.settle(ctx, task, func(b *ordering.Board) (domain.Task, error) {
		if _, ok := b.Get(task.ID); ok {
			return domain.Task{}, errDiverged
		}
		local, _ := b.Append(task)
		return local, nil
	})
	return task, nil
}

// Update replaces a task's content fields.
func (s *State) Update(ctx context.Context, id string, f domain.TaskFields) (domain.Task, error) {
	return s.run(ctx, "update", id, func(ctx context.Context) (domain.Task, error) {
		return s.api.UpdateTask(ctx, id, f)
	}, func(task domain.Task) func(b *ordering.Board) (domain.Task, error) {
		return func(b *ordering.Board) (domain.Task, error) {
			local, _, err := b.Edit(id, domain.TaskFields{Name: task.Name, Priority: task.Priority, Deadline: task.Deadline})
			return local, err
		}
	})
}

// Delete removes a task once the server confirms.
func (s *State) Delete(ctx context.Context, id string) error {
	_, err := s.run(ctx, "delete", id, func(ctx context.Context) (domain.Task, error) {
		return domain.Task{}, s.api.DeleteTask(ctx, id)
	}, func(domain.Task) func(b *ordering.Board) (domain.Task, error) {
		return func(b *ordering.Board) (domain.Task, error) {
			_, _, err := b.Remove(id)
			return domain.Task{}, err
		}
	})
	return err
}

// Move moves a task to the end of stage once the server confirms.
func (s *State) Move(ctx context.Context, id string, stage domain.Stage) (domain.Task, error) {
	return s.run(ctx, "move", id, func(ctx context.Context) (domain.Task, error) {
		return s.api.MoveTask(ctx, id, stage)
	}, func(domain.Task) func(b *ordering.Board) (domain.Task, error) {
		return func(b *ordering.Board) (domain.Task, error) {
			local, _, err := b.MoveStage(id, stage)
			return local, err
		}
	})
}

// Advance moves a task one stage once the server confirms.
func (s *State) Advance(ctx context.Context, id string, dir domain.Direction) (domain.Task, error) {
	return s.run(ctx, "advance", id, func(ctx context.Context) (domain.Task, error) {
		return s.api.AdvanceTask(ctx, id, dir)
	}, func(domain.Task) func(b *ordering.Board) (domain.Task, error) {
		return func(b *ordering.Board) (domain.Task, error) {
			local, _, err := b.Advance(id, dir)
			return local, err
		}
	})
}

// Reorder moves a task to dest within stage once the server confirms. The
// server refuses the drop when the task is no longer where this mirror last
// saw it, in which case the mirror reloads.
func (s *State) Reorder(ctx context.Context, id string, stage domain.Stage, dest int) (domain.Task, error) {
	current, ok := s.Get(id)
	if !ok {
		err := &domain.NotFoundError{TaskID: id}
		s.notify.Notify("reorder", err)
		return domain.Task{}, err
	}
	task, err := s.run(ctx, "reorder", id, func(ctx context.Context) (domain.Task, error) {
		return s.api.ReorderTask(ctx, id, stage, current.Rank, dest)
	}, func(domain.Task) func(b *ordering.Board) (domain.Task, error) {
		return func(b *ordering.Board) (domain.Task, error) {
			local, _, err := b.Reorder(id, stage, dest)
			return local, err
		}
	})
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
		_ = s.Load(ctx)
	}
	return task, err
}

type localOp func(b *ordering.Board) (domain.Task, error)

// run issues call with id marked pending and, after success, applies the
// local operation built from the acknowledged record.
func (s *State) run(ctx context.Context, op, id string, call func(context.Context) (domain.Task, error), local func(domain.Task) func(b *ordering.Board) (domain.Task, error)) (domain.Task, error) {
	s.mu.Lock()
	if _, busy := s.pending[id]; busy {
		s.mu.Unlock()
		return domain.Task{}, ErrPending
	}
	s.pending[id] = struct{}{}
	s.mu.Unlock()

	task, err := call(ctx)

	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()

	if err != nil {
		s.notify.Notify(op, err)
		return domain.Task{}, err
	}
	s.settle(ctx, task, local(task))
	return task, nil
}

// settle applies fn to the mirror and reloads when the result disagrees
// with the acknowledged record. A zero ack (delete) only requires fn to
// succeed.
func (s *State) settle(ctx context.Context, ack domain.Task, fn localOp) {
	s.mu.Lock()
	local, err := fn(s.board)
	diverged := err != nil || (ack.ID != "" && (local.ID != ack.ID || local.Stage != ack.Stage || local.Rank != ack.Rank))
	s.mu.Unlock()

	if diverged {
		_ = s.Load(ctx)
	}
}
