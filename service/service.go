// Package service is the single entry point for mutating a user's board.
// It checks ownership and input, serializes structural operations per
// owner and persists each operation through the ordering engine.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
	"taskboard-api/ordering"
)

// maxAttempts bounds how often an operation is re-run after a write
// conflict.
const maxAttempts = 3

// Store persists tasks. GetTask returns (nil, nil) for a missing task.
type Store interface {
	ListTasks(ctx context.Context, ownerID string) ([]domain.Task, error)
	GetTask(ctx context.Context, ownerID, taskID string) (*domain.Task, error)
	ApplyMutation(ctx context.Context, ownerID string, m ordering.Mutation) error
}

// EventSink receives events after a mutation has been persisted. Publish
// must not block.
type EventSink interface {
	Publish(ev domain.Event)
}

// TaskService implements the board operations for authenticated owners.
type TaskService struct {
	st     Store
	cache  Store
	events EventSink
	log    *log.Logger
	locks  *ownerLocks
	newID  func() string
	now    func() time.Time
}

// Option configures a TaskService.
type Option func(*TaskService)

// WithEvents sets the sink receiving board events.
func WithEvents(sink EventSink) Option { return func(s *TaskService) { s.events = sink } }

// WithCache routes reads and writes through cache, a wrapper of the
// service's store. Boards that an operation mutates are always loaded from
// the store itself.
func WithCache(cache Store) Option { return func(s *TaskService) { s.cache = cache } }

// WithLogger sets the logger used for store failures.
func WithLogger(l *log.Logger) Option { return func(s *TaskService) { s.log = l } }

// WithIDGenerator replaces the uuid based id generator.
func WithIDGenerator(fn func() string) Option { return func(s *TaskService) { s.newID = fn } }

func NewTaskService(st Store, opts ...Option) *TaskService {
	s := &TaskService{
		st:    st,
		log:   log.StandardLogger(),
		locks: newOwnerLocks(),
		newID: uuid.NewString,
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.cache == nil {
		s.cache = st
	}
	return s
}

// ListTasks returns the owner's tasks ordered by stage, then rank.
func (s *TaskService) ListTasks(ctx context.Context, ownerID string) ([]domain.Task, error) {
	b, err := s.load(ctx, s.cache, ownerID)
	if err != nil {
		return nil, err
	}
	return b.Tasks(), nil
}

// GetTask returns a single task of the owner.
func (s *TaskService) GetTask(ctx context.Context, ownerID, taskID string) (domain.Task, error) {
	b, err := s.load(ctx, s.cache, ownerID)
	if err != nil {
		return domain.Task{}, err
	}
	t, ok := b.Get(taskID)
	if !ok {
		return domain.Task{}, &domain.NotFoundError{TaskID: taskID}
	}
	return t, nil
}

// Summary returns the dashboard counts of the owner's board.
func (s *TaskService) Summary(ctx context.Context, ownerID string) (domain.Summary, error) {
	tasks, err := s.ListTasks(ctx, ownerID)
	if err != nil {
		return domain.Summary{}, err
	}
	return domain.Summarize(tasks), nil
}

// CreateTask validates fields and appends a new task to the backlog.
func (s *TaskService) CreateTask(ctx context.Context, ownerID string, fields domain.TaskFields) (domain.Task, error) {
	fields = fields.Normalize()
	if err := fields.Validate(); err != nil {
		return domain.Task{}, err
	}
	id := s.newID()
	return s.mutate(ctx, ownerID, domain.TaskCreated, func(b *ordering.Board) (domain.Task, ordering.Mutation, error) {
		t := domain.Task{ID: id}
		t.Apply(fields)
		task, m := b.Append(t)
		return task, m, nil
	})
}

// UpdateTask replaces the content fields of a task. An unknown or foreign
// task is reported before invalid fields.
func (s *TaskService) UpdateTask(ctx context.Context, ownerID, taskID string, fields domain.TaskFields) (domain.Task, error) {
	fields = fields.Normalize()
	return s.mutate(ctx, ownerID, domain.TaskUpdated, func(b *ordering.Board) (domain.Task, ordering.Mutation, error) {
		if _, ok := b.Get(taskID); !ok {
			return domain.Task{}, ordering.Mutation{}, &domain.NotFoundError{TaskID: taskID}
		}
		if err := fields.Validate(); err != nil {
			return domain.Task{}, ordering.Mutation{}, err
		}
		return b.Edit(taskID, fields)
	})
}

// DeleteTask removes a task and closes the gap in its stage.
func (s *TaskService) DeleteTask(ctx context.Context, ownerID, taskID string) error {
	_, err := s.mutate(ctx, ownerID, domain.TaskDeleted, func(b *ordering.Board) (domain.Task, ordering.Mutation, error) {
		return b.Remove(taskID)
	})
	return err
}

// MoveTask moves a task to the end of stage.
func (s *TaskService) MoveTask(ctx context.Context, ownerID, taskID string, stage domain.Stage) (domain.Task, error) {
	return s.mutate(ctx, ownerID, domain.TaskMoved, func(b *ordering.Board) (domain.Task, ordering.Mutation, error) {
		return b.MoveStage(taskID, stage)
	})
}

// AdvanceTask moves a task one stage in dir, clamped to the board.
func (s *TaskService) AdvanceTask(ctx context.Context, ownerID, taskID string, dir domain.Direction) (domain.Task, error) {
	if !dir.Valid() {
		return domain.Task{}, &domain.ValidationError{Field: "direction", Message: "direction must be forward or backward"}
	}
	return s.mutate(ctx, ownerID, domain.TaskMoved, func(b *ordering.Board) (domain.Task, ordering.Mutation, error) {
		return b.Advance(taskID, dir)
	})
}

// ReorderTask moves a task to dest within stage.
func (s *TaskService) ReorderTask(ctx context.Context, ownerID, taskID string, stage domain.Stage, dest int) (domain.Task, error) {
	return s.mutate(ctx, ownerID, domain.TaskReordered, reorder(taskID, stage, nil, dest))
}

// ReorderTaskFrom is ReorderTask for a caller that saw the task at source.
// It fails with StaleIndexError when the task is still in stage but no
// longer at source.
func (s *TaskService) ReorderTaskFrom(ctx context.Context, ownerID, taskID string, stage domain.Stage, source, dest int) (domain.Task, error) {
	return s.mutate(ctx, ownerID, domain.TaskReordered, reorder(taskID, stage, &source, dest))
}

func reorder(taskID string, stage domain.Stage, source *int, dest int) operation {
	return func(b *ordering.Board) (domain.Task, ordering.Mutation, error) {
		if source != nil {
			if t, ok := b.Get(taskID); ok && t.Stage == stage && t.Rank != *source {
				return domain.Task{}, ordering.Mutation{}, &domain.StaleIndexError{TaskID: taskID, Index: *source, Rank: t.Rank}
			}
		}
		return b.Reorder(taskID, stage, dest)
	}
}

type operation func(b *ordering.Board) (domain.Task, ordering.Mutation, error)

// mutate runs op against a fresh board of the owner and persists the
// resulting mutation, re-running op when the store reports a conflict.
func (s *TaskService) mutate(ctx context.Context, ownerID, eventType string, op operation) (domain.Task, error) {
	unlock := s.locks.lock(ownerID)
	defer unlock()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		b, err := s.load(ctx, s.st, ownerID)
		if err != nil {
			return domain.Task{}, err
		}
		task, m, err := op(b)
		if err != nil {
			return domain.Task{}, err
		}
		if m.Empty() {
			return task, nil
		}
		err = s.cache.ApplyMutation(ctx, ownerID, m)
		if err == nil {
			s.emit(eventType, ownerID, task)
			return task, nil
		}
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			return domain.Task{}, s.unavailable("apply", ownerID, err)
		}
		lastErr = err
		s.log.WithFields(log.Fields{"owner": ownerID, "task": task.ID, "attempt": attempt}).Debug("write conflict, retrying")
	}
	return domain.Task{}, s.unavailable("apply", ownerID, lastErr)
}

func (s *TaskService) load(ctx context.Context, st Store, ownerID string) (*ordering.Board, error) {
	tasks, err := st.ListTasks(ctx, ownerID)
	if err != nil {
		return nil, s.unavailable("list", ownerID, err)
	}
	return ordering.NewBoard(ownerID, tasks), nil
}

func (s *TaskService) unavailable(op, ownerID string, err error) error {
	s.log.WithFields(log.Fields{"owner": ownerID, "op": op, "error": err}).Error("task store failure")
	return &domain.StoreUnavailableError{Op: op, Err: err}
}

func (s *TaskService) emit(eventType, ownerID string, task domain.Task) {
	if s.events == nil {
		return
	}
	ev := domain.Event{Type: eventType, TaskID: task.ID, UserID: ownerID, Timestamp: s.now().UnixNano()}
	if eventType != domain.TaskDeleted {
		t := task
		ev.Task = &t
	}
	s.events.Publish(ev)
}
