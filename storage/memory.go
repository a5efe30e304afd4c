package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"taskboard-api/domain"
	"taskboard-api/ordering"
)

// MemoryStore is an in-process task store. Versions are kept per task and
// exposed as ETags so conditional writes behave like the table store.
type MemoryStore struct {
	mu      sync.RWMutex
	tasks   map[string]domain.Task
	version uint64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]domain.Task)}
}

func (s *MemoryStore) ListTasks(_ context.Context, ownerID string) ([]domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tasks := []domain.Task{}
	for _, t := range s.tasks {
		if t.OwnerID == ownerID {
			tasks = append(tasks, t)
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Stage != tasks[j].Stage {
			return tasks[i].Stage < tasks[j].Stage
		}
		if tasks[i].Rank != tasks[j].Rank {
			return tasks[i].Rank < tasks[j].Rank
		}
		return tasks[i].ID < tasks[j].ID
	})
	return tasks, nil
}

func (s *MemoryStore) GetTask(_ context.Context, ownerID, taskID string) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok || t.OwnerID != ownerID {
		return nil, nil
	}
	return &t, nil
}

// ApplyMutation applies every write of m or none of them.
func (s *MemoryStore) ApplyMutation(_ context.Context, ownerID string, m ordering.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range m.Upserts {
		if t.OwnerID != ownerID {
			return fmt.Errorf("task %s is not owned by %s", t.ID, ownerID)
		}
		if err := s.checkVersion(t); err != nil {
			return err
		}
	}
	for _, t := range m.Deletes {
		cur, ok := s.tasks[t.ID]
		if !ok || cur.OwnerID != ownerID {
			return fmt.Errorf("delete task %s: %w", t.ID, domain.ErrConcurrencyConflict)
		}
		if t.ETag != "" && cur.ETag != t.ETag {
			return fmt.Errorf("delete task %s: %w", t.ID, domain.ErrConcurrencyConflict)
		}
	}

	for _, t := range m.Upserts {
		s.version++
		t.ETag = strconv.FormatUint(s.version, 10)
		s.tasks[t.ID] = t
	}
	for _, t := range m.Deletes {
		delete(s.tasks, t.ID)
	}
	return nil
}

func (s *MemoryStore) checkVersion(t domain.Task) error {
	cur, exists := s.tasks[t.ID]
	switch {
	case exists && cur.OwnerID != t.OwnerID:
		return fmt.Errorf("task id %s: %w", t.ID, domain.ErrConcurrencyConflict)
	case t.ETag == "" && exists:
		return fmt.Errorf("insert task %s: %w", t.ID, domain.ErrConcurrencyConflict)
	case t.ETag != "" && !exists:
		return fmt.Errorf("update task %s: %w", t.ID, domain.ErrConcurrencyConflict)
	case t.ETag != "" && cur.ETag != t.ETag:
		return fmt.Errorf("update task %s: %w", t.ID, domain.ErrConcurrencyConflict)
	}
	return nil
}
