// Package ordering keeps one owner's tasks partitioned into the four board
// stages, each a densely ranked list, and applies the structural operations
// that move tasks between and within those lists.
package ordering

import (
	"sort"

	"taskboard-api/domain"
)

// Mutation lists the writes needed to persist an operation. Upserts hold
// full task records whose content, stage or rank changed.
type Mutation struct {
	Upserts []domain.Task
	Deletes []domain.Task
}

// Empty reports whether the mutation writes nothing.
func (m Mutation) Empty() bool { return len(m.Upserts) == 0 && len(m.Deletes) == 0 }

type position struct {
	stage domain.Stage
	rank  int
}

// Board is a snapshot of a single owner's tasks. It is not safe for
// concurrent use.
type Board struct {
	owner  string
	stages [domain.StageCount][]*domain.Task
	byID   map[string]*domain.Task
	// persisted holds the last (stage, rank) known to be written.
	persisted map[string]position
}

// NewBoard builds a board from stored tasks. Tasks of other owners or with
// invalid stages are ignored. Tasks are ordered by rank, then id.
func NewBoard(owner string, tasks []domain.Task) *Board {
	b := &Board{
		owner:     owner,
		byID:      make(map[string]*domain.Task, len(tasks)),
		persisted: make(map[string]position, len(tasks)),
	}
	for i := range tasks {
		t := tasks[i]
		if t.OwnerID != owner || !t.Stage.Valid() {
			continue
		}
		if _, dup := b.byID[t.ID]; dup {
			continue
		}
		b.byID[t.ID] = &t
		b.persisted[t.ID] = position{stage: t.Stage, rank: t.Rank}
		b.stages[t.Stage] = append(b.stages[t.Stage], &t)
	}
	for s := range b.stages {
		list := b.stages[s]
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].Rank != list[j].Rank {
				return list[i].Rank < list[j].Rank
			}
			return list[i].ID < list[j].ID
		})
	}
	return b
}

// Owner returns the owner id of the board.
func (b *Board) Owner() string { return b.owner }

// Len returns the number of tasks on the board.
func (b *Board) Len() int { return len(b.byID) }

// Get returns a copy of the task with the given id.
func (b *Board) Get(id string) (domain.Task, bool) {
	t, ok := b.byID[id]
	if !ok {
		return domain.Task{}, false
	}
	b.densify(t.Stage)
	return *t, true
}

// Stage returns the ordered tasks of s.
func (b *Board) Stage(s domain.Stage) []domain.Task {
	if !s.Valid() {
		return nil
	}
	b.densify(s)
	out := make([]domain.Task, len(b.stages[s]))
	for i, t := range b.stages[s] {
		out[i] = *t
	}
	return out
}

// Tasks returns every task ordered by stage, then rank.
func (b *Board) Tasks() []domain.Task {
	out := make([]domain.Task, 0, len(b.byID))
	for s := domain.StageBacklog; s <= domain.StageDone; s++ {
		out = append(out, b.Stage(s)...)
	}
	return out
}

// Append adds a new task at the end of the backlog.
func (b *Board) Append(t domain.Task) (domain.Task, Mutation) {
	t.OwnerID = b.owner
	t.Stage = domain.StageBacklog
	t.ETag = ""
	nt := &t
	b.byID[t.ID] = nt
	b.stages[domain.StageBacklog] = append(b.stages[domain.StageBacklog], nt)
	m := b.collect(nt, domain.StageBacklog)
	return *nt, m
}

// Edit replaces the content fields of a task.
func (b *Board) Edit(id string, f domain.TaskFields) (domain.Task, Mutation, error) {
	t, ok := b.byID[id]
	if !ok {
		return domain.Task{}, Mutation{}, &domain.NotFoundError{TaskID: id}
	}
	t.Apply(f)
	m := b.collect(t, t.Stage)
	return *t, m, nil
}

// MoveStage moves a task to the end of target. Moving a task to its
// current stage changes nothing.
func (b *Board) MoveStage(id string, target domain.Stage) (domain.Task, Mutation, error) {
	t, ok := b.byID[id]
	if !ok {
		return domain.Task{}, Mutation{}, &domain.NotFoundError{TaskID: id}
	}
	if !target.Valid() {
		return domain.Task{}, Mutation{}, &domain.InvalidStageError{Stage: target}
	}
	if t.Stage == target {
		return *t, b.collect(nil, target), nil
	}
	from := t.Stage
	b.stages[from] = remove(b.stages[from], t)
	t.Stage = target
	b.stages[target] = append(b.stages[target], t)
	m := b.collect(nil, from, target)
	return *t, m, nil
}

// Advance moves a task one stage forward or backward. Advancing past the
// first or last stage is a no-op.
func (b *Board) Advance(id string, dir domain.Direction) (domain.Task, Mutation, error) {
	t, ok := b.byID[id]
	if !ok {
		return domain.Task{}, Mutation{}, &domain.NotFoundError{TaskID: id}
	}
	target := t.Stage
	switch dir {
	case domain.Forward:
		target++
	case domain.Backward:
		target--
	default:
		return domain.Task{}, Mutation{}, &domain.ValidationError{Field: "direction", Message: "direction must be forward or backward"}
	}
	if target < domain.StageBacklog {
		target = domain.StageBacklog
	}
	if target > domain.StageDone {
		target = domain.StageDone
	}
	return b.MoveStage(id, target)
}

// Reorder moves a task to dest within stage. The task must currently be
// in stage. dest is clamped to the valid index range.
func (b *Board) Reorder(id string, stage domain.Stage, dest int) (domain.Task, Mutation, error) {
	t, ok := b.byID[id]
	if !ok {
		return domain.Task{}, Mutation{}, &domain.NotFoundError{TaskID: id}
	}
	if !stage.Valid() {
		return domain.Task{}, Mutation{}, &domain.InvalidStageError{Stage: stage}
	}
	if t.Stage != stage {
		return domain.Task{}, Mutation{}, &domain.InvalidStageError{Stage: stage, Reason: "task " + id + " is in stage " + t.Stage.String()}
	}
	rest := remove(b.stages[stage], t)
	if dest < 0 {
		dest = 0
	}
	if dest > len(rest) {
		dest = len(rest)
	}
	rest = append(rest, nil)
	copy(rest[dest+1:], rest[dest:])
	rest[dest] = t
	b.stages[stage] = rest
	m := b.collect(nil, stage)
	return *t, m, nil
}

// Remove deletes a task and closes the gap it leaves in its stage.
func (b *Board) Remove(id string) (domain.Task, Mutation, error) {
	t, ok := b.byID[id]
	if !ok {
		return domain.Task{}, Mutation{}, &domain.NotFoundError{TaskID: id}
	}
	b.stages[t.Stage] = remove(b.stages[t.Stage], t)
	delete(b.byID, id)
	_, stored := b.persisted[id]
	delete(b.persisted, id)
	m := b.collect(nil, t.Stage)
	if stored {
		m.Deletes = append(m.Deletes, *t)
	}
	return *t, m, nil
}

// densify rewrites ranks of s to 0..n-1 without recording them.
func (b *Board) densify(s domain.Stage) {
	for i, t := range b.stages[s] {
		t.Rank = i
	}
}

// collect renumbers the given stages and returns the tasks whose persisted
// position changed, plus extra when it is not already included.
func (b *Board) collect(extra *domain.Task, stages ...domain.Stage) Mutation {
	var m Mutation
	seen := make(map[string]bool)
	for _, s := range stages {
		for i, t := range b.stages[s] {
			t.Rank = i
			p, stored := b.persisted[t.ID]
			if stored && p.stage == t.Stage && p.rank == t.Rank && t != extra {
				continue
			}
			if seen[t.ID] {
				continue
			}
			seen[t.ID] = true
			b.persisted[t.ID] = position{stage: t.Stage, rank: t.Rank}
			m.Upserts = append(m.Upserts, *t)
		}
	}
	if extra != nil && !seen[extra.ID] {
		b.persisted[extra.ID] = position{stage: extra.Stage, rank: extra.Rank}
		m.Upserts = append(m.Upserts, *extra)
	}
	return m
}

func remove(list []*domain.Task, t *domain.Task) []*domain.Task {
	out := list[:0:0]
	for _, x := range list {
		if x != t {
			out = append(out, x)
		}
	}
	return out
}
