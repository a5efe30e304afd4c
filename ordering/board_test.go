package ordering

import (
	"errors"
	"reflect"
	"sort"
	"testing"

	"taskboard-api/domain"
)

func ids(tasks []domain.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func newTask(id string) domain.Task {
	return domain.Task{ID: id, Name: id, Priority: domain.PriorityLow, Deadline: "2024-01-01"}
}

func boardWith(t *testing.T, names ...string) *Board {
	t.Helper()
	b := NewBoard("owner", nil)
	for _, n := range names {
		b.Append(newTask(n))
	}
	return b
}

func assertDense(t *testing.T, b *Board) {
	t.Helper()
	for s := domain.StageBacklog; s <= domain.StageDone; s++ {
		for i, task := range b.Stage(s) {
			if task.Rank != i {
				t.Fatalf("stage %v: task %s has rank %d at index %d", s, task.ID, task.Rank, i)
			}
			if task.Stage != s {
				t.Fatalf("task %s listed in stage %v but has stage %v", task.ID, s, task.Stage)
			}
		}
	}
}

func TestAppendCreatesAtEndOfBacklog(t *testing.T) {
	b := NewBoard("owner", nil)
	a, m := b.Append(newTask("A"))
	if a.Stage != domain.StageBacklog || a.Rank != 0 || a.OwnerID != "owner" {
		t.Fatalf("unexpected task: %+v", a)
	}
	if len(m.Upserts) != 1 || m.Upserts[0].ID != "A" {
		t.Fatalf("unexpected mutation: %+v", m)
	}

	withStage := newTask("B")
	withStage.Stage = domain.StageDone
	bt, _ := b.Append(withStage)
	if bt.Stage != domain.StageBacklog || bt.Rank != 1 {
		t.Fatalf("expected B appended to backlog, got %+v", bt)
	}
	if got := ids(b.Stage(domain.StageBacklog)); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestReorderScenario(t *testing.T) {
	b := boardWith(t, "A", "B")
	task, m, err := b.Reorder("B", domain.StageBacklog, 0)
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if task.Rank != 0 {
		t.Fatalf("expected B at rank 0, got %d", task.Rank)
	}
	if got := ids(b.Stage(domain.StageBacklog)); !reflect.DeepEqual(got, []string{"B", "A"}) {
		t.Fatalf("unexpected order: %v", got)
	}
	if len(m.Upserts) != 2 {
		t.Fatalf("expected both ranks rewritten, got %+v", m.Upserts)
	}
	assertDense(t, b)
}

func TestReorderClampsDestination(t *testing.T) {
	b := boardWith(t, "A", "B", "C")
	if _, _, err := b.Reorder("A", domain.StageBacklog, 99); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if got := ids(b.Stage(domain.StageBacklog)); !reflect.DeepEqual(got, []string{"B", "C", "A"}) {
		t.Fatalf("unexpected order after clamp high: %v", got)
	}
	if _, _, err := b.Reorder("A", domain.StageBacklog, -5); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if got := ids(b.Stage(domain.StageBacklog)); !reflect.DeepEqual(got, []string{"A", "B", "C"}) {
		t.Fatalf("unexpected order after clamp low: %v", got)
	}
	assertDense(t, b)
}

func TestReorderWrongStage(t *testing.T) {
	b := boardWith(t, "A")
	_, m, err := b.Reorder("A", domain.StageOngoing, 0)
	var stageErr *domain.InvalidStageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected InvalidStageError, got %v", err)
	}
	if !m.Empty() {
		t.Fatalf("expected empty mutation")
	}
	if _, _, err := b.Reorder("A", domain.Stage(9), 0); !errors.As(err, &stageErr) {
		t.Fatalf("expected InvalidStageError for out of range stage, got %v", err)
	}
	if _, _, err := b.Reorder("missing", domain.StageBacklog, 0); !domain.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestReorderKeepsMembership(t *testing.T) {
	b := boardWith(t, "A", "B", "C", "D", "E")
	moves := []struct {
		id   string
		dest int
	}{{"E", 0}, {"A", 3}, {"C", 1}, {"B", 4}, {"D", 2}, {"E", 10}}
	want := []string{"A", "B", "C", "D", "E"}
	for _, mv := range moves {
		if _, _, err := b.Reorder(mv.id, domain.StageBacklog, mv.dest); err != nil {
			t.Fatalf("reorder %s: %v", mv.id, err)
		}
		got := ids(b.Stage(domain.StageBacklog))
		sort.Strings(got)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("membership changed after moving %s: %v", mv.id, got)
		}
		assertDense(t, b)
	}
}

func TestMoveStageScenario(t *testing.T) {
	b := boardWith(t, "A", "B")
	task, m, err := b.MoveStage("A", domain.StageOngoing)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if task.Stage != domain.StageOngoing || task.Rank != 0 {
		t.Fatalf("unexpected moved task: %+v", task)
	}
	if got := ids(b.Stage(domain.StageBacklog)); !reflect.DeepEqual(got, []string{"B"}) {
		t.Fatalf("unexpected backlog: %v", got)
	}
	if got := ids(b.Stage(domain.StageOngoing)); !reflect.DeepEqual(got, []string{"A"}) {
		t.Fatalf("unexpected ongoing: %v", got)
	}
	if len(m.Upserts) != 2 {
		t.Fatalf("expected A and shifted B in mutation, got %+v", m.Upserts)
	}
	assertDense(t, b)
}

func TestMoveStageAppendsToTarget(t *testing.T) {
	b := boardWith(t, "A", "B", "C")
	if _, _, err := b.MoveStage("A", domain.StageDone); err != nil {
		t.Fatalf("move: %v", err)
	}
	task, _, err := b.MoveStage("C", domain.StageDone)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if task.Rank != 1 {
		t.Fatalf("expected C appended at rank 1, got %d", task.Rank)
	}
	if got := ids(b.Stage(domain.StageDone)); !reflect.DeepEqual(got, []string{"A", "C"}) {
		t.Fatalf("unexpected done: %v", got)
	}
}

func TestMoveStageSameStageIsNoop(t *testing.T) {
	b := boardWith(t, "A", "B")
	if _, _, err := b.MoveStage("A", domain.StageTodo); err != nil {
		t.Fatalf("move: %v", err)
	}
	before := b.Tasks()
	task, m, err := b.MoveStage("A", domain.StageTodo)
	if err != nil {
		t.Fatalf("second move: %v", err)
	}
	if !m.Empty() {
		t.Fatalf("expected no writes, got %+v", m)
	}
	if task.Stage != domain.StageTodo || task.Rank != 0 {
		t.Fatalf("unexpected task: %+v", task)
	}
	if !reflect.DeepEqual(before, b.Tasks()) {
		t.Fatalf("board changed on same-stage move")
	}
}

func TestMoveStageErrors(t *testing.T) {
	b := boardWith(t, "A")
	var stageErr *domain.InvalidStageError
	if _, _, err := b.MoveStage("A", domain.Stage(4)); !errors.As(err, &stageErr) {
		t.Fatalf("expected InvalidStageError, got %v", err)
	}
	if _, _, err := b.MoveStage("A", domain.Stage(-1)); !errors.As(err, &stageErr) {
		t.Fatalf("expected InvalidStageError, got %v", err)
	}
	if _, _, err := b.MoveStage("nope", domain.StageTodo); !domain.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestAdvanceClamps(t *testing.T) {
	b := boardWith(t, "A")
	task, m, err := b.Advance("A", domain.Backward)
	if err != nil {
		t.Fatalf("advance backward: %v", err)
	}
	if task.Stage != domain.StageBacklog || !m.Empty() {
		t.Fatalf("expected clamped no-op, got %+v %+v", task, m)
	}
	for i := 0; i < 5; i++ {
		if task, _, err = b.Advance("A", domain.Forward); err != nil {
			t.Fatalf("advance forward: %v", err)
		}
	}
	if task.Stage != domain.StageDone {
		t.Fatalf("expected stage done, got %v", task.Stage)
	}
	task, _, err = b.Advance("A", domain.Backward)
	if err != nil || task.Stage != domain.StageOngoing {
		t.Fatalf("expected ongoing, got %v %v", task.Stage, err)
	}
	var ve *domain.ValidationError
	if _, _, err := b.Advance("A", "sideways"); !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestRemoveClosesGap(t *testing.T) {
	b := NewBoard("owner", []domain.Task{
		{ID: "A", OwnerID: "owner", Rank: 0},
		{ID: "B", OwnerID: "owner", Rank: 1},
		{ID: "C", OwnerID: "owner", Rank: 2},
	})
	removed, m, err := b.Remove("A")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed.ID != "A" {
		t.Fatalf("unexpected removed task %+v", removed)
	}
	if len(m.Deletes) != 1 || m.Deletes[0].ID != "A" {
		t.Fatalf("expected delete of A, got %+v", m.Deletes)
	}
	ranks := map[string]int{}
	for _, u := range m.Upserts {
		ranks[u.ID] = u.Rank
	}
	if !reflect.DeepEqual(ranks, map[string]int{"B": 0, "C": 1}) {
		t.Fatalf("expected shifted ranks, got %v", ranks)
	}
	if _, ok := b.Get("A"); ok {
		t.Fatalf("removed task still present")
	}
	if _, _, err := b.Remove("A"); !domain.IsNotFound(err) {
		t.Fatalf("expected NotFoundError on second remove, got %v", err)
	}
}

func TestNewBoardNormalizesStoredRanks(t *testing.T) {
	b := NewBoard("owner", []domain.Task{
		{ID: "c", OwnerID: "owner", Rank: 10},
		{ID: "a", OwnerID: "owner", Rank: 3},
		{ID: "b", OwnerID: "owner", Rank: 3},
		{ID: "x", OwnerID: "other", Rank: 0},
		{ID: "bad", OwnerID: "owner", Stage: domain.Stage(7)},
	})
	if b.Len() != 3 {
		t.Fatalf("expected foreign and invalid tasks dropped, got %d", b.Len())
	}
	if got := ids(b.Stage(domain.StageBacklog)); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected order: %v", got)
	}
	_, m, err := b.MoveStage("a", domain.StageBacklog)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if len(m.Upserts) != 3 {
		t.Fatalf("expected ranks densified in mutation, got %+v", m.Upserts)
	}
	assertDense(t, b)
}

func TestEditKeepsPosition(t *testing.T) {
	b := boardWith(t, "A", "B")
	task, m, err := b.Edit("B", domain.TaskFields{Name: "renamed", Priority: domain.PriorityHigh, Deadline: "2025-01-01"})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if task.Name != "renamed" || task.Rank != 1 || task.Stage != domain.StageBacklog {
		t.Fatalf("unexpected task: %+v", task)
	}
	if len(m.Upserts) != 1 || m.Upserts[0].Name != "renamed" {
		t.Fatalf("unexpected mutation: %+v", m)
	}
	if _, _, err := b.Edit("zzz", domain.TaskFields{}); !domain.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}
