package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
)

func TestTaskMarshalIncludesZeroOrder(t *testing.T) {
	task := Task{ID: "t1", Name: "Title", Priority: PriorityLow, Deadline: "2024-05-01", Rank: 0, ETag: "7"}

	payload, err := sonic.Marshal(task)
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}

	if !strings.Contains(string(payload), "\"order\":0") {
		t.Fatalf("expected order field to be present, got %s", payload)
	}
	if strings.Contains(string(payload), "7") {
		t.Fatalf("etag must not be serialized, got %s", payload)
	}
}

func TestStageValid(t *testing.T) {
	for s := Stage(-1); s <= StageCount; s++ {
		want := s >= 0 && s < StageCount
		if got := s.Valid(); got != want {
			t.Fatalf("stage %d: expected valid=%v", s, want)
		}
	}
}

func TestParseStage(t *testing.T) {
	cases := map[string]Stage{"0": StageBacklog, "todo": StageTodo, " Ongoing ": StageOngoing, "3": StageDone}
	for raw, want := range cases {
		got, err := ParseStage(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("parse %q: expected %v, got %v", raw, want, got)
		}
	}
	for _, raw := range []string{"4", "-1", "later"} {
		_, err := ParseStage(raw)
		var stageErr *InvalidStageError
		if !errors.As(err, &stageErr) {
			t.Fatalf("parse %q: expected InvalidStageError, got %v", raw, err)
		}
	}
}

func TestTaskFieldsValidate(t *testing.T) {
	ok := TaskFields{Name: " Write ", Deadline: "2024-02-29"}.Normalize()
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok.Name != "Write" || ok.Priority != PriorityLow {
		t.Fatalf("unexpected normalization: %+v", ok)
	}

	cases := []struct {
		fields TaskFields
		field  string
	}{
		{TaskFields{Name: "  ", Deadline: "2024-01-01"}, "name"},
		{TaskFields{Name: "a"}, "deadline"},
		{TaskFields{Name: "a", Deadline: "01/02/2024"}, "deadline"},
		{TaskFields{Name: "a", Deadline: "2024-01-01", Priority: "urgent"}, "priority"},
	}
	for _, tc := range cases {
		err := tc.fields.Normalize().Validate()
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("%+v: expected ValidationError, got %v", tc.fields, err)
		}
		if ve.Field != tc.field {
			t.Fatalf("%+v: expected field %s, got %s", tc.fields, tc.field, ve.Field)
		}
	}
}

func TestSummarize(t *testing.T) {
	tasks := []Task{{Stage: StageBacklog}, {Stage: StageDone}, {Stage: StageDone}, {Stage: StageOngoing}}
	s := Summarize(tasks)
	if s.Total != 4 || s.Completed != 2 || s.Pending != 2 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if s.PerStage != [StageCount]int{1, 0, 1, 2} {
		t.Fatalf("unexpected per stage counts: %v", s.PerStage)
	}
}

func TestStoreUnavailableErrorUnwraps(t *testing.T) {
	base := errors.New("boom")
	err := &StoreUnavailableError{Op: "list", Err: base}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to match")
	}
}
