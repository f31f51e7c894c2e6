package memory

import (
	"context"
	"testing"

	"github.com/mschirtzinger/caldav-tasks/internal/store"
	"github.com/mschirtzinger/caldav-tasks/internal/store/storetest"
	"github.com/mschirtzinger/caldav-tasks/internal/types"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}

func TestReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.CreateTask(ctx, storetest.Task("t1", "u1", "a1", "c1")); err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}

	got, _ := s.GetTask(ctx, "t1")
	got.Title = "mutated"
	got.Tags = append(got.Tags, "x")

	again, _ := s.GetTask(ctx, "t1")
	if again.Title == "mutated" || len(again.Tags) != 0 {
		t.Errorf("store returned a shared reference: %+v", again)
	}
}

func TestWritesCounter(t *testing.T) {
	ctx := context.Background()
	s := New()
	if s.Writes() != 0 {
		t.Fatalf("Writes() = %d on empty store", s.Writes())
	}
	_ = s.CreateTag(ctx, &types.Tag{ID: "g", Name: "n"})
	_, _ = s.GetAllTags(ctx)
	if s.Writes() != 1 {
		t.Errorf("Writes() = %d, want 1 (reads do not count)", s.Writes())
	}
}
