package sync

import (
	"context"
	"testing"

	"github.com/mschirtzinger/caldav-tasks/internal/store/memory"
	"github.com/mschirtzinger/caldav-tasks/internal/types"
)

func TestTagResolver_CaseInsensitive(t *testing.T) {
	s := memory.New()
	r := NewTagResolver(s, quietLogger())
	ctx := context.Background()

	first, err := r.Resolve(ctx, "Work")
	if err != nil {
		t.Fatalf("Resolve(Work) failed: %v", err)
	}
	second, err := r.Resolve(ctx, "work")
	if err != nil {
		t.Fatalf("Resolve(work) failed: %v", err)
	}
	if first != second {
		t.Errorf("Resolve(Work) = %s, Resolve(work) = %s, want same id", first, second)
	}

	tags, _ := s.GetAllTags(ctx)
	if len(tags) != 1 {
		t.Fatalf("got %d tags, want 1", len(tags))
	}
	if tags[0].Name != "Work" {
		t.Errorf("tag name = %q, want first spelling Work", tags[0].Name)
	}
	if tags[0].Color != TagColor("Work") {
		t.Errorf("tag color = %q, want %q", tags[0].Color, TagColor("Work"))
	}
}

func TestTagResolver_ExistingTag(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	if err := s.CreateTag(ctx, &types.Tag{ID: "existing", Name: "HOME", Color: "#000000"}); err != nil {
		t.Fatal(err)
	}

	id, err := NewTagResolver(s, quietLogger()).Resolve(ctx, " home ")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if id != "existing" {
		t.Errorf("Resolve() = %s, want existing", id)
	}
}

func TestTagResolver_ResolveAll(t *testing.T) {
	s := memory.New()
	r := NewTagResolver(s, quietLogger())
	ctx := context.Background()

	ids, err := r.ResolveAll(ctx, []string{"a", "B", "A", "b", "c"})
	if err != nil {
		t.Fatalf("ResolveAll() failed: %v", err)
	}
	if len(ids) != 3 {
		t.Errorf("ResolveAll() = %v, want 3 distinct ids", ids)
	}
	tags, _ := s.GetAllTags(ctx)
	if len(tags) != 3 {
		t.Errorf("got %d tags, want 3", len(tags))
	}

	if _, err := r.Resolve(ctx, "  "); err == nil {
		t.Error("Resolve(blank) should fail")
	}
}

func TestTagColor(t *testing.T) {
	tests := []struct{ a, b string }{
		{"Work", "work"},
		{"Errands", " ERRANDS "},
	}
	for _, tt := range tests {
		if TagColor(tt.a) != TagColor(tt.b) {
			t.Errorf("TagColor(%q) != TagColor(%q)", tt.a, tt.b)
		}
	}

	if got := TagColor("Work"); got != TagColor("Work") {
		t.Errorf("TagColor not deterministic: %s", got)
	}

	valid := make(map[string]bool, len(tagPalette))
	for _, c := range tagPalette {
		valid[c] = true
	}
	for _, name := range []string{"", "x", "groceries", "日本"} {
		if !valid[TagColor(name)] {
			t.Errorf("TagColor(%q) = %s, not in palette", name, TagColor(name))
		}
	}
}
