package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/mschirtzinger/caldav-tasks/internal/store"
	"github.com/mschirtzinger/caldav-tasks/internal/types"
)

// TagResolver maps tag names to tag ids, creating tags on first use.
type TagResolver struct {
	store  store.Store
	logger *log.Logger
}

// NewTagResolver creates a resolver over the store.
func NewTagResolver(s store.Store, logger *log.Logger) *TagResolver {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &TagResolver{store: s, logger: logger}
}

// Resolve returns the id of the tag whose name matches ignoring case.
// If none exists a tag is created with TagColor(name).
//
// The tag set is re-read on every call, so a tag created by an earlier
// call in the same pass is found instead of duplicated.
func (r *TagResolver) Resolve(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("tag name is empty")
	}

	tags, err := r.store.GetAllTags(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list tags: %w", err)
	}
	for _, t := range tags {
		if strings.EqualFold(t.Name, name) {
			return t.ID, nil
		}
	}

	tag := &types.Tag{
		ID:    uuid.NewString(),
		Name:  name,
		Color: TagColor(name),
	}
	if err := r.store.CreateTag(ctx, tag); err != nil {
		return "", fmt.Errorf("failed to create tag %q: %w", name, err)
	}
	r.logger.Printf("Created tag: %s", name)
	return tag.ID, nil
}

// ResolveAll resolves names in order, dropping repeated ids.
func (r *TagResolver) ResolveAll(ctx context.Context, names []string) ([]string, error) {
	ids := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		id, err := r.Resolve(ctx, name)
		if err != nil {
			return nil, err
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}
