package leads

import (
	"context"
	"slices"
	"sort"
	"strings"

	"leadflow_backend/platform/keylock"
	"leadflow_backend/platform/kv"
)

const tagsPrefix = "leads:tags:"

// TagStore keeps the free-form tags automation rules attach to leads.
type TagStore struct {
	store kv.Store
	locks *keylock.Locker
}

func NewTagStore(store kv.Store) *TagStore {
	return &TagStore{store: store, locks: keylock.New()}
}

// Tags returns the lead's tags sorted, empty when none were added.
func (s *TagStore) Tags(ctx context.Context, leadID string) ([]string, error) {
	tags, err := kv.GetJSON[[]string](ctx, s.store, tagsPrefix+leadID)
	if kv.IsNotFound(err) {
		return []string{}, nil
	}
	return tags, err
}

// AddTag is idempotent and reports whether the tag was new.
func (s *TagStore) AddTag(ctx context.Context, leadID, tag string) (bool, error) {
	tag = normalizeTag(tag)
	unlock := s.locks.Lock(leadID)
	defer unlock()

	tags, err := s.Tags(ctx, leadID)
	if err != nil {
		return false, err
	}
	if slices.Contains(tags, tag) {
		return false, nil
	}
	tags = append(tags, tag)
	sort.Strings(tags)
	return true, kv.PutJSON(ctx, s.store, tagsPrefix+leadID, tags)
}

// RemoveTag reports whether the tag was present.
func (s *TagStore) RemoveTag(ctx context.Context, leadID, tag string) (bool, error) {
	tag = normalizeTag(tag)
	unlock := s.locks.Lock(leadID)
	defer unlock()

	tags, err := s.Tags(ctx, leadID)
	if err != nil {
		return false, err
	}
	idx := slices.Index(tags, tag)
	if idx < 0 {
		return false, nil
	}
	tags = slices.Delete(tags, idx, idx+1)
	return true, kv.PutJSON(ctx, s.store, tagsPrefix+leadID, tags)
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}
