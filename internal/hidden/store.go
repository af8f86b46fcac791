// Package hidden persists the per-user set of activity items the user chose to hide.
package hidden

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/solarops/activity/internal/cache"
	"github.com/solarops/activity/pkg/metrics"
	"github.com/solarops/activity/pkg/validator"
)

// Ref identifies an activity item by category and source document id.
type Ref struct {
	Category string `json:"category" validate:"required,key_segment"`
	ID       string `json:"id" validate:"required,key_segment"`
}

// String renders the ref as "category/id".
func (r Ref) String() string {
	return r.Category + "/" + r.ID
}

// Set is an in-memory snapshot of a user's hidden items.
type Set map[Ref]struct{}

// Has reports whether ref is hidden.
func (s Set) Has(ref Ref) bool {
	_, ok := s[ref]
	return ok
}

// Add marks refs hidden.
func (s Set) Add(refs ...Ref) {
	for _, ref := range refs {
		s[ref] = struct{}{}
	}
}

// Store persists hidden items one KV entry per item.
type Store struct {
	kv        cache.Store
	retention time.Duration
	now       func() time.Time
}

// NewStore constructs a hidden-item store. A zero retention keeps entries forever.
func NewStore(kv cache.Store, retention time.Duration) (*Store, error) {
	if kv == nil {
		return nil, errors.New("hidden: key-value store is required")
	}
	if retention < 0 {
		retention = 0
	}
	return &Store{kv: kv, retention: retention, now: time.Now}, nil
}

func userPrefix(userID string) string {
	return "hidden:" + userID + ":"
}

func itemKey(userID string, ref Ref) string {
	return userPrefix(userID) + ref.Category + ":" + ref.ID
}

func validateUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("hidden: user id is required")
	}
	if !validator.IsKeySegment(userID) {
		return fmt.Errorf("hidden: invalid user id %q", userID)
	}
	return nil
}

// Load returns every hidden item of the user that has not expired.
func (s *Store) Load(ctx context.Context, userID string) (Set, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}

	entries, err := s.kv.List(ctx, userPrefix(userID))
	if err != nil {
		return nil, fmt.Errorf("hidden: list: %w", err)
	}

	set := make(Set, len(entries))
	prefix := userPrefix(userID)
	for key := range entries {
		rest := strings.TrimPrefix(key, prefix)
		category, id, ok := strings.Cut(rest, ":")
		if !ok || category == "" || id == "" {
			continue
		}
		set.Add(Ref{Category: category, ID: id})
	}
	return set, nil
}

// Hide persists refs for the user and reports how many were written. Every ref is checked
// before the first write; the batch then stops at the first failing write, so refs[:n] are
// persisted when err is non-nil.
func (s *Store) Hide(ctx context.Context, userID string, refs ...Ref) (int, error) {
	if err := validateUser(userID); err != nil {
		return 0, err
	}
	for _, ref := range refs {
		if !validator.IsKeySegment(ref.Category) || !validator.IsKeySegment(ref.ID) {
			return 0, fmt.Errorf("hidden: invalid item %q", ref.String())
		}
	}

	stamp := []byte(s.now().UTC().Format(time.RFC3339Nano))
	for i, ref := range refs {
		if err := s.kv.Set(ctx, itemKey(userID, ref), stamp, s.retention); err != nil {
			return i, fmt.Errorf("hidden: set %s: %w", ref, err)
		}
		metrics.HiddenItems.WithLabelValues(ref.Category).Inc()
	}
	return len(refs), nil
}
