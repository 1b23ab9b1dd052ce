// Package inmemory provides a ledger store backed by process memory. It is
// the default driver; entries are lost when the process exits.
package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lanternworks/relay/pkg/ledger"
)

// Store implements ledger.Store using an in-memory slice.
type Store struct {
	// mu guards entries
	mu sync.RWMutex

	entries []ledger.Entry
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{}
}

// Record persists one usage entry.
func (s *Store) Record(_ context.Context, entry ledger.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entry)
	return nil
}

// Summary aggregates usage, scoped to userID when non-empty.
func (s *Store) Summary(_ context.Context, userID string) (ledger.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var summary ledger.Summary
	for _, entry := range s.entries {
		if userID != "" && entry.UserID != userID {
			continue
		}
		summary.Streams++
		summary.InputTokens += entry.InputTokens
		summary.OutputTokens += entry.OutputTokens
		summary.TotalTokens += entry.TotalTokens
	}

	return summary, nil
}

// ListRecent returns the newest entries first, scoped to userID when
// non-empty. A non-positive limit defaults to 50.
func (s *Store) ListRecent(_ context.Context, userID string, limit int) ([]ledger.Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []ledger.Entry
	for _, entry := range s.entries {
		if userID != "" && entry.UserID != userID {
			continue
		}
		matched = append(matched, entry)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if len(matched) > limit {
		matched = matched[:limit]
	}

	return matched, nil
}

// Count returns the number of recorded entries.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}
