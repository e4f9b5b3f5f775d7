package detectors

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryIndex is a ContentIndex held in a bounded LRU. When full, the least
// recently seen fingerprint is evicted.
type MemoryIndex struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *fingerprintEntry]
	window  time.Duration
}

type fingerprintEntry struct {
	// posts holds per-user post times inside the window.
	posts map[string][]time.Time
}

// NewMemoryIndex creates an index remembering up to capacity fingerprints.
func NewMemoryIndex(capacity int, window time.Duration) (*MemoryIndex, error) {
	cache, err := lru.New[string, *fingerprintEntry](capacity)
	if err != nil {
		return nil, err
	}
	return &MemoryIndex{entries: cache, window: window}, nil
}

func (m *MemoryIndex) Record(_ context.Context, fingerprint, userID string, at time.Time) (Sighting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries.Get(fingerprint)
	if !ok {
		entry = &fingerprintEntry{posts: make(map[string][]time.Time)}
		m.entries.Add(fingerprint, entry)
	}

	cutoff := at.Add(-m.window)
	for user, times := range entry.posts {
		kept := times[:0]
		for _, t := range times {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(entry.posts, user)
		} else {
			entry.posts[user] = kept
		}
	}
	entry.posts[userID] = append(entry.posts[userID], at)

	return Sighting{DistinctUsers: len(entry.posts), UserCount: len(entry.posts[userID])}, nil
}

// Len returns the number of tracked fingerprints.
func (m *MemoryIndex) Len() int {
	return m.entries.Len()
}
