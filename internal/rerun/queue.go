package rerun

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/model"
)

// DefaultWindow is the trailing window within which an enqueued post stays
// eligible for one more pipeline attempt.
const DefaultWindow = 24 * time.Hour

// ErrFutureTimestamp rejects entries whose CreatedAt is ahead of the enqueue
// time.
var ErrFutureTimestamp = errors.New("rerun entry created_at is in the future")

// Queue records posts that failed the pipeline but were judged time-sensitive
// enough for one more attempt. The queue does no judgment itself. ActiveIDs
// is a read-time filter; implementations may retain expired entries for
// audit.
type Queue interface {
	Enqueue(ctx context.Context, entry model.RerunEntry) error
	ActiveIDs(ctx context.Context, window time.Duration) (map[string]struct{}, error)
}

// MemoryQueue is an in-memory Queue used by tests and single-process runs.
type MemoryQueue struct {
	mu      sync.RWMutex
	entries []model.RerunEntry
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, entry model.RerunEntry) error {
	now := time.Now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.CreatedAt.After(now) {
		return ErrFutureTimestamp
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = append(q.entries, entry)
	return nil
}

func (q *MemoryQueue) ActiveIDs(ctx context.Context, window time.Duration) (map[string]struct{}, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	cutoff := time.Now().Add(-window)

	q.mu.RLock()
	defer q.mu.RUnlock()

	ids := make(map[string]struct{})
	for _, e := range q.entries {
		if e.CreatedAt.After(cutoff) {
			ids[e.PostID] = struct{}{}
		}
	}
	return ids, nil
}

// Entries returns a copy of everything ever enqueued, expired included.
func (q *MemoryQueue) Entries() []model.RerunEntry {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]model.RerunEntry, len(q.entries))
	copy(out, q.entries)
	return out
}
