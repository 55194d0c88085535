package rerun

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/model"
)

func TestActiveIDsWindowFilter(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, model.RerunEntry{
		PostID:    "fresh",
		CreatedAt: time.Now().Add(-time.Hour),
	}))
	require.NoError(t, q.Enqueue(ctx, model.RerunEntry{
		PostID:    "stale",
		CreatedAt: time.Now().Add(-25 * time.Hour),
	}))

	ids, err := q.ActiveIDs(ctx, 24*time.Hour)
	require.NoError(t, err)

	assert.Contains(t, ids, "fresh")
	assert.NotContains(t, ids, "stale")

	// Expired entries remain in storage for audit.
	assert.Len(t, q.Entries(), 2)
}

func TestActiveIDsIdempotent(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, model.RerunEntry{PostID: "a"}))
	require.NoError(t, q.Enqueue(ctx, model.RerunEntry{PostID: "b"}))

	first, err := q.ActiveIDs(ctx, DefaultWindow)
	require.NoError(t, err)
	second, err := q.ActiveIDs(ctx, DefaultWindow)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestEnqueueRejectsFutureTimestamp(t *testing.T) {
	q := NewMemoryQueue()

	err := q.Enqueue(context.Background(), model.RerunEntry{
		PostID:    "a",
		CreatedAt: time.Now().Add(time.Hour),
	})
	assert.ErrorIs(t, err, ErrFutureTimestamp)
	assert.Empty(t, q.Entries())
}

func TestEnqueueDefaultsCreatedAt(t *testing.T) {
	q := NewMemoryQueue()
	require.NoError(t, q.Enqueue(context.Background(), model.RerunEntry{PostID: "a"}))

	entries := q.Entries()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].CreatedAt.IsZero())
}

func TestZeroWindowUsesDefault(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, model.RerunEntry{
		PostID:    "recent",
		CreatedAt: time.Now().Add(-23 * time.Hour),
	}))

	ids, err := q.ActiveIDs(ctx, 0)
	require.NoError(t, err)
	assert.Contains(t, ids, "recent")
}
