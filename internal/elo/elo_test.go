package elo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/model"
)

func ratingFor(t *testing.T, store *MemoryStore, id string) model.EloRating {
	t.Helper()
	rating, ok, err := store.GetRating(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok, "rating for %s should exist", id)
	return rating
}

func TestRecordComparisonUpdatesBothSides(t *testing.T) {
	store := NewMemoryStore()
	tracker := NewTracker(store)
	ctx := context.Background()

	err := tracker.RecordComparison(ctx, "post-1", "a", "b", 0.8, 0.3, "composite")
	require.NoError(t, err)

	a := ratingFor(t, store, "a")
	b := ratingFor(t, store, "b")

	// Equal ratings at base: winner gains K/2, loser loses K/2.
	assert.InDelta(t, 1216, a.Rating, 1e-9)
	assert.InDelta(t, 1184, b.Rating, 1e-9)
	assert.Equal(t, 1, a.Wins)
	assert.Equal(t, 1, b.Losses)
}

func TestCountsInvariant(t *testing.T) {
	store := NewMemoryStore()
	tracker := NewTracker(store)
	ctx := context.Background()

	require.NoError(t, tracker.RecordComparison(ctx, "p1", "a", "b", 0.9, 0.1, ""))
	require.NoError(t, tracker.RecordComparison(ctx, "p2", "b", "c", 0.7, 0.2, ""))
	require.NoError(t, tracker.RecordDraw(ctx, "p3", "a", "c", 0.5, 0.5, ""))
	require.NoError(t, tracker.RecordComparison(ctx, "p4", "c", "a", 0.8, 0.6, ""))

	ratings, err := store.Ratings(ctx)
	require.NoError(t, err)
	require.Len(t, ratings, 3)

	for _, r := range ratings {
		assert.Equal(t, r.TotalComparisons, r.Wins+r.Losses+r.Draws,
			"variant %s: wins+losses+draws must equal totalComparisons", r.VariantID)
	}
}

func TestZeroSumUpdate(t *testing.T) {
	store := NewMemoryStore()
	tracker := NewTracker(store)
	ctx := context.Background()

	// Seed asymmetric ratings first.
	require.NoError(t, tracker.RecordComparison(ctx, "p1", "a", "b", 0.9, 0.1, ""))

	before := ratingFor(t, store, "a").Rating + ratingFor(t, store, "b").Rating

	require.NoError(t, tracker.RecordComparison(ctx, "p2", "b", "a", 0.9, 0.1, ""))

	after := ratingFor(t, store, "a").Rating + ratingFor(t, store, "b").Rating
	assert.InDelta(t, before, after, 1e-9)
}

func TestDrawMovesRatingsTowardEachOther(t *testing.T) {
	store := NewMemoryStore()
	tracker := NewTracker(store)
	ctx := context.Background()

	// Make "a" stronger first.
	require.NoError(t, tracker.RecordComparison(ctx, "p1", "a", "b", 0.9, 0.1, ""))
	aBefore := ratingFor(t, store, "a").Rating
	bBefore := ratingFor(t, store, "b").Rating

	require.NoError(t, tracker.RecordDraw(ctx, "p2", "a", "b", 0.5, 0.5, ""))

	a := ratingFor(t, store, "a")
	b := ratingFor(t, store, "b")
	assert.Less(t, a.Rating, aBefore)
	assert.Greater(t, b.Rating, bBefore)
	assert.InDelta(t, aBefore-a.Rating, b.Rating-bBefore, 1e-9)
}

func TestCompareResultsDrawWithinMargin(t *testing.T) {
	store := NewMemoryStore()
	tracker := NewTracker(store)
	ctx := context.Background()

	results := []*model.PipelineResult{
		{VariantID: "a", CompositeScore: 0.601},
		{VariantID: "b", CompositeScore: 0.607},
	}

	require.NoError(t, tracker.CompareResults(ctx, "p1", results))

	recs, err := store.Comparisons(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].IsDraw)
	assert.Empty(t, recs[0].WinnerID)

	a := ratingFor(t, store, "a")
	b := ratingFor(t, store, "b")
	assert.InDelta(t, 1200, a.Rating, 1e-9)
	assert.InDelta(t, 1200, b.Rating, 1e-9)
	assert.Equal(t, 1, a.Draws)
	assert.Equal(t, 1, b.Draws)
}

func TestCompareResultsAllPairwise(t *testing.T) {
	store := NewMemoryStore()
	tracker := NewTracker(store)
	ctx := context.Background()

	results := []*model.PipelineResult{
		{VariantID: "a", CompositeScore: 0.9},
		{VariantID: "b", CompositeScore: 0.5},
		nil, // failed run is skipped
		{VariantID: "c", CompositeScore: 0.1},
	}

	require.NoError(t, tracker.CompareResults(ctx, "p1", results))

	recs, err := store.Comparisons(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 3)

	a := ratingFor(t, store, "a")
	c := ratingFor(t, store, "c")
	assert.Equal(t, 2, a.Wins)
	assert.Equal(t, 2, c.Losses)
	assert.Greater(t, a.Rating, c.Rating)
}

func TestCompareResultsSingleValidIsNoop(t *testing.T) {
	store := NewMemoryStore()
	tracker := NewTracker(store)
	ctx := context.Background()

	require.NoError(t, tracker.CompareResults(ctx, "p1", []*model.PipelineResult{
		{VariantID: "a", CompositeScore: 0.9},
		nil,
	}))

	recs, err := store.Comparisons(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestExpectedSymmetry(t *testing.T) {
	assert.InDelta(t, 0.5, Expected(1200, 1200), 1e-9)

	e := Expected(1400, 1200)
	assert.InDelta(t, 1.0, e+Expected(1200, 1400), 1e-9)
	assert.Greater(t, e, 0.5)
}
