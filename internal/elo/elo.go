package elo

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/metrics"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/model"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/pkg/logger"
)

const (
	// K is the Elo K-factor applied to every rating update.
	K = 32

	// BaseRating is assigned to a variant on first appearance.
	BaseRating = 1200

	// DefaultDrawMargin is the composite-score distance under which a pairwise
	// comparison counts as a draw, so floating-point-scale noise does not
	// produce win/loss churn.
	DefaultDrawMargin = 0.01
)

// Store persists ratings and the append-only comparison log. Implementations
// must make AppendComparison durable before the subsequent rating writes, or
// accept at-least-once replay.
type Store interface {
	Load(ctx context.Context) error
	Flush(ctx context.Context) error
	GetRating(ctx context.Context, variantID string) (model.EloRating, bool, error)
	PutRating(ctx context.Context, rating model.EloRating) error
	AppendComparison(ctx context.Context, rec model.ComparisonRecord) error
	Ratings(ctx context.Context) ([]model.EloRating, error)
	Comparisons(ctx context.Context, limit int) ([]model.ComparisonRecord, error)
}

// Tracker applies pairwise Elo updates through an injected store.
type Tracker struct {
	store      Store
	drawMargin float64

	mu sync.Mutex
}

func NewTracker(store Store) *Tracker {
	return &Tracker{
		store:      store,
		drawMargin: DefaultDrawMargin,
	}
}

// Expected is the standard Elo expected score of a against b.
func Expected(a, b float64) float64 {
	return 1 / (1 + math.Pow(10, (b-a)/400))
}

// RecordComparison applies a decisive pairwise result. The comparison record
// is appended before either rating mutates.
func (t *Tracker) RecordComparison(ctx context.Context, postID, winnerID, loserID string, winnerScore, loserScore float64, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.record(ctx, postID, winnerID, loserID, winnerScore, loserScore, false, reason)
}

// RecordDraw applies a drawn pairwise result.
func (t *Tracker) RecordDraw(ctx context.Context, postID, aID, bID string, aScore, bScore float64, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.record(ctx, postID, aID, bID, aScore, bScore, true, reason)
}

// CompareResults performs all pairwise comparisons among the valid results
// produced for one post, deciding each pair by composite score.
func (t *Tracker) CompareResults(ctx context.Context, postID string, results []*model.PipelineResult) error {
	valid := make([]*model.PipelineResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			valid = append(valid, r)
		}
	}
	if len(valid) < 2 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for i := 0; i < len(valid); i++ {
		for j := i + 1; j < len(valid); j++ {
			a, b := valid[i], valid[j]
			reason := fmt.Sprintf("composite %.4f vs %.4f", a.CompositeScore, b.CompositeScore)

			var err error
			switch {
			case math.Abs(a.CompositeScore-b.CompositeScore) < t.drawMargin:
				err = t.record(ctx, postID, a.VariantID, b.VariantID, a.CompositeScore, b.CompositeScore, true, reason)
			case a.CompositeScore > b.CompositeScore:
				err = t.record(ctx, postID, a.VariantID, b.VariantID, a.CompositeScore, b.CompositeScore, false, reason)
			default:
				err = t.record(ctx, postID, b.VariantID, a.VariantID, b.CompositeScore, a.CompositeScore, false, reason)
			}
			if err != nil {
				return fmt.Errorf("failed to record comparison for post %s: %w", postID, err)
			}
		}
	}

	return nil
}

// record assumes t.mu is held. For draws, the winner/loser slots hold the two
// sides in arbitrary order.
func (t *Tracker) record(ctx context.Context, postID, winnerID, loserID string, winnerScore, loserScore float64, isDraw bool, reason string) error {
	winner, err := t.getOrInit(ctx, winnerID)
	if err != nil {
		return err
	}
	loser, err := t.getOrInit(ctx, loserID)
	if err != nil {
		return err
	}

	rec := model.ComparisonRecord{
		ID:          uuid.NewString(),
		Timestamp:   time.Now(),
		PostID:      postID,
		IsDraw:      isDraw,
		WinnerScore: winnerScore,
		LoserScore:  loserScore,
		Reason:      reason,
	}
	if !isDraw {
		rec.WinnerID = winnerID
		rec.LoserID = loserID
	}

	// Audit trail first: the log and the rating state must not diverge.
	if err := t.store.AppendComparison(ctx, rec); err != nil {
		return fmt.Errorf("failed to append comparison record: %w", err)
	}

	expectedWinner := Expected(winner.Rating, loser.Rating)
	expectedLoser := Expected(loser.Rating, winner.Rating)

	actualWinner, actualLoser := 1.0, 0.0
	if isDraw {
		actualWinner, actualLoser = 0.5, 0.5
	}

	winner.Rating += K * (actualWinner - expectedWinner)
	loser.Rating += K * (actualLoser - expectedLoser)

	now := time.Now()
	winner.LastUpdated = now
	loser.LastUpdated = now
	winner.TotalComparisons++
	loser.TotalComparisons++
	if isDraw {
		winner.Draws++
		loser.Draws++
	} else {
		winner.Wins++
		loser.Losses++
	}

	if err := t.store.PutRating(ctx, winner); err != nil {
		return fmt.Errorf("failed to store rating for %s: %w", winner.VariantID, err)
	}
	if err := t.store.PutRating(ctx, loser); err != nil {
		return fmt.Errorf("failed to store rating for %s: %w", loser.VariantID, err)
	}

	result := "decisive"
	if isDraw {
		result = "draw"
	}
	metrics.EloUpdates.WithLabelValues(result).Inc()

	logger.Debug("Comparison recorded",
		zap.String("post_id", postID),
		zap.String("winner_id", winnerID),
		zap.String("loser_id", loserID),
		zap.Bool("draw", isDraw),
		zap.Float64("winner_rating", winner.Rating),
		zap.Float64("loser_rating", loser.Rating),
	)

	return nil
}

func (t *Tracker) getOrInit(ctx context.Context, variantID string) (model.EloRating, error) {
	rating, ok, err := t.store.GetRating(ctx, variantID)
	if err != nil {
		return model.EloRating{}, fmt.Errorf("failed to load rating for %s: %w", variantID, err)
	}
	if !ok {
		rating = model.EloRating{
			VariantID: variantID,
			Rating:    BaseRating,
		}
	}
	return rating, nil
}
