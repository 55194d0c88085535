package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/elo"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/model"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/pkg/logger"
)

// BatchTrigger starts a batch run if one is not already in flight. Returns
// false when a batch is running.
type BatchTrigger func() bool

// AdminHandler serves the operational endpoints: health, the rating
// leaderboard, the comparison audit log, recent runs, and batch triggering.
type AdminHandler struct {
	store   elo.Store
	results *resultsAccessor
	trigger BatchTrigger
}

type resultsAccessor struct {
	recent func(limit int) ([]model.PipelineResult, error)
}

func NewAdminHandler(store elo.Store, recent func(limit int) ([]model.PipelineResult, error), trigger BatchTrigger) *AdminHandler {
	return &AdminHandler{
		store:   store,
		results: &resultsAccessor{recent: recent},
		trigger: trigger,
	}
}

func (h *AdminHandler) HandleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
	})
}

func (h *AdminHandler) HandleRatings(c *fiber.Ctx) error {
	ratings, err := h.store.Ratings(c.Context())
	if err != nil {
		logger.Error("Failed to read ratings", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read ratings",
		})
	}

	leaderboard := make([]fiber.Map, 0, len(ratings))
	for _, r := range ratings {
		leaderboard = append(leaderboard, fiber.Map{
			"variant_id":        r.VariantID,
			"rating":            r.Rating,
			"wins":              r.Wins,
			"losses":            r.Losses,
			"draws":             r.Draws,
			"total_comparisons": r.TotalComparisons,
			"last_updated":      r.LastUpdated,
		})
	}

	return c.JSON(fiber.Map{
		"ratings": leaderboard,
	})
}

func (h *AdminHandler) HandleComparisons(c *fiber.Ctx) error {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a non-negative integer",
			})
		}
		limit = parsed
	}

	comparisons, err := h.store.Comparisons(c.Context(), limit)
	if err != nil {
		logger.Error("Failed to read comparisons", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read comparisons",
		})
	}

	out := make([]fiber.Map, 0, len(comparisons))
	for _, rec := range comparisons {
		out = append(out, fiber.Map{
			"id":           rec.ID,
			"post_id":      rec.PostID,
			"winner_id":    rec.WinnerID,
			"loser_id":     rec.LoserID,
			"is_draw":      rec.IsDraw,
			"winner_score": rec.WinnerScore,
			"loser_score":  rec.LoserScore,
			"reason":       rec.Reason,
			"timestamp":    rec.Timestamp,
		})
	}

	return c.JSON(fiber.Map{
		"comparisons": out,
	})
}

func (h *AdminHandler) HandleRecentRuns(c *fiber.Ctx) error {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a positive integer",
			})
		}
		limit = parsed
	}

	results, err := h.results.recent(limit)
	if err != nil {
		logger.Error("Failed to read recent results", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read recent results",
		})
	}

	out := make([]fiber.Map, 0, len(results))
	for _, res := range results {
		entry := fiber.Map{
			"post_id":         res.Post.ID,
			"variant_id":      res.VariantID,
			"outcome":         res.Outcome,
			"all_passed":      res.AllPassed,
			"composite_score": res.CompositeScore,
			"failed_at_step":  res.FailedAtStep,
			"completed_at":    res.CompletedAt,
		}
		if res.Note != nil {
			entry["note_status"] = res.Note.Status
			entry["note_text"] = res.Note.Text
		}
		out = append(out, entry)
	}

	return c.JSON(fiber.Map{
		"runs": out,
	})
}

func (h *AdminHandler) HandleTriggerRun(c *fiber.Ctx) error {
	if h.trigger == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Batch triggering is not enabled",
		})
	}

	if !h.trigger() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "A batch is already running",
		})
	}

	logger.Info("Batch triggered via admin API")
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": "batch started",
	})
}
