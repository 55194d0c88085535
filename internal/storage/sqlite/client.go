package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/model"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/pkg/logger"
)

// Client is the durable store: Elo ratings, the append-only comparison log,
// and terminal pipeline results (which double as the processed-post dedup
// index). It implements elo.Store and orchestrator.ResultSink.
type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS elo_ratings (
		variant_id TEXT PRIMARY KEY,
		rating REAL NOT NULL,
		wins INTEGER NOT NULL DEFAULT 0,
		losses INTEGER NOT NULL DEFAULT 0,
		draws INTEGER NOT NULL DEFAULT 0,
		total_comparisons INTEGER NOT NULL DEFAULT 0,
		last_updated INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS comparisons (
		id TEXT PRIMARY KEY,
		post_id TEXT NOT NULL,
		winner_id TEXT,
		loser_id TEXT,
		is_draw INTEGER NOT NULL DEFAULT 0,
		winner_score REAL NOT NULL,
		loser_score REAL NOT NULL,
		reason TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_comparisons_post ON comparisons(post_id);
	CREATE INDEX IF NOT EXISTS idx_comparisons_created ON comparisons(created_at);

	CREATE TABLE IF NOT EXISTS pipeline_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		post_id TEXT NOT NULL,
		variant_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		failed_at_step TEXT,
		skip_reason TEXT,
		all_passed INTEGER NOT NULL DEFAULT 0,
		composite_score REAL NOT NULL,
		note_status TEXT,
		note_text TEXT,
		note_source_url TEXT,
		length_warning INTEGER NOT NULL DEFAULT 0,
		scores TEXT,
		steps TEXT,
		completed_at INTEGER NOT NULL,
		UNIQUE(post_id, variant_id)
	);
	CREATE INDEX IF NOT EXISTS idx_results_variant ON pipeline_results(variant_id);
	CREATE INDEX IF NOT EXISTS idx_results_completed ON pipeline_results(completed_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// Load implements elo.Store. SQLite reads row-by-row, so there is nothing to
// warm; it verifies the schema is reachable and reports the rating count.
func (c *Client) Load(ctx context.Context) error {
	var count int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM elo_ratings`).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to load ratings: %w", err)
	}

	logger.Info("Rating store loaded", zap.Int("variants", count))
	return nil
}

// Flush implements elo.Store: checkpoint the WAL so ratings survive an
// abrupt hard-deadline exit of the next batch.
func (c *Client) Flush(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		return fmt.Errorf("failed to flush rating store: %w", err)
	}
	return nil
}

func (c *Client) GetRating(ctx context.Context, variantID string) (model.EloRating, bool, error) {
	query := `
		SELECT variant_id, rating, wins, losses, draws, total_comparisons, last_updated
		FROM elo_ratings WHERE variant_id = ?
	`

	var r model.EloRating
	var lastUpdated int64

	err := c.db.QueryRowContext(ctx, query, variantID).Scan(
		&r.VariantID,
		&r.Rating,
		&r.Wins,
		&r.Losses,
		&r.Draws,
		&r.TotalComparisons,
		&lastUpdated,
	)
	if err == sql.ErrNoRows {
		return model.EloRating{}, false, nil
	}
	if err != nil {
		return model.EloRating{}, false, fmt.Errorf("failed to get rating: %w", err)
	}

	r.LastUpdated = time.Unix(lastUpdated, 0)
	return r, true, nil
}

func (c *Client) PutRating(ctx context.Context, rating model.EloRating) error {
	query := `
		INSERT INTO elo_ratings (variant_id, rating, wins, losses, draws, total_comparisons, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(variant_id) DO UPDATE SET
			rating = excluded.rating,
			wins = excluded.wins,
			losses = excluded.losses,
			draws = excluded.draws,
			total_comparisons = excluded.total_comparisons,
			last_updated = excluded.last_updated
	`

	_, err := c.db.ExecContext(
		ctx,
		query,
		rating.VariantID,
		rating.Rating,
		rating.Wins,
		rating.Losses,
		rating.Draws,
		rating.TotalComparisons,
		rating.LastUpdated.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to put rating: %w", err)
	}

	return nil
}

func (c *Client) AppendComparison(ctx context.Context, rec model.ComparisonRecord) error {
	query := `
		INSERT INTO comparisons (id, post_id, winner_id, loser_id, is_draw, winner_score, loser_score, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	isDraw := 0
	if rec.IsDraw {
		isDraw = 1
	}

	_, err := c.db.ExecContext(
		ctx,
		query,
		rec.ID,
		rec.PostID,
		rec.WinnerID,
		rec.LoserID,
		isDraw,
		rec.WinnerScore,
		rec.LoserScore,
		rec.Reason,
		rec.Timestamp.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to append comparison: %w", err)
	}

	return nil
}

func (c *Client) Ratings(ctx context.Context) ([]model.EloRating, error) {
	query := `
		SELECT variant_id, rating, wins, losses, draws, total_comparisons, last_updated
		FROM elo_ratings ORDER BY rating DESC
	`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get ratings: %w", err)
	}
	defer rows.Close()

	var ratings []model.EloRating
	for rows.Next() {
		var r model.EloRating
		var lastUpdated int64

		err := rows.Scan(&r.VariantID, &r.Rating, &r.Wins, &r.Losses, &r.Draws, &r.TotalComparisons, &lastUpdated)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.LastUpdated = time.Unix(lastUpdated, 0)
		ratings = append(ratings, r)
	}

	return ratings, rows.Err()
}

func (c *Client) Comparisons(ctx context.Context, limit int) ([]model.ComparisonRecord, error) {
	query := `
		SELECT id, post_id, winner_id, loser_id, is_draw, winner_score, loser_score, reason, created_at
		FROM comparisons ORDER BY created_at DESC
	`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get comparisons: %w", err)
	}
	defer rows.Close()

	var records []model.ComparisonRecord
	for rows.Next() {
		var rec model.ComparisonRecord
		var isDraw int
		var createdAt int64

		err := rows.Scan(&rec.ID, &rec.PostID, &rec.WinnerID, &rec.LoserID, &isDraw, &rec.WinnerScore, &rec.LoserScore, &rec.Reason, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rec.IsDraw = isDraw == 1
		rec.Timestamp = time.Unix(createdAt, 0)
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Append implements orchestrator.ResultSink. A rerun of the same (post,
// variant) pair overwrites the previous terminal record.
func (c *Client) Append(ctx context.Context, res *model.PipelineResult) error {
	scoresJSON, err := json.Marshal(res.Scores)
	if err != nil {
		return fmt.Errorf("failed to marshal scores: %w", err)
	}
	stepsJSON, err := json.Marshal(res.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	var noteStatus, noteText, noteSourceURL string
	if res.Note != nil {
		noteStatus = res.Note.Status
		noteText = res.Note.Text
		noteSourceURL = res.Note.SourceURL
	}

	allPassed := 0
	if res.AllPassed {
		allPassed = 1
	}
	lengthWarning := 0
	if res.LengthWarning {
		lengthWarning = 1
	}

	completedAt := res.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}

	query := `
		INSERT INTO pipeline_results (post_id, variant_id, outcome, failed_at_step, skip_reason,
			all_passed, composite_score, note_status, note_text, note_source_url,
			length_warning, scores, steps, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(post_id, variant_id) DO UPDATE SET
			outcome = excluded.outcome,
			failed_at_step = excluded.failed_at_step,
			skip_reason = excluded.skip_reason,
			all_passed = excluded.all_passed,
			composite_score = excluded.composite_score,
			note_status = excluded.note_status,
			note_text = excluded.note_text,
			note_source_url = excluded.note_source_url,
			length_warning = excluded.length_warning,
			scores = excluded.scores,
			steps = excluded.steps,
			completed_at = excluded.completed_at
	`

	_, err = c.db.ExecContext(
		ctx,
		query,
		res.Post.ID,
		res.VariantID,
		string(res.Outcome),
		res.FailedAtStep,
		res.SkipReason,
		allPassed,
		res.CompositeScore,
		noteStatus,
		noteText,
		noteSourceURL,
		lengthWarning,
		string(scoresJSON),
		string(stepsJSON),
		completedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert pipeline result: %w", err)
	}

	logger.Debug("Pipeline result stored",
		zap.String("post_id", res.Post.ID),
		zap.String("variant_id", res.VariantID),
		zap.String("outcome", string(res.Outcome)),
	)

	return nil
}

// ExistingIDsForVariant implements orchestrator.ResultSink: every post id the
// given variant has already produced a terminal result for.
func (c *Client) ExistingIDsForVariant(ctx context.Context, variantID string) (map[string]struct{}, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT post_id FROM pipeline_results WHERE variant_id = ?`, variantID)
	if err != nil {
		return nil, fmt.Errorf("failed to get processed post ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		ids[id] = struct{}{}
	}

	return ids, rows.Err()
}

// RecentResults returns the newest terminal results across variants for the
// admin API.
func (c *Client) RecentResults(ctx context.Context, limit int) ([]model.PipelineResult, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT post_id, variant_id, outcome, failed_at_step, skip_reason, all_passed,
			composite_score, note_status, note_text, note_source_url, length_warning,
			scores, completed_at
		FROM pipeline_results ORDER BY completed_at DESC LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent results: %w", err)
	}
	defer rows.Close()

	var results []model.PipelineResult
	for rows.Next() {
		var res model.PipelineResult
		var noteStatus, noteText, noteSourceURL, scoresJSON string
		var allPassed, lengthWarning int
		var completedAt int64

		err := rows.Scan(
			&res.Post.ID,
			&res.VariantID,
			&res.Outcome,
			&res.FailedAtStep,
			&res.SkipReason,
			&allPassed,
			&res.CompositeScore,
			&noteStatus,
			&noteText,
			&noteSourceURL,
			&lengthWarning,
			&scoresJSON,
			&completedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		res.AllPassed = allPassed == 1
		res.LengthWarning = lengthWarning == 1
		res.CompletedAt = time.Unix(completedAt, 0)
		if noteStatus != "" || noteText != "" {
			res.Note = &model.ParsedNote{Status: noteStatus, Text: noteText, SourceURL: noteSourceURL}
		}
		if scoresJSON != "" {
			if err := json.Unmarshal([]byte(scoresJSON), &res.Scores); err != nil {
				return nil, fmt.Errorf("failed to unmarshal scores: %w", err)
			}
		}

		results = append(results, res)
	}

	return results, rows.Err()
}
