package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/model"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/pkg/logger"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/pkg/retry"
)

// Client submits finished corrections to the platform's notes endpoint. It
// implements orchestrator.NotePublisher.
type Client struct {
	baseURL     string
	bearerToken string
	httpClient  *http.Client
	retryConfig retry.Config
}

func NewClient(baseURL, bearerToken string) *Client {
	return &Client{
		baseURL:     baseURL,
		bearerToken: bearerToken,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		retryConfig: retry.Config{
			MaxAttempts:    3,
			InitialDelay:   time.Second,
			MaxDelay:       10 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
			Logger:         logger.GetLogger(),
		},
	}
}

type submitPayload struct {
	PostID    string `json:"post_id"`
	NoteText  string `json:"note_text"`
	SourceURL string `json:"source_url,omitempty"`
}

func (c *Client) Submit(ctx context.Context, postID string, note model.ParsedNote) error {
	body, err := json.Marshal(submitPayload{
		PostID:    postID,
		NoteText:  note.Text,
		SourceURL: note.SourceURL,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal note payload: %w", err)
	}

	err = retry.Do(ctx, c.retryConfig, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/notes", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to submit note: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("note submission returned status %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info("Note submitted",
		zap.String("post_id", postID),
		zap.String("source_url", note.SourceURL),
	)

	return nil
}
