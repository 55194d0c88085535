package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/model"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/pkg/logger"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/pkg/retry"
)

const defaultBatchLimit = 20

// FeedClient pulls candidate posts from the platform's eligible-posts feed,
// newest first. It implements orchestrator.PostSource; the exclusion set is
// applied client-side after the fetch.
type FeedClient struct {
	baseURL     string
	bearerToken string
	httpClient  *http.Client
	retryConfig retry.Config
}

func NewFeedClient(baseURL, bearerToken string) *FeedClient {
	return &FeedClient{
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

type feedPost struct {
	ID        string   `json:"id"`
	AuthorID  string   `json:"author_id"`
	CreatedAt string   `json:"created_at"`
	Text      string   `json:"text"`
	MediaURLs []string `json:"media_urls"`
	StatusURL string   `json:"status_url"`
}

type feedResponse struct {
	Posts []feedPost `json:"posts"`
}

// FetchCandidates returns up to limit posts not present in excludeIDs. The
// feed is over-fetched so exclusions do not starve the batch.
func (c *FeedClient) FetchCandidates(ctx context.Context, limit int, excludeIDs map[string]struct{}) ([]model.Post, error) {
	if limit <= 0 {
		limit = defaultBatchLimit
	}

	params := url.Values{}
	params.Add("limit", fmt.Sprintf("%d", limit+len(excludeIDs)))

	var feed feedResponse
	err := retry.Do(ctx, c.retryConfig, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s/posts/eligible?%s", c.baseURL, params.Encode()), nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to fetch feed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("feed returned status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read feed response: %w", err)
		}

		if err := json.Unmarshal(body, &feed); err != nil {
			return fmt.Errorf("failed to parse feed response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	posts := make([]model.Post, 0, limit)
	for _, fp := range feed.Posts {
		if len(posts) >= limit {
			break
		}
		if _, skip := excludeIDs[fp.ID]; skip {
			continue
		}

		createdAt, err := time.Parse(time.RFC3339, fp.CreatedAt)
		if err != nil {
			logger.Warn("Unparseable post timestamp",
				zap.String("post_id", fp.ID),
				zap.String("created_at", fp.CreatedAt),
			)
		}

		posts = append(posts, model.Post{
			ID:        fp.ID,
			AuthorID:  fp.AuthorID,
			CreatedAt: createdAt,
			Text:      fp.Text,
			Media:     fp.MediaURLs,
			StatusURL: fp.StatusURL,
		})
	}

	logger.Info("Candidate posts fetched",
		zap.Int("fetched", len(feed.Posts)),
		zap.Int("after_dedup", len(posts)),
	)

	return posts, nil
}
