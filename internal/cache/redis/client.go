package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/metrics"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/pipeline"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/pkg/logger"
)

// Client caches evidence-search results so a rerun of the same post within
// the queue window does not re-pay the search cost.
type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

// Raw exposes the underlying connection so other redis-backed components can
// share it.
func (c *Client) Raw() *redis.Client {
	return c.client
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) SetEvidence(ctx context.Context, queryHash string, evidence []pipeline.Evidence, ttl time.Duration) error {
	data, err := json.Marshal(evidence)
	if err != nil {
		return fmt.Errorf("failed to marshal evidence: %w", err)
	}

	err = c.client.Set(ctx, evidenceKey(queryHash), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set evidence cache: %w", err)
	}

	logger.Debug("Evidence cached", zap.String("query_hash", queryHash), zap.Duration("ttl", ttl))
	return nil
}

func (c *Client) GetEvidence(ctx context.Context, queryHash string) ([]pipeline.Evidence, bool, error) {
	data, err := c.client.Get(ctx, evidenceKey(queryHash)).Bytes()
	if err == redis.Nil {
		metrics.CacheMisses.WithLabelValues("evidence").Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get evidence cache: %w", err)
	}

	var evidence []pipeline.Evidence
	if err := json.Unmarshal(data, &evidence); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal evidence: %w", err)
	}

	metrics.CacheHits.WithLabelValues("evidence").Inc()
	logger.Debug("Evidence cache hit", zap.String("query_hash", queryHash))
	return evidence, true, nil
}

func evidenceKey(queryHash string) string {
	return fmt.Sprintf("evidence:%s", queryHash)
}
