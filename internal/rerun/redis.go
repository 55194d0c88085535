package rerun

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/model"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/pkg/logger"
)

const queueKey = "rerun:queue"

// RedisQueue is the production Queue: a sorted set scored by enqueue time,
// with entry payloads kept alongside for audit. Nothing is eagerly deleted;
// the window is applied at read time.
type RedisQueue struct {
	client *redis.Client
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Enqueue(ctx context.Context, entry model.RerunEntry) error {
	now := time.Now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.CreatedAt.After(now) {
		return ErrFutureTimestamp
	}

	err := q.client.ZAdd(ctx, queueKey, redis.Z{
		Score:  float64(entry.CreatedAt.Unix()),
		Member: entry.PostID,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue rerun entry: %w", err)
	}

	err = q.client.HSet(ctx, entryKey(entry.PostID),
		"status_url", entry.StatusURL,
		"reasoning", entry.Reasoning,
		"created_at", entry.CreatedAt.Unix(),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to store rerun entry payload: %w", err)
	}

	logger.Info("Post enqueued for rerun",
		zap.String("post_id", entry.PostID),
		zap.String("reasoning", entry.Reasoning),
	)
	return nil
}

func (q *RedisQueue) ActiveIDs(ctx context.Context, window time.Duration) (map[string]struct{}, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	cutoff := time.Now().Add(-window).Unix()

	members, err := q.client.ZRangeByScore(ctx, queueKey, &redis.ZRangeBy{
		Min: fmt.Sprintf("(%d", cutoff),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read rerun queue: %w", err)
	}

	ids := make(map[string]struct{}, len(members))
	for _, m := range members {
		ids[m] = struct{}{}
	}
	return ids, nil
}

func entryKey(postID string) string {
	return fmt.Sprintf("rerun:entry:%s", postID)
}
