package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/retrykit/internal/core/domain"
)

// FailedItemRepo keeps permanently failed bulk items per operation, ordered by
// failure time.
type FailedItemRepo struct {
	client *Client
}

// NewFailedItemRepo creates a new Redis-backed failed item repository.
func NewFailedItemRepo(client *Client) *FailedItemRepo {
	return &FailedItemRepo{client: client}
}

// Add stores a failed item, replacing an earlier failure with the same ID.
func (r *FailedItemRepo) Add(ctx context.Context, fi *domain.FailedItem) error {
	data, err := json.Marshal(fi)
	if err != nil {
		return fmt.Errorf("failed to marshal failed item: %w", err)
	}

	c := r.client
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.failedItemKey(fi.Operation, fi.ID), data, c.ttl)
		pipe.ZAdd(ctx, c.failedQueueKey(fi.Operation), redis.Z{
			Score:  float64(fi.FailedAt.Unix()),
			Member: fi.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add failed item %s: %w", fi.ID, err)
	}
	return nil
}

// List returns the failed items of an operation, oldest first. Entries whose
// data expired are dropped from the queue.
func (r *FailedItemRepo) List(ctx context.Context, operation string) ([]*domain.FailedItem, error) {
	c := r.client
	ids, err := c.rdb.ZRange(ctx, c.failedQueueKey(operation), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}

	items := make([]*domain.FailedItem, 0, len(ids))
	for _, id := range ids {
		data, err := c.rdb.Get(ctx, c.failedItemKey(operation, id)).Bytes()
		if errors.Is(err, redis.Nil) {
			c.rdb.ZRem(ctx, c.failedQueueKey(operation), id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get failed item: %w", err)
		}

		var fi domain.FailedItem
		if err := json.Unmarshal(data, &fi); err != nil {
			continue
		}
		items = append(items, &fi)
	}
	return items, nil
}

// Resolve removes a failed item.
func (r *FailedItemRepo) Resolve(ctx context.Context, operation, id string) error {
	c := r.client
	if err := c.rdb.ZRem(ctx, c.failedQueueKey(operation), id).Err(); err != nil {
		return fmt.Errorf("failed to remove from queue: %w", err)
	}
	if err := c.rdb.Del(ctx, c.failedItemKey(operation, id)).Err(); err != nil {
		return fmt.Errorf("failed to delete failed item: %w", err)
	}
	return nil
}

// Count returns the number of failed items of an operation.
func (r *FailedItemRepo) Count(ctx context.Context, operation string) (int, error) {
	c := r.client
	count, err := c.rdb.ZCard(ctx, c.failedQueueKey(operation)).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(count), nil
}
