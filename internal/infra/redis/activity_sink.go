package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/retrykit/internal/activity"
)

// ActivitySink stores the latest activity update per key as a hash and indexes
// keys by update time.
type ActivitySink struct {
	client *Client
}

var _ activity.Sink = (*ActivitySink)(nil)

// NewActivitySink creates a sink writing through client.
func NewActivitySink(client *Client) *ActivitySink {
	return &ActivitySink{client: client}
}

// Record writes u in one transaction.
func (s *ActivitySink) Record(ctx context.Context, u activity.Update) error {
	c := s.client
	key := c.activityKey(u.Key)

	fields := make(map[string]any, len(u.Fields)+2)
	for k, v := range u.Fields {
		fields[k] = fmt.Sprint(v)
	}
	fields["touches"] = strconv.Itoa(u.Touches)
	fields["updated_at"] = strconv.FormatInt(u.UpdatedAt.Unix(), 10)

	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, c.ttl)
		pipe.ZAdd(ctx, c.activityIndexKey(), redis.Z{
			Score:  float64(u.UpdatedAt.Unix()),
			Member: u.Key,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record activity %s: %w", u.Key, err)
	}
	return nil
}

// Get returns the stored fields for key, or nil when nothing was recorded.
func (s *ActivitySink) Get(ctx context.Context, key string) (map[string]string, error) {
	fields, err := s.client.rdb.HGetAll(ctx, s.client.activityKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall failed: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}
