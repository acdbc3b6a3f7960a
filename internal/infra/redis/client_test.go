package redis

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestNewClient_Defaults(t *testing.T) {
	c := newClient(redis.NewClient(&redis.Options{Addr: "localhost:0"}), Config{})
	defer c.Close()

	assert.Equal(t, defaultKeyPrefix, c.prefix)
	assert.Equal(t, defaultTTL, c.ttl)
}

func TestClient_Keys(t *testing.T) {
	c := newClient(redis.NewClient(&redis.Options{Addr: "localhost:0"}), Config{KeyPrefix: "svc", TTL: time.Minute})
	defer c.Close()

	assert.Equal(t, "svc:activity:job-1", c.activityKey("job-1"))
	assert.Equal(t, "svc:activity", c.activityIndexKey())
	assert.Equal(t, "svc:failed:import", c.failedQueueKey("import"))
	assert.Equal(t, "svc:failed_item:import:users/1", c.failedItemKey("import", "users/1"))
	assert.Equal(t, time.Minute, c.ttl)
}
