package lease

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "reports:lease:"

// releaseScript deletes the lease only while it still carries our token, so
// an expired lease re-acquired by another worker is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis stores leases as expiring keys shared by every worker process.
type Redis struct {
	client redis.UniversalClient
}

// NewRedisClient parses url and returns a connected client.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewRedis wraps a go-redis client.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// Acquire claims requestID with SET NX PX.
func (r *Redis) Acquire(ctx context.Context, requestID string, ttl time.Duration) (func(), bool, error) {
	key := keyPrefix + requestID
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return func() {}, false, fmt.Errorf("acquire lease %s: %w", requestID, err)
	}
	if !ok {
		return func() {}, false, nil
	}
	var once sync.Once
	release := func() {
		once.Do(func() {
			// Release must outlive a cancelled job context.
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, r.client, []string{key}, token).Err()
		})
	}
	return release, true, nil
}
