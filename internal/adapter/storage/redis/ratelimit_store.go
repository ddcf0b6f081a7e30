package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "escrow:ratelimit:"

// countInWindow increments the window counter and arms its expiry on the
// first hit only, so a steady stream of requests cannot keep a window alive.
var countInWindow = goredis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// RateLimitStore keeps fixed-window request counters in Redis. Windows are
// aligned to the Unix epoch so every escrowd replica shares them.
type RateLimitStore struct {
	client *goredis.Client
	now    func() time.Time
}

// NewRateLimitStore creates a new Redis-backed rate limit store.
func NewRateLimitStore(client *goredis.Client) *RateLimitStore {
	return &RateLimitStore{client: client, now: time.Now}
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   int64 // Unix seconds at which the window rolls over
}

// Allow counts one request against key in the current window.
func (s *RateLimitStore) Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("rate limit for %q must be positive, got %d", key, limit)
	}
	secs := max(int64(window/time.Second), 1)
	windowID := s.now().Unix() / secs
	redisKey := rateLimitPrefix + key + ":" + strconv.FormatInt(windowID, 10)

	ttl := time.Duration(secs)*time.Second + time.Second
	count, err := countInWindow.Run(ctx, s.client, []string{redisKey}, ttl.Milliseconds()).Int64()
	if err != nil {
		return nil, fmt.Errorf("redis rate limit count: %w", err)
	}

	return &RateLimitResult{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: max(limit-count, 0),
		ResetAt:   (windowID + 1) * secs,
	}, nil
}
