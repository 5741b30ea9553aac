package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/clientflow/internal/config"
	"golang.org/x/time/rate"
)

const keyPublicClient = "public:client:%s"

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter throttles public requests per client key, typically the IP.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// NewPublicLimiter shares buckets through redis when a client is available
// and keeps them in process otherwise.
func NewPublicLimiter(cfg config.Config, client *redis.Client) Limiter {
	limit, burst := cfg.Public.RateLimit, cfg.Public.RateBurst
	if limit <= 0 {
		limit = 1
	}
	if burst <= 0 {
		burst = 5
	}
	if client != nil {
		return NewTokenBucket(client, limit, burst)
	}
	return NewLocalLimiter(limit, burst)
}

type localEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalLimiter keeps one x/time/rate limiter per key.
type LocalLimiter struct {
	mu      sync.Mutex
	entries map[string]*localEntry
	limit   rate.Limit
	burst   int
	idle    time.Duration
	now     func() time.Time
}

func NewLocalLimiter(perSecond float64, burst int) *LocalLimiter {
	return &LocalLimiter{
		entries: make(map[string]*localEntry),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idle:    10 * time.Minute,
		now:     time.Now,
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)
	entry, ok := l.entries[key]
	if !ok {
		entry = &localEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = entry
	}
	entry.lastSeen = now

	res := entry.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: delay}, nil
	}
	return Decision{Allowed: true}, nil
}

func (l *LocalLimiter) sweep(now time.Time) {
	for key, entry := range l.entries {
		if now.Sub(entry.lastSeen) > l.idle {
			delete(l.entries, key)
		}
	}
}

// Tokens are scaled by 1000 because redis truncates Lua numbers to integers.
const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local nowData = redis.call("TIME")
local now = (nowData[1] * 1000) + math.floor(nowData[2] / 1000)

local data = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if tokens == nil then
  tokens = burst
else
  local delta = now - ts
  if delta < 0 then
    delta = 0
  end
  tokens = math.min(burst, tokens + (delta / 1000) * rate)
end

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, math.floor(tokens * 1000)}
`

// TokenBucket is a redis-backed bucket shared by every replica.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
	rate   float64
	burst  int
}

func NewTokenBucket(client *redis.Client, perSecond float64, burst int) *TokenBucket {
	return &TokenBucket{
		client: client,
		script: redis.NewScript(tokenBucketScript),
		rate:   perSecond,
		burst:  burst,
	}
}

func (t *TokenBucket) Allow(ctx context.Context, key string) (Decision, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Decision{}, errors.New("rate limiter key is empty")
	}
	ttl := bucketTTL(t.rate, t.burst)
	res, err := t.script.Run(ctx, t.client,
		[]string{fmt.Sprintf(keyPublicClient, key)},
		t.rate, t.burst, ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(res) < 2 {
		return Decision{}, errors.New("invalid rate limit script response")
	}
	if res[0] == 1 {
		return Decision{Allowed: true}, nil
	}
	needed := 1 - float64(res[1])/1000
	return Decision{
		Allowed:    false,
		RetryAfter: time.Duration(needed / t.rate * float64(time.Second)),
	}, nil
}

func bucketTTL(perSecond float64, burst int) time.Duration {
	seconds := math.Ceil(float64(burst) / perSecond * 2)
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}
