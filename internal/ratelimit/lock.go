package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/clientflow/internal/config"
)

const (
	keyBookingSlotLock = "booking:slot:%s"
	lockReleaseScript  = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`
)

var ErrLockNotConfigured = errors.New("lock client not configured")

// Locker is a best-effort redis mutex. A nil *Locker is valid and never
// locks.
type Locker struct {
	client *redis.Client
	script *redis.Script
	ttl    time.Duration
}

func NewLocker(client *redis.Client, cfg config.Config) *Locker {
	if client == nil {
		return nil
	}
	ttl := cfg.Public.SlotLockTTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		ttl:    ttl,
	}
}

func (l *Locker) Enabled() bool {
	return l != nil && l.client != nil
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if !l.Enabled() {
		return "", false, ErrLockNotConfigured
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Release deletes key only while it still holds token.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	if !l.Enabled() || key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}

// LockBookingSlots serialises public bookings for one tenant. When no redis
// is configured it succeeds with a no-op unlock.
func (l *Locker) LockBookingSlots(ctx context.Context, tenantID snowflake.ID) (unlock func(), ok bool, err error) {
	if !l.Enabled() {
		return func() {}, true, nil
	}
	key := fmt.Sprintf(keyBookingSlotLock, tenantID)
	token, ok, err := l.TryLock(ctx, key, l.ttl)
	if err != nil || !ok {
		return func() {}, ok, err
	}
	return func() {
		_ = l.Release(context.WithoutCancel(ctx), key, token)
	}, true, nil
}
