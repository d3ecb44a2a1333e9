package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces limiter keys in Redis.
const DefaultRedisPrefix = "keyweave:ratelimit:"

// Each key's log is a sorted set scored by Redis server time in
// milliseconds. The server clock is shared by every replica, which keeps
// the window consistent across gateway instances.
var reserveScript = redis.NewScript(`
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
local window = tonumber(ARGV[1])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local count = redis.call('ZCARD', KEYS[1])
if count >= tonumber(ARGV[2]) then
  return {0, count}
end
redis.call('ZADD', KEYS[1], now, ARGV[3])
redis.call('PEXPIRE', KEYS[1], window)
return {1, count + 1}
`)

var countScript = redis.NewScript(`
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - tonumber(ARGV[1]))
return redis.call('ZCARD', KEYS[1])
`)

// RedisOptions configures a RedisLimiter.
type RedisOptions struct {
	Window  time.Duration
	Prefix  string
	Timeout time.Duration // per command; zero means the caller's context only
}

// RedisLimiter is a sliding-log limiter shared by every gateway replica
// pointing at the same Redis. Any Redis error refuses the reservation.
type RedisLimiter struct {
	client  redis.UniversalClient
	window  time.Duration
	prefix  string
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	limits map[string]int
}

// DialRedis creates a client for addr and wraps it in a RedisLimiter.
func DialRedis(addr, password string, db int, opts RedisOptions) *RedisLimiter {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{addr},
		Password: password,
		DB:       db,
	})
	return NewRedisLimiter(client, opts)
}

// NewRedisLimiter creates a limiter over an existing client.
func NewRedisLimiter(client redis.UniversalClient, opts RedisOptions) *RedisLimiter {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultRedisPrefix
	}
	return &RedisLimiter{
		client:  client,
		window:  opts.Window,
		prefix:  opts.Prefix,
		timeout: opts.Timeout,
		logger:  slog.Default().With("component", "ratelimit.redis"),
		limits:  make(map[string]int),
	}
}

// TryReserve implements Backend.
func (r *RedisLimiter) TryReserve(ctx context.Context, keyID string) (Reservation, bool, error) {
	limit, ok := r.limit(keyID)
	if !ok || limit <= 0 {
		return Reservation{}, false, nil
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	member := uuid.NewString()
	res, err := reserveScript.Run(ctx, r.client,
		[]string{r.redisKey(keyID)},
		r.window.Milliseconds(), limit, member,
	).Int64Slice()
	if err != nil {
		r.logger.Warn("rate limit reservation failed", "key_id", keyID, "error", err)
		return Reservation{}, false, fmt.Errorf("ratelimit: reserve %s: %w", keyID, err)
	}
	if len(res) == 0 || res[0] != 1 {
		return Reservation{}, false, nil
	}
	return Reservation{KeyID: keyID, At: time.Now(), ID: member}, true, nil
}

// Remaining implements Backend.
func (r *RedisLimiter) Remaining(ctx context.Context, keyID string) (int, error) {
	limit, ok := r.limit(keyID)
	if !ok {
		return 0, nil
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	used, err := countScript.Run(ctx, r.client,
		[]string{r.redisKey(keyID)},
		r.window.Milliseconds(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("ratelimit: remaining %s: %w", keyID, err)
	}
	return max(limit-used, 0), nil
}

// Release implements Backend by removing the reservation's own member.
// An expired member no longer counts toward the window, so removing it
// frees nothing.
func (r *RedisLimiter) Release(ctx context.Context, res Reservation) error {
	if _, ok := r.limit(res.KeyID); !ok {
		return ErrUnknownKey
	}
	if res.ID == "" {
		return nil
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.client.ZRem(ctx, r.redisKey(res.KeyID), res.ID).Err(); err != nil {
		return fmt.Errorf("ratelimit: release %s: %w", res.KeyID, err)
	}
	return nil
}

// Configure implements Backend. Logs of removed keys expire on their own.
func (r *RedisLimiter) Configure(limits map[string]int) {
	next := make(map[string]int, len(limits))
	for id, limit := range limits {
		next[id] = max(limit, 0)
	}

	r.mu.Lock()
	r.limits = next
	r.mu.Unlock()
}

// Reset implements Backend.
func (r *RedisLimiter) Reset(ctx context.Context) error {
	r.mu.RLock()
	keys := make([]string, 0, len(r.limits))
	for id := range r.limits {
		keys = append(keys, r.redisKey(id))
	}
	r.mu.RUnlock()

	if len(keys) == 0 {
		return nil
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("ratelimit: reset: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (r *RedisLimiter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *RedisLimiter) Close() error {
	return r.client.Close()
}

func (r *RedisLimiter) redisKey(keyID string) string {
	return r.prefix + keyID
}

func (r *RedisLimiter) limit(keyID string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	limit, ok := r.limits[keyID]
	return limit, ok
}

func (r *RedisLimiter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}
