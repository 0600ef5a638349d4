package guards

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/toyz/waypoint/pkg/waypoint"
)

// LimitInfo is the state of a rate-limit key after one request.
type LimitInfo struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
	Allowed   bool
}

// Limiter counts requests per key.
type Limiter interface {
	Allow(ctx context.Context, key string) (*LimitInfo, error)
}

// KeyFunc derives the rate-limit key of a request.
type KeyFunc func(ctx waypoint.RequestContext) string

// ByIP keys requests by client address.
func ByIP(ctx waypoint.RequestContext) string {
	return "ip:" + ctx.RealIP()
}

// BySubject keys requests by JWT subject, falling back to the client address.
func BySubject(ctx waypoint.RequestContext) string {
	if claims, ok := ClaimsFrom(ctx); ok && claims.Subject != "" {
		return "sub:" + claims.Subject
	}
	return ByIP(ctx)
}

// RateLimitGuard rejects requests over the limiter's budget with 429.
type RateLimitGuard struct {
	limiter Limiter
	key     KeyFunc
}

// NewRateLimitGuard creates a rate-limit guard. A nil key defaults to ByIP.
func NewRateLimitGuard(limiter Limiter, key KeyFunc) *RateLimitGuard {
	if key == nil {
		key = ByIP
	}
	return &RateLimitGuard{limiter: limiter, key: key}
}

func (g *RateLimitGuard) Type() string { return "ratelimit" }

// Validate consumes one request and sets the X-RateLimit headers.
func (g *RateLimitGuard) Validate(ctx waypoint.RequestContext) (bool, error) {
	info, err := g.limiter.Allow(ctx.Context(), g.key(ctx))
	if err != nil {
		return false, fmt.Errorf("rate limit: %w", err)
	}

	res := ctx.Response()
	res.SetHeader("X-RateLimit-Limit", strconv.Itoa(info.Limit))
	res.SetHeader("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
	res.SetHeader("X-RateLimit-Reset", strconv.FormatInt(info.ResetAt.Unix(), 10))

	if !info.Allowed {
		retry := int(math.Ceil(time.Until(info.ResetAt).Seconds()))
		if retry < 1 {
			retry = 1
		}
		return false, waypoint.ErrTooManyRequests("rate limit exceeded").
			WithHeader("Retry-After", strconv.Itoa(retry))
	}
	return true, nil
}

// MemoryLimiter is an in-process token bucket: each key holds up to
// limit tokens, refilled evenly over window.
type MemoryLimiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	buckets   map[string]*bucket
	now       func() time.Time
	lastPrune time.Time
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewMemoryLimiter creates a token bucket limiter.
func NewMemoryLimiter(limit int, window time.Duration) (*MemoryLimiter, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be greater than 0")
	}
	if window <= 0 {
		return nil, errors.New("window must be greater than 0")
	}
	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}, nil
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (*LimitInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastPrune) > l.window {
		l.prune(now)
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.limit), lastRefill: now}
		l.buckets[key] = b
	}

	if elapsed := now.Sub(b.lastRefill); elapsed > 0 {
		b.tokens = math.Min(float64(l.limit), b.tokens+float64(l.limit)*elapsed.Seconds()/l.window.Seconds())
		b.lastRefill = now
	}

	info := &LimitInfo{Limit: l.limit}
	if b.tokens >= 1 {
		b.tokens--
		info.Allowed = true
	}
	info.Remaining = int(b.tokens)
	missing := float64(l.limit) - b.tokens
	info.ResetAt = now.Add(time.Duration(missing / float64(l.limit) * float64(l.window)))
	return info, nil
}

// Prune drops buckets idle for longer than window; they are full again.
// Allow also prunes once per window.
func (l *MemoryLimiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
}

func (l *MemoryLimiter) prune(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastRefill) > l.window {
			delete(l.buckets, key)
		}
	}
	l.lastPrune = now
}

// slidingWindow trims the key's sorted set to the window, then admits the
// request if the remaining count is under the limit. Scores are unix
// milliseconds; it returns {allowed, count, oldest score}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_start = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])
local member = ARGV[5]

redis.call('ZREMRANGEBYSCORE', key, 0, window_start)
local current = redis.call('ZCARD', key)
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local first = now
if oldest[2] then
	first = tonumber(oldest[2])
end

if current < limit then
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, ttl)
	return {1, current + 1, first}
end
return {0, current, first}
`)

// RedisLimiter is a sliding-window limiter shared across processes.
type RedisLimiter struct {
	client redis.Scripter
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
	seq    uint64
	mu     sync.Mutex
}

// NewRedisLimiter creates a sliding-window limiter storing keys under prefix.
func NewRedisLimiter(client redis.Scripter, limit int, window time.Duration, prefix string) (*RedisLimiter, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if limit <= 0 {
		return nil, errors.New("limit must be greater than 0")
	}
	if window <= 0 {
		return nil, errors.New("window must be greater than 0")
	}
	return &RedisLimiter{client: client, limit: limit, window: window, prefix: prefix, now: time.Now}, nil
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (*LimitInfo, error) {
	now := l.now()
	l.mu.Lock()
	l.seq++
	member := fmt.Sprintf("%d-%d", now.UnixMilli(), l.seq)
	l.mu.Unlock()

	result, err := slidingWindow.Run(ctx, l.client, []string{l.prefix + key},
		now.UnixMilli(),
		now.Add(-l.window).UnixMilli(),
		l.limit,
		l.window.Milliseconds(),
		member,
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis rate limit check failed: %w", err)
	}
	if len(result) != 3 {
		return nil, errors.New("unexpected redis script result")
	}

	allowed, count, first := result[0] == 1, int(result[1]), result[2]
	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return &LimitInfo{
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   time.UnixMilli(first).Add(l.window),
		Allowed:   allowed,
	}, nil
}
