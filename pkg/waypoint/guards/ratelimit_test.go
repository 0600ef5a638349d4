package guards

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toyz/waypoint/pkg/waypoint"
	"github.com/toyz/waypoint/pkg/waypoint/adapters"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestMemoryLimiter_Config(t *testing.T) {
	_, err := NewMemoryLimiter(0, time.Second)
	assert.EqualError(t, err, "limit must be greater than 0")
	_, err = NewMemoryLimiter(1, 0)
	assert.EqualError(t, err, "window must be greater than 0")
}

func TestMemoryLimiter_Allow(t *testing.T) {
	l, err := NewMemoryLimiter(3, time.Minute)
	require.NoError(t, err)
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	l.now = clk.Now
	ctx := context.Background()

	for want := 2; want >= 0; want-- {
		info, err := l.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, info.Allowed)
		assert.Equal(t, want, info.Remaining)
		assert.Equal(t, 3, info.Limit)
	}

	info, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, info.Allowed)
	assert.Equal(t, clk.now.Add(time.Minute), info.ResetAt)

	other, err := l.Allow(ctx, "other")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "keys are independent")

	clk.Advance(20 * time.Second)
	info, err = l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, info.Allowed, "one token refilled after a third of the window")
	assert.Equal(t, 0, info.Remaining)
}

func TestMemoryLimiter_Prune(t *testing.T) {
	l, err := NewMemoryLimiter(1, time.Second)
	require.NoError(t, err)
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	l.now = clk.Now

	_, err = l.Allow(context.Background(), "k")
	require.NoError(t, err)
	clk.Advance(2 * time.Second)
	l.Prune()
	assert.Empty(t, l.buckets)
}

func TestMemoryLimiter_AllowPrunesIdleKeys(t *testing.T) {
	l, err := NewMemoryLimiter(5, time.Second)
	require.NoError(t, err)
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	l.now = clk.Now
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		_, err := l.Allow(ctx, key)
		require.NoError(t, err)
	}
	require.Len(t, l.buckets, 3)

	clk.Advance(3 * time.Second)
	_, err = l.Allow(ctx, "d")
	require.NoError(t, err)
	assert.Len(t, l.buckets, 1)
	assert.Contains(t, l.buckets, "d")
}

func TestRedisLimiter_Config(t *testing.T) {
	_, client := setupTestRedis(t)

	_, err := NewRedisLimiter(nil, 1, time.Second, "rl:")
	assert.EqualError(t, err, "redis client is required")
	_, err = NewRedisLimiter(client, 0, time.Second, "rl:")
	assert.EqualError(t, err, "limit must be greater than 0")
	_, err = NewRedisLimiter(client, 1, 0, "rl:")
	assert.EqualError(t, err, "window must be greater than 0")
}

func TestRedisLimiter_SlidingWindow(t *testing.T) {
	mr, client := setupTestRedis(t)
	l, err := NewRedisLimiter(client, 2, time.Minute, "rl:")
	require.NoError(t, err)
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	l.now = clk.Now
	ctx := context.Background()

	info, err := l.Allow(ctx, "ip:1")
	require.NoError(t, err)
	assert.True(t, info.Allowed)
	assert.Equal(t, 1, info.Remaining)

	clk.Advance(10 * time.Second)
	info, err = l.Allow(ctx, "ip:1")
	require.NoError(t, err)
	assert.True(t, info.Allowed)
	assert.Equal(t, 0, info.Remaining)

	info, err = l.Allow(ctx, "ip:1")
	require.NoError(t, err)
	assert.False(t, info.Allowed)
	assert.Equal(t, time.Unix(1_700_000_000, 0).Add(time.Minute), info.ResetAt, "reset follows the oldest entry")
	assert.True(t, mr.Exists("rl:ip:1"))

	clk.Advance(55 * time.Second)
	info, err = l.Allow(ctx, "ip:1")
	require.NoError(t, err)
	assert.True(t, info.Allowed, "first entry slid out of the window")
}

func TestRedisLimiter_Unavailable(t *testing.T) {
	mr, client := setupTestRedis(t)
	l, err := NewRedisLimiter(client, 2, time.Minute, "rl:")
	require.NoError(t, err)
	mr.Close()

	_, err = l.Allow(context.Background(), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis rate limit check failed")
}

type pingController struct {
	limit *RateLimitGuard
}

func (c *pingController) Declare(d *waypoint.Declaration) {
	d.Controller("/ping").Guard(waypoint.Integrate(c.limit))
	d.Action("Ping").Get("/")
}

func (c *pingController) Ping() string { return "pong" }

func TestRateLimitGuard_Requests(t *testing.T) {
	limiter, err := NewMemoryLimiter(1, time.Minute)
	require.NoError(t, err)

	app := waypoint.New()
	require.NoError(t, app.Register(&pingController{limit: NewRateLimitGuard(limiter, nil)}))
	require.NoError(t, app.Build())
	h := adapters.Handler(app)

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = ip + ":1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := send("10.0.0.1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))

	rec = send("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"code":429,"message":"rate limit exceeded"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, send("10.0.0.2").Code)
}

func TestRateLimitGuard_IgnoresSpoofedForwardedFor(t *testing.T) {
	limiter, err := NewMemoryLimiter(1, time.Minute)
	require.NoError(t, err)

	proxies, err := waypoint.ParseTrustedProxies([]string{"10.1.0.0/16"})
	require.NoError(t, err)
	app := waypoint.New(waypoint.WithTrustedProxies(proxies...))
	require.NoError(t, app.Register(&pingController{limit: NewRateLimitGuard(limiter, nil)}))
	require.NoError(t, app.Build())
	h := adapters.Handler(app)

	send := func(remote, forwarded string) int {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = remote
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	// A direct client cannot rotate its key through the header.
	assert.Equal(t, http.StatusOK, send("203.0.113.7:1234", "198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.7:1234", "198.51.100.2"))

	// Behind a trusted proxy, each forwarded client has its own bucket.
	assert.Equal(t, http.StatusOK, send("10.1.0.5:1234", "198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.1.0.5:1234", "198.51.100.1"))
	assert.Equal(t, http.StatusOK, send("10.1.0.5:1234", "198.51.100.2"))
}

func TestRateLimitGuard_Keys(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:4000"
	ctx := adapters.NewHTTPRequestContext(httptest.NewRecorder(), req)

	assert.Equal(t, "ip:192.0.2.7", ByIP(ctx))
	assert.Equal(t, "ip:192.0.2.7", BySubject(ctx))

	claims := &Claims{}
	claims.Subject = "alice"
	ctx.Set(ClaimsKey, claims)
	assert.Equal(t, "sub:alice", BySubject(ctx))
}
