package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(limit, burst int, window time.Duration) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: limit, WindowDuration: window, BurstSize: burst})
	rl.now = clock.now
	return rl, clock
}

func TestRateLimiter_Allow(t *testing.T) {
	rl, clock := newTestLimiter(10, 2, time.Second)

	allowed := 0
	for i := 0; i < 20; i++ {
		if rl.Allow("k") {
			allowed++
		}
	}
	assert.Equal(t, 12, allowed, "limit plus burst")

	clock.advance(100 * time.Millisecond)
	assert.True(t, rl.Allow("k"), "one token refills every 100ms")
	assert.False(t, rl.Allow("k"))
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	rl, _ := newTestLimiter(1, 0, time.Minute)

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
}

func TestRateLimiter_Remaining(t *testing.T) {
	rl, _ := newTestLimiter(10, 2, time.Second)

	assert.Equal(t, 12, rl.Remaining("k"))
	rl.Allow("k")
	assert.Equal(t, 11, rl.Remaining("k"))
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl, clock := newTestLimiter(10, 0, time.Second)
	rl.Allow("k")

	clock.advance(time.Second)
	rl.Cleanup()
	assert.Len(t, rl.buckets, 1)

	clock.advance(2 * time.Second)
	rl.Cleanup()
	assert.Empty(t, rl.buckets)
}

func TestClientIP(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8", "192.0.2.50"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded by trusted proxy", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.2:1234", "203.0.113.7"},
		{"client supplied hops are skipped", map[string]string{"X-Forwarded-For": "1.1.1.1, 203.0.113.7"}, "10.0.0.2:1234", "203.0.113.7"},
		{"single trusted address", map[string]string{"X-Forwarded-For": "198.51.100.8"}, "192.0.2.50:80", "198.51.100.8"},
		{"real ip from trusted proxy", map[string]string{"X-Real-IP": "198.51.100.4"}, "10.0.0.2:1234", "198.51.100.4"},
		{"untrusted peer ignores forwarded for", map[string]string{"X-Forwarded-For": "203.0.113.7"}, "192.0.2.9:5555", "192.0.2.9"},
		{"untrusted peer ignores real ip", map[string]string{"X-Real-IP": "198.51.100.4"}, "192.0.2.9:5555", "192.0.2.9"},
		{"remote addr", nil, "192.0.2.9:5555", "192.0.2.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(r, trusted))
		})
	}
}

func TestClientIP_NoTrustedProxies(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	r.RemoteAddr = "10.0.0.2:1234"
	r.Header.Set("X-Forwarded-For", "203.0.113.7")
	r.Header.Set("X-Real-IP", "203.0.113.8")
	assert.Equal(t, "10.0.0.2", ClientIP(r, nil))
}

func TestParseTrustedProxies(t *testing.T) {
	prefixes, err := ParseTrustedProxies([]string{"10.1.2.3/8", " 192.0.2.1 ", "", "::1"})
	require.NoError(t, err)
	require.Len(t, prefixes, 3)
	assert.Equal(t, "10.0.0.0/8", prefixes[0].String())
	assert.Equal(t, "192.0.2.1/32", prefixes[1].String())
	assert.Equal(t, "::1/128", prefixes[2].String())

	_, err = ParseTrustedProxies([]string{"proxy.internal"})
	assert.Error(t, err)
	_, err = ParseTrustedProxies([]string{"10.0.0.0/40"})
	assert.Error(t, err)
}

func newRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestDistributedRateLimiter(t *testing.T) {
	client, mr := newRedis(t)
	rl := NewDistributedRateLimiter(client, LoginRateLimitConfig(3, time.Minute), "")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "ip:1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "ip:1")
	require.NoError(t, err)
	assert.False(t, ok)

	remaining, err := rl.Remaining(ctx, "ip:1")
	require.NoError(t, err)
	assert.Zero(t, remaining)

	assert.Equal(t, time.Minute, mr.TTL("quill:ratelimit:ip:1"))

	mr.FastForward(time.Minute + time.Second)
	ok, err = rl.Allow(ctx, "ip:1")
	require.NoError(t, err)
	assert.True(t, ok, "window resets")

	require.NoError(t, rl.Reset(ctx, "ip:1"))
	remaining, err = rl.Remaining(ctx, "ip:1")
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)
}

func loginRequest(ip string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	r.RemoteAddr = ip + ":40000"
	return r
}

func TestLoginLimiter_Handler(t *testing.T) {
	client, _ := newRedis(t)
	limiter := NewLoginLimiter(client, LoginRateLimitConfig(2, time.Minute), nil)
	handler := limiter.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, loginRequest("192.0.2.1"))
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, loginRequest("192.0.2.1"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, loginRequest("192.0.2.2"))
	assert.Equal(t, http.StatusOK, rec.Code, "other clients are unaffected")
}

func TestLoginLimiter_Handler_IgnoresSpoofedForwardedFor(t *testing.T) {
	client, _ := newRedis(t)
	limiter := NewLoginLimiter(client, LoginRateLimitConfig(3, time.Minute), nil)
	handler := limiter.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	passed := 0
	for i := 0; i < 50; i++ {
		r := loginRequest("192.0.2.1")
		r.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)
		if rec.Code == http.StatusOK {
			passed++
		}
	}
	assert.Equal(t, 3, passed)
}

func TestLoginLimiter_Handler_TrustedProxy(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	limiter := NewLoginLimiter(nil, LoginRateLimitConfig(1, time.Minute), nil).TrustProxies(trusted)
	handler := limiter.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(client string) int {
		r := loginRequest("10.0.0.5")
		r.Header.Set("X-Forwarded-For", client)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, send("203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.1"))
	assert.Equal(t, http.StatusOK, send("203.0.113.2"), "clients behind the proxy have their own buckets")
}

func TestLoginLimiter_AllowAccount(t *testing.T) {
	limiter := NewLoginLimiter(nil, LoginRateLimitConfig(2, time.Minute), nil)
	ctx := context.Background()

	ok, _ := limiter.AllowAccount(ctx, "alice@example.com")
	assert.True(t, ok)
	ok, _ = limiter.AllowAccount(ctx, "  Alice@Example.com ")
	assert.True(t, ok)
	ok, retry := limiter.AllowAccount(ctx, "ALICE@example.com")
	assert.False(t, ok, "addresses differing in case share a bucket")
	assert.Positive(t, retry)

	ok, _ = limiter.AllowAccount(ctx, "bob@example.com")
	assert.True(t, ok)
}

func TestLoginLimiter_FallsBackWhenRedisIsDown(t *testing.T) {
	client, mr := newRedis(t)
	limiter := NewLoginLimiter(client, LoginRateLimitConfig(1, time.Minute), nil)
	mr.Close()
	ctx := context.Background()

	ok, _ := limiter.Allow(ctx, "ip:1")
	assert.True(t, ok)

	ok, retry := limiter.Allow(ctx, "ip:1")
	assert.False(t, ok, "the local bucket still enforces the limit")
	assert.Equal(t, time.Minute, retry)
}

func TestLoginLimiter_WithoutRedis(t *testing.T) {
	limiter := NewLoginLimiter(nil, LoginRateLimitConfig(1, time.Minute), nil)
	ctx := context.Background()

	ok, _ := limiter.Allow(ctx, "ip:1")
	assert.True(t, ok)
	ok, _ = limiter.Allow(ctx, "ip:1")
	assert.False(t, ok)
}
