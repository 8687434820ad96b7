package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/quill/pkg/httputil"
	"github.com/platinummonkey/quill/pkg/observability"
)

// DistributedRateLimiter counts requests per fixed window in Redis so that
// limits are shared across instances
type DistributedRateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
}

// NewDistributedRateLimiter creates a Redis-backed rate limiter
func NewDistributedRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = LoginRateLimitConfig(0, 0)
	}
	if prefix == "" {
		prefix = "quill:ratelimit"
	}
	return &DistributedRateLimiter{redis: redisClient, config: config, prefix: prefix}
}

func (rl *DistributedRateLimiter) key(key string) string {
	return rl.prefix + ":" + key
}

// Allow increments the window counter for key. The expiry is only set
// when the window opens so that retries do not extend it.
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := rl.key(key)

	count, err := rl.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("redis error: %w", err)
	}
	if count == 1 {
		if err := rl.redis.Expire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			return false, fmt.Errorf("redis error: %w", err)
		}
	}
	return count <= int64(rl.config.RequestsPerWindow), nil
}

// Remaining returns the requests left in the current window
func (rl *DistributedRateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	count, err := rl.redis.Get(ctx, rl.key(key)).Int()
	if err == redis.Nil {
		return rl.config.RequestsPerWindow, nil
	} else if err != nil {
		return 0, err
	}
	if remaining := rl.config.RequestsPerWindow - count; remaining > 0 {
		return remaining, nil
	}
	return 0, nil
}

// TTL returns the time until the window resets
func (rl *DistributedRateLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	return rl.redis.TTL(ctx, rl.key(key)).Result()
}

// Reset clears the counter for key
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.key(key)).Err()
}

// LoginLimiter throttles sign-in attempts per client IP and per account.
// Redis is used
// when available; on Redis errors the in-process limiter takes over so
// that an outage does not lift the limit.
type LoginLimiter struct {
	distributed *DistributedRateLimiter
	local       *RateLimiter
	config      *RateLimitConfig
	trusted     []netip.Prefix
	logger      *observability.Logger
}

// NewLoginLimiter creates a login limiter. redisClient may be nil.
func NewLoginLimiter(redisClient *redis.Client, config *RateLimitConfig, logger *observability.Logger) *LoginLimiter {
	if config == nil {
		config = LoginRateLimitConfig(0, 0)
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	l := &LoginLimiter{
		local:  NewRateLimiter(config),
		config: config,
		logger: logger,
	}
	if redisClient != nil {
		l.distributed = NewDistributedRateLimiter(redisClient, config, "quill:ratelimit:login")
	}
	return l
}

// TrustProxies lets forwarding headers from these peers name the client
func (l *LoginLimiter) TrustProxies(prefixes []netip.Prefix) *LoginLimiter {
	l.trusted = prefixes
	return l
}

// StartCleanup prunes the in-process buckets until ctx is done
func (l *LoginLimiter) StartCleanup(ctx context.Context) {
	l.local.StartCleanup(ctx)
}

// Allow reports whether key may attempt another sign-in, and how long to
// wait when it may not
func (l *LoginLimiter) Allow(ctx context.Context, key string) (bool, time.Duration) {
	if l.distributed != nil {
		allowed, err := l.distributed.Allow(ctx, key)
		if err == nil {
			if allowed {
				return true, 0
			}
			ttl, err := l.distributed.TTL(ctx, key)
			if err != nil || ttl <= 0 {
				ttl = l.config.WindowDuration
			}
			return false, ttl
		}
		l.logger.WithError(err).Warn("login rate limiter falling back to local buckets")
	}

	if l.local.Allow(key) {
		return true, 0
	}
	return false, l.config.WindowDuration / time.Duration(l.config.RequestsPerWindow)
}

// AllowAccount applies the limit to an account name independently of the
// client address, so rotating addresses does not buy more guesses
func (l *LoginLimiter) AllowAccount(ctx context.Context, email string) (bool, time.Duration) {
	return l.Allow(ctx, "email:"+strings.ToLower(strings.TrimSpace(email)))
}

// WriteLimited writes the 429 response for a throttled attempt
func (l *LoginLimiter) WriteLimited(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int(retryAfter.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.config.RequestsPerWindow))
	w.Header().Set("X-RateLimit-Remaining", "0")
	httputil.WriteTooManyRequests(w, "too many sign-in attempts, try again later")
}

// Handler wraps a login handler with the per-address throttle
func (l *LoginLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter := l.Allow(r.Context(), "ip:"+ClientIP(r, l.trusted))
		if !allowed {
			l.WriteLimited(w, retryAfter)
			return
		}
		next.ServeHTTP(w, r)
	})
}
