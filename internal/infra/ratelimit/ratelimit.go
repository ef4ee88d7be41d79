// Package ratelimit implements a Valkey-backed fail-closed rate limiter,
// replacing the teacher's in-memory per-IP token bucket
// (internal/interface/http/middleware.go's ipRateLimiter) per spec.md §5/§9:
// "the rate limiter must fail closed if its backing store is unreachable".
// Grounded on the fixed-window INCR+EXPIRE counter pattern already used by
// internal/infra/cache's frequency gate, generalized into a reusable limiter.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/valkey-io/valkey-go"
)

// Config bounds one named limiter scope (e.g. "global" or "per-user").
type Config struct {
	Limit  int
	Window time.Duration
}

// Limiter reports whether a request identified by key is allowed under cfg.
type Limiter interface {
	Allow(ctx context.Context, scope, key string, cfg Config) (bool, error)
}

// ValkeyLimiter implements Limiter with a fixed-window counter per
// scope+key+window-bucket. Each window is a fresh Valkey key so no explicit
// reset/cleanup is needed; keys expire on their own.
type ValkeyLimiter struct {
	client valkey.Client
	prefix string
	logger *slog.Logger
}

// New constructs a ValkeyLimiter.
func New(client valkey.Client, prefix string, logger *slog.Logger) *ValkeyLimiter {
	return &ValkeyLimiter{client: client, prefix: prefix, logger: logger.With("component", "infra.ratelimit")}
}

// Allow increments the counter for the current window and reports whether
// the caller is still within cfg.Limit. On any Valkey error, Allow denies
// the request (fail closed) and logs the cause.
func (l *ValkeyLimiter) Allow(ctx context.Context, scope, key string, cfg Config) (bool, error) {
	if cfg.Limit <= 0 || cfg.Window <= 0 {
		return true, nil
	}

	bucket := time.Now().UnixNano() / cfg.Window.Nanoseconds()
	redisKey := fmt.Sprintf("%s:ratelimit:%s:%s:%d", l.prefix, scope, key, bucket)

	incr := l.client.B().Incr().Key(redisKey).Build()
	resp := l.client.Do(ctx, incr)
	count, err := resp.ToInt64()
	if err != nil {
		l.logger.Error("ratelimit: store unreachable, failing closed", "scope", scope, "error", err)
		return false, fmt.Errorf("ratelimit: incr: %w", err)
	}

	if count == 1 {
		expire := l.client.B().Expire().Key(redisKey).Seconds(int64(cfg.Window.Seconds()) + 1).Build()
		if err := l.client.Do(ctx, expire).Error(); err != nil {
			l.logger.Warn("ratelimit: failed to set expiry", "key", redisKey, "error", err)
		}
	}

	return count <= int64(cfg.Limit), nil
}
