// Package ratelimit bounds per-user provider traffic with fixed redis
// windows. Redis outages fail open so issuance never blocks on the limiter.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/baroworks/taxbill/internal/config"
	obsmetrics "github.com/baroworks/taxbill/internal/observability/metrics"
	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	keyIssuance  = "ratelimit:issuance:%s"
	keyCorpState = "ratelimit:corpstate:%s"
)

type LimiterParam struct {
	fx.In

	Config     config.Config
	Log        *zap.Logger
	Redis      *redis.Client       `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Limiter struct {
	enabled bool

	redis      *redis.Client
	log        *zap.Logger
	obsMetrics *obsmetrics.Metrics

	issuancePerMin  int
	corpStatePerMin int
	windowTTL       time.Duration
}

func NewLimiter(p LimiterParam) *Limiter {
	cfg := p.Config.RateLimit
	windowTTL := time.Duration(cfg.WindowTTLSeconds) * time.Second
	if windowTTL <= 0 {
		windowTTL = time.Minute
	}

	return &Limiter{
		enabled:         cfg.Enabled && p.Redis != nil,
		redis:           p.Redis,
		log:             p.Log.Named("ratelimit"),
		obsMetrics:      p.ObsMetrics,
		issuancePerMin:  cfg.IssuancePerMin,
		corpStatePerMin: cfg.CorpStatePerMin,
		windowTTL:       windowTTL,
	}
}

func (l *Limiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *Limiter) AllowIssuance(ctx context.Context, userID snowflake.ID) bool {
	return l.allow(ctx, "issuance", fmt.Sprintf(keyIssuance, userID.String()), l.issuancePerMin)
}

func (l *Limiter) AllowCorpState(ctx context.Context, userID snowflake.ID) bool {
	return l.allow(ctx, "corp_state", fmt.Sprintf(keyCorpState, userID.String()), l.corpStatePerMin)
}

// allow counts one request in the user's current window. The first INCR of
// a window sets the TTL; a lost Expire leaves a counted key that decays on
// the next window anyway.
func (l *Limiter) allow(ctx context.Context, endpoint, key string, limit int) bool {
	if !l.Enabled() || limit <= 0 {
		return true
	}

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		l.log.Error("rate limit increment failed", zap.String("key", key), zap.Error(err))
		return true
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.windowTTL).Err(); err != nil {
			l.log.Warn("rate limit expire failed", zap.String("key", key), zap.Error(err))
		}
	}

	if count > int64(limit) {
		if l.obsMetrics != nil {
			l.obsMetrics.RecordRateLimitDenied(ctx, endpoint, "window_exceeded")
		}
		return false
	}
	if l.obsMetrics != nil {
		l.obsMetrics.RecordRateLimitAllowed(ctx, endpoint)
	}
	return true
}
