package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/baroworks/taxbill/internal/config"
	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLimiter(t *testing.T, cfg config.RateLimitConfig) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := NewLimiter(LimiterParam{
		Config: config.Config{RateLimit: cfg},
		Log:    zap.NewNop(),
		Redis:  client,
	})
	return limiter, mr
}

func TestAllowIssuanceWithinWindow(t *testing.T) {
	limiter, _ := newTestLimiter(t, config.RateLimitConfig{
		Enabled:          true,
		IssuancePerMin:   3,
		WindowTTLSeconds: 60,
	})
	ctx := context.Background()

	node, err := snowflake.NewNode(24)
	require.NoError(t, err)
	userID := node.Generate()

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.AllowIssuance(ctx, userID))
	}
	assert.False(t, limiter.AllowIssuance(ctx, userID))

	// Another user has a window of their own.
	assert.True(t, limiter.AllowIssuance(ctx, node.Generate()))
}

func TestWindowResetsAfterTTL(t *testing.T) {
	limiter, mr := newTestLimiter(t, config.RateLimitConfig{
		Enabled:          true,
		IssuancePerMin:   1,
		WindowTTLSeconds: 60,
	})
	ctx := context.Background()

	node, err := snowflake.NewNode(24)
	require.NoError(t, err)
	userID := node.Generate()

	assert.True(t, limiter.AllowIssuance(ctx, userID))
	assert.False(t, limiter.AllowIssuance(ctx, userID))

	mr.FastForward(61 * time.Second)
	assert.True(t, limiter.AllowIssuance(ctx, userID))
}

func TestDisabledLimiterAllowsEverything(t *testing.T) {
	limiter, _ := newTestLimiter(t, config.RateLimitConfig{Enabled: false})
	ctx := context.Background()

	node, err := snowflake.NewNode(24)
	require.NoError(t, err)
	userID := node.Generate()

	for i := 0; i < 100; i++ {
		assert.True(t, limiter.AllowIssuance(ctx, userID))
	}
}

func TestFailsOpenWhenRedisDown(t *testing.T) {
	limiter, mr := newTestLimiter(t, config.RateLimitConfig{
		Enabled:          true,
		IssuancePerMin:   1,
		WindowTTLSeconds: 60,
	})
	mr.Close()

	node, err := snowflake.NewNode(24)
	require.NoError(t, err)

	assert.True(t, limiter.AllowIssuance(context.Background(), node.Generate()))
}

func TestCorpStateWindowIsSeparate(t *testing.T) {
	limiter, _ := newTestLimiter(t, config.RateLimitConfig{
		Enabled:          true,
		IssuancePerMin:   1,
		CorpStatePerMin:  2,
		WindowTTLSeconds: 60,
	})
	ctx := context.Background()

	node, err := snowflake.NewNode(24)
	require.NoError(t, err)
	userID := node.Generate()

	assert.True(t, limiter.AllowIssuance(ctx, userID))
	assert.False(t, limiter.AllowIssuance(ctx, userID))

	assert.True(t, limiter.AllowCorpState(ctx, userID))
	assert.True(t, limiter.AllowCorpState(ctx, userID))
	assert.False(t, limiter.AllowCorpState(ctx, userID))
}
