//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/cogsolver/internal/bus"
	"github.com/opensource-finance/cogsolver/internal/cache"
	"github.com/opensource-finance/cogsolver/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisTwoPhaseCache(t *testing.T) {
	ctx := context.Background()
	addr := startRedis(t)

	c, err := cache.New(ctx, domain.CacheConfig{
		Type:           "redis",
		RedisAddr:      addr,
		EnableTwoPhase: true,
		LocalMaxSize:   10,
		LocalTTL:       time.Second,
	})
	require.NoError(t, err)
	defer c.Close()

	rules := []*domain.Rule{{ID: "r1", Name: "Rule", Active: true, ConditionType: domain.ConditionCombined}}
	require.NoError(t, cache.SetJSON(ctx, c, "rules:active", rules, time.Minute))

	got, found, err := cache.GetJSON[[]*domain.Rule](ctx, c, "rules:active")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "r1", got[0].ID)

	// A second node sharing Redis sees the value.
	other, err := cache.NewRedisCache(ctx, addr, "", 0)
	require.NoError(t, err)
	defer other.Close()
	raw, err := other.Get(ctx, "rules:active")
	require.NoError(t, err)
	assert.NotEmpty(t, raw)

	require.NoError(t, c.Delete(ctx, "rules:active"))
	_, found, err = cache.GetJSON[[]*domain.Rule](ctx, c, "rules:active")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestNATSBus(t *testing.T) {
	ctx := context.Background()
	url := startNATS(t)

	b, err := bus.New(domain.EventBusConfig{Type: "nats", NATSUrl: url, NATSMaxReconnects: 1, NATSReconnectWait: 1}, quietLogger())
	require.NoError(t, err)
	defer b.Close()
	require.NoError(t, b.Ping(ctx))

	got := make(chan *domain.Message, 1)
	sub, err := b.Subscribe(ctx, domain.TopicRuleChanged, func(ctx context.Context, msg *domain.Message) error {
		got <- msg
		return nil
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, bus.PublishJSON(ctx, b, domain.TopicRuleChanged, domain.RuleChanged{RuleID: "r1"}))

	select {
	case msg := <-got:
		event, err := bus.Decode[domain.RuleChanged](msg)
		require.NoError(t, err)
		assert.Equal(t, "r1", event.RuleID)
	case <-time.After(5 * time.Second):
		t.Fatal("no message over NATS")
	}
}
