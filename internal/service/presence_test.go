package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"support_chat/internal/domain"
	"support_chat/internal/service"
)

// testClock - ручные часы для сценариев присутствия
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newPresenceEnv(t *testing.T) (*testEnv, *testClock, time.Time) {
	env := newTestEnv(t)
	env.agent(t, "B1", "AGT1")

	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := &testClock{now: t0}
	service.SetPresenceClock(env.presence, clock.Now)
	return env, clock, t0
}

func TestPresenceService_SweepDemotesStaleAgent(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	env, clock, t0 := newPresenceEnv(t)

	p, err := env.presence.Auth(ctx, "AGT1", newConn())
	req.NoError(err)
	req.True(p.IsOnline)
	req.True(env.registry.IsOnline("AGT1"))

	clock.Set(t0.Add(2*time.Minute + time.Second))
	n, err := env.presence.Sweep(ctx)
	req.NoError(err)
	req.Equal(1, n)

	got, err := env.repos.Presence.Get(ctx, "AGT1")
	req.NoError(err)
	req.False(got.IsOnline)

	statuses := env.broadcaster.byEvent(domain.EventAgentStatus)
	req.Len(statuses, 2)
	req.Equal("agents:B1", statuses[1].Audience)
	req.False(statuses[1].Payload.(service.AgentStatusEvent).IsOnline)
}

func TestPresenceService_HeartbeatPreventsDemotion(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	env, clock, t0 := newPresenceEnv(t)

	_, err := env.presence.Auth(ctx, "AGT1", newConn())
	req.NoError(err)

	clock.Set(t0.Add(60 * time.Second))
	_, err = env.presence.Heartbeat(ctx, "AGT1")
	req.NoError(err)

	clock.Set(t0.Add(121 * time.Second))
	n, err := env.presence.Sweep(ctx)
	req.NoError(err)
	req.Zero(n)

	got, err := env.repos.Presence.Get(ctx, "AGT1")
	req.NoError(err)
	req.True(got.IsOnline)
	req.Equal(t0.Add(60*time.Second).Unix(), got.LastSeen.Unix())
}

func TestPresenceService_UnknownAgentIsNoop(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	env, _, _ := newPresenceEnv(t)

	p, err := env.presence.Auth(ctx, "ghost", newConn())
	req.NoError(err)
	req.Nil(p)
	req.False(env.registry.IsOnline("ghost"))

	p, err = env.presence.Heartbeat(ctx, "ghost")
	req.NoError(err)
	req.Nil(p)
	req.Empty(env.broadcaster.byEvent(domain.EventAgentStatus))
}

func TestPresenceService_DisconnectWaitsForLastSession(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	env, _, _ := newPresenceEnv(t)

	tab1, tab2 := newConn(), newConn()
	_, err := env.presence.Auth(ctx, "AGT1", tab1)
	req.NoError(err)
	_, err = env.presence.Auth(ctx, "AGT1", tab2)
	req.NoError(err)
	req.Len(env.broadcaster.byEvent(domain.EventAgentStatus), 1, "second session does not change status")

	req.NoError(env.presence.Disconnect(ctx, "AGT1", tab1))
	got, err := env.repos.Presence.Get(ctx, "AGT1")
	req.NoError(err)
	req.True(got.IsOnline)

	req.NoError(env.presence.Disconnect(ctx, "AGT1", tab2))
	got, err = env.repos.Presence.Get(ctx, "AGT1")
	req.NoError(err)
	req.False(got.IsOnline)
	req.False(env.registry.IsOnline("AGT1"))

	list, err := env.presence.List(ctx, "B1")
	req.NoError(err)
	req.Len(list, 1)

	list, err = env.presence.List(ctx, "B2")
	req.NoError(err)
	req.Empty(list)
}
