package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support_chat/internal/domain"
	"support_chat/internal/service"
	apperrors "support_chat/pkg/errors"
)

func TestRoomService_CreateGuestSession(t *testing.T) {
	ctx := context.Background()

	t.Run("should be idempotent on email within a business", func(t *testing.T) {
		req := require.New(t)
		env := newTestEnv(t)

		first := env.guest(t, "B1", "Ada", "ada@x.com")
		req.True(first.RoomCreated)
		req.Equal("B1", first.Room.BusinessID)
		req.Equal(first.User.ID, *first.Room.GuestID)

		second := env.guest(t, "B1", "Ada", "ada@x.com")
		req.False(second.RoomCreated)
		req.Equal(first.Room.ID, second.Room.ID)
		req.Equal(first.User.ID, second.User.ID)
	})

	t.Run("should broadcast roomCreated to the tenant agents only once", func(t *testing.T) {
		req := require.New(t)
		env := newTestEnv(t)

		session := env.guest(t, "B1", "Ada", "ada@x.com")
		env.guest(t, "B1", "Ada", "ada@x.com")

		events := env.broadcaster.byEvent(domain.EventRoomCreated)
		req.Len(events, 1)
		req.Equal("agents:B1", events[0].Audience)
		payload, ok := events[0].Payload.(service.RoomCreatedEvent)
		req.True(ok)
		req.Equal(session.Room.ID, payload.Room.ID)
	})

	t.Run("should write a HIGH priority notification with the room", func(t *testing.T) {
		req := require.New(t)
		env := newTestEnv(t)

		session := env.guest(t, "B1", "", "anon@x.com")
		req.Equal("Guest", session.User.Name)

		notifications, err := env.rooms.ListNotifications(ctx, "B1", 10)
		req.NoError(err)
		req.Len(notifications, 1)
		req.Equal(domain.NotificationPriorityHigh, notifications[0].Priority)
		req.Equal(session.Room.ID, *notifications[0].RoomID)
	})

	t.Run("should keep the same email in different businesses apart", func(t *testing.T) {
		req := require.New(t)
		env := newTestEnv(t)

		a := env.guest(t, "B1", "Ada", "ada@x.com")
		b := env.guest(t, "B2", "Ada", "ada@x.com")
		req.NotEqual(a.User.ID, b.User.ID)
		req.NotEqual(a.Room.ID, b.Room.ID)
	})

	t.Run("should reject missing email or business", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.rooms.CreateGuestSession(ctx, service.GuestSessionInput{Name: "Ada", BusinessID: "B1"})
		require.ErrorIs(t, err, apperrors.ErrInvalidInput)

		_, err = env.rooms.CreateGuestSession(ctx, service.GuestSessionInput{Name: "Ada", Email: "ada@x.com"})
		require.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})

	t.Run("should open a new room after the previous one is closed", func(t *testing.T) {
		req := require.New(t)
		env := newTestEnv(t)

		first := env.guest(t, "B1", "Ada", "ada@x.com")
		_, err := env.rooms.CloseRoom(ctx, first.Room.ID, "B1", "AGT1")
		req.NoError(err)

		second := env.guest(t, "B1", "Ada", "ada@x.com")
		req.True(second.RoomCreated)
		req.NotEqual(first.Room.ID, second.Room.ID)
		req.Equal(first.User.ID, second.User.ID)
	})

	t.Run("should create a single room under concurrent joins", func(t *testing.T) {
		req := require.New(t)
		env := newTestEnv(t)

		const workers = 8
		ids := make(chan uuid.UUID, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				session, err := env.rooms.CreateGuestSession(ctx, service.GuestSessionInput{Email: "race@x.com", BusinessID: "B1"})
				if assert.NoError(t, err) {
					ids <- session.Room.ID
				}
			}()
		}
		wg.Wait()
		close(ids)

		var first uuid.UUID
		for id := range ids {
			if first == uuid.Nil {
				first = id
			}
			req.Equal(first, id)
		}
	})
}

func TestRoomService_GetOrCreateGlobalAgentRoom(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)

	r1, err := env.rooms.GetOrCreateGlobalAgentRoom(ctx, "B1")
	req.NoError(err)
	req.Equal(domain.GlobalAgentRoomName, *r1.Name)

	r2, err := env.rooms.GetOrCreateGlobalAgentRoom(ctx, "B1")
	req.NoError(err)
	req.Equal(r1.ID, r2.ID)

	other, err := env.rooms.GetOrCreateGlobalAgentRoom(ctx, "B2")
	req.NoError(err)
	req.NotEqual(r1.ID, other.ID)

	business, err := env.repos.Business.GetByID(ctx, "B1")
	req.NoError(err)
	req.Equal(domain.DefaultBusinessName, business.Name)
}

func TestRoomService_EnsureAgent(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)

	a1, err := env.rooms.EnsureAgent(ctx, service.AgentInput{AgentID: "AGT1", Name: "Bob", BusinessID: "B1"})
	req.NoError(err)
	req.True(a1.IsAgent())

	a2, err := env.rooms.EnsureAgent(ctx, service.AgentInput{AgentID: "AGT1", Name: "Bob", BusinessID: "B1"})
	req.NoError(err)
	req.Equal(a1.ID, a2.ID)

	_, err = env.rooms.EnsureAgent(ctx, service.AgentInput{AgentID: "AGT1", BusinessID: "B2"})
	req.ErrorIs(err, apperrors.ErrTenantMismatch)
}

func TestRoomService_JoinRoom(t *testing.T) {
	ctx := context.Background()

	t.Run("should fail without agentId and guestId", func(t *testing.T) {
		env := newTestEnv(t)
		session := env.guest(t, "B1", "Ada", "ada@x.com")

		_, err := env.rooms.JoinRoom(ctx, service.JoinRoomInput{RoomID: session.Room.ID, BusinessID: "B1"})
		require.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})

	t.Run("should add an agent once", func(t *testing.T) {
		req := require.New(t)
		env := newTestEnv(t)
		session := env.guest(t, "B1", "Ada", "ada@x.com")
		env.agent(t, "B1", "AGT1")

		res, err := env.rooms.JoinRoom(ctx, service.JoinRoomInput{RoomID: session.Room.ID, AgentID: "AGT1", BusinessID: "B1"})
		req.NoError(err)
		req.Equal([]string{"AGT1"}, res.ActiveAgents)

		res, err = env.rooms.JoinRoom(ctx, service.JoinRoomInput{RoomID: session.Room.ID, AgentID: "AGT1", BusinessID: "B1"})
		req.NoError(err)
		req.Equal([]string{"AGT1"}, res.ActiveAgents)

		notifications := env.broadcaster.byEvent(domain.EventNotification)
		req.Len(notifications, 2)
		req.Equal("room:"+session.Room.ID.String(), notifications[0].Audience)
	})

	t.Run("should not mutate activeAgents for a guest", func(t *testing.T) {
		req := require.New(t)
		env := newTestEnv(t)
		session := env.guest(t, "B1", "Ada", "ada@x.com")

		res, err := env.rooms.JoinRoom(ctx, service.JoinRoomInput{RoomID: session.Room.ID, GuestID: &session.User.ID, BusinessID: "B1"})
		req.NoError(err)
		req.Empty(res.ActiveAgents)

		room, err := env.rooms.GetRoom(ctx, session.Room.ID, "B1")
		req.NoError(err)
		req.Empty(room.ActiveAgents)
	})

	t.Run("should reject cross-tenant references", func(t *testing.T) {
		req := require.New(t)
		env := newTestEnv(t)
		session := env.guest(t, "B1", "Ada", "ada@x.com")
		foreignGuest := env.guest(t, "B2", "Eve", "eve@x.com")
		env.agent(t, "B2", "AGT2")

		_, err := env.rooms.JoinRoom(ctx, service.JoinRoomInput{RoomID: session.Room.ID, AgentID: "AGT2", BusinessID: "B2"})
		req.ErrorIs(err, apperrors.ErrTenantMismatch)

		_, err = env.rooms.JoinRoom(ctx, service.JoinRoomInput{RoomID: session.Room.ID, AgentID: "AGT2", BusinessID: "B1"})
		req.ErrorIs(err, apperrors.ErrTenantMismatch)

		_, err = env.rooms.JoinRoom(ctx, service.JoinRoomInput{RoomID: session.Room.ID, GuestID: &foreignGuest.User.ID, BusinessID: "B1"})
		req.ErrorIs(err, apperrors.ErrTenantMismatch)

		room, err := env.rooms.GetRoom(ctx, session.Room.ID, "B1")
		req.NoError(err)
		req.Empty(room.ActiveAgents)
	})

	t.Run("should report unknown room and agent", func(t *testing.T) {
		env := newTestEnv(t)
		session := env.guest(t, "B1", "Ada", "ada@x.com")

		_, err := env.rooms.JoinRoom(ctx, service.JoinRoomInput{RoomID: uuid.New(), AgentID: "AGT1", BusinessID: "B1"})
		require.ErrorIs(t, err, apperrors.ErrNotFound)

		_, err = env.rooms.JoinRoom(ctx, service.JoinRoomInput{RoomID: session.Room.ID, AgentID: "nobody", BusinessID: "B1"})
		require.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("should reject a closed room", func(t *testing.T) {
		env := newTestEnv(t)
		session := env.guest(t, "B1", "Ada", "ada@x.com")
		env.agent(t, "B1", "AGT1")
		_, err := env.rooms.CloseRoom(ctx, session.Room.ID, "B1", "AGT1")
		require.NoError(t, err)

		_, err = env.rooms.JoinRoom(ctx, service.JoinRoomInput{RoomID: session.Room.ID, AgentID: "AGT1", BusinessID: "B1"})
		require.ErrorIs(t, err, apperrors.ErrRoomClosed)
	})
}

func TestRoomService_Override(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*testEnv, uuid.UUID) {
		env := newTestEnv(t)
		session := env.guest(t, "B1", "Ada", "ada@x.com")
		env.agent(t, "B1", "AGT1")
		env.agent(t, "B1", "AGT2")
		return env, session.Room.ID
	}

	t.Run("should return to no holder after override and release", func(t *testing.T) {
		req := require.New(t)
		env, roomID := setup(t)

		room, err := env.rooms.Override(ctx, roomID, "AGT1", "B1")
		req.NoError(err)
		req.Equal("AGT1", room.OverrideHolder())
		req.True(room.HasAgent("AGT1"))

		room, err = env.rooms.ReleaseOverride(ctx, roomID, "AGT1", "B1")
		req.NoError(err)
		req.Nil(room.CurrentOverride)
		req.True(room.HasAgent("AGT1"))

		events := env.broadcaster.byEvent(domain.EventOverride)
		req.Len(events, 2)
		req.Nil(events[1].Payload.(service.OverrideEvent).AgentID)
	})

	t.Run("should reject release by a non-holder", func(t *testing.T) {
		env, roomID := setup(t)

		_, err := env.rooms.Override(ctx, roomID, "AGT1", "B1")
		require.NoError(t, err)

		_, err = env.rooms.ReleaseOverride(ctx, roomID, "AGT2", "B1")
		require.ErrorIs(t, err, apperrors.ErrNotOverriding)
	})

	t.Run("should require release before another agent takes over", func(t *testing.T) {
		req := require.New(t)
		env, roomID := setup(t)

		_, err := env.rooms.Override(ctx, roomID, "AGT1", "B1")
		req.NoError(err)

		_, err = env.rooms.Override(ctx, roomID, "AGT2", "B1")
		req.ErrorIs(err, apperrors.ErrOverrideHeld)

		room, err := env.rooms.Override(ctx, roomID, "AGT1", "B1")
		req.NoError(err)
		req.Equal("AGT1", room.OverrideHolder())

		_, err = env.rooms.ReleaseOverride(ctx, roomID, "AGT1", "B1")
		req.NoError(err)
		room, err = env.rooms.Override(ctx, roomID, "AGT2", "B1")
		req.NoError(err)
		req.Equal("AGT2", room.OverrideHolder())
	})

	t.Run("should let exactly one of two racing agents win", func(t *testing.T) {
		req := require.New(t)
		env, roomID := setup(t)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, agentID := range []string{"AGT1", "AGT2"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = env.rooms.Override(ctx, roomID, agentID, "B1")
			}()
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
			} else {
				req.ErrorIs(err, apperrors.ErrOverrideHeld)
			}
		}
		req.Equal(1, wins)
	})

	t.Run("should reject a cross-tenant agent", func(t *testing.T) {
		env, roomID := setup(t)
		env.agent(t, "B2", "AGT9")

		_, err := env.rooms.Override(ctx, roomID, "AGT9", "B1")
		require.ErrorIs(t, err, apperrors.ErrTenantMismatch)

		_, err = env.rooms.Override(ctx, roomID, "AGT9", "B2")
		require.ErrorIs(t, err, apperrors.ErrTenantMismatch)
	})
}

func TestRoomService_CloseRoom(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)
	session := env.guest(t, "B1", "Ada", "ada@x.com")
	env.agent(t, "B1", "AGT1")

	_, err := env.rooms.Override(ctx, session.Room.ID, "AGT1", "B1")
	req.NoError(err)

	room, err := env.rooms.CloseRoom(ctx, session.Room.ID, "B1", "AGT1")
	req.NoError(err)
	req.True(room.IsClosed())
	req.Nil(room.CurrentOverride)

	_, err = env.rooms.CloseRoom(ctx, session.Room.ID, "B1", "AGT1")
	req.NoError(err)
	req.Len(env.broadcaster.byEvent(domain.EventRoomClosed), 2, "room and tenant agents, once")

	_, err = env.rooms.CloseRoom(ctx, session.Room.ID, "B2", "AGT1")
	req.ErrorIs(err, apperrors.ErrTenantMismatch)

	closed, err := env.rooms.ListRooms(ctx, "B1", domain.RoomStatusClosed, 10, 0)
	req.NoError(err)
	req.Len(closed, 1)
}
