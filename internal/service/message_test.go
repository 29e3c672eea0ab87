package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support_chat/internal/domain"
	"support_chat/internal/repository"
	"support_chat/internal/service"
	apperrors "support_chat/pkg/errors"
	"support_chat/pkg/logger"
)

// failingMessages - хранилище сообщений, которое всегда отказывает в записи
type failingMessages struct {
	repository.MessageRepository
	mu    sync.Mutex
	calls int
}

func (f *failingMessages) Create(context.Context, *domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("disk full")
}

// instantTimer срабатывает сразу и запоминает запрошенные задержки
type instantTimer struct {
	waits []time.Duration
	c     chan time.Time
}

func (t *instantTimer) Start(d time.Duration) {
	t.waits = append(t.waits, d)
	if t.c == nil {
		t.c = make(chan time.Time, 1)
	}
	t.c <- time.Now()
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time { return t.c }

func TestMessageService_EndToEnd(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)

	session := env.guest(t, "B1", "Ada", "ada@x.com")
	env.agent(t, "B1", "AGT1")

	joined, err := env.rooms.JoinRoom(ctx, service.JoinRoomInput{RoomID: session.Room.ID, AgentID: "AGT1", BusinessID: "B1"})
	req.NoError(err)
	req.Equal([]string{"AGT1"}, joined.ActiveAgents)

	msg, err := env.messages.Send(ctx, service.SendMessageInput{
		RoomID:     session.Room.ID,
		SenderType: domain.SenderTypeAgent,
		SenderID:   "AGT1",
		Content:    "hello",
		BusinessID: "B1",
	})
	req.NoError(err)
	req.Equal("B1", msg.BusinessID)
	req.NotNil(msg.SenderID)

	history, err := env.messages.History(ctx, session.Room.ID, "B1", 0, 0)
	req.NoError(err)
	req.Len(history, 1)
	req.Equal(domain.SenderTypeAgent, history[0].SenderType)
	req.Equal("hello", history[0].Content)
	req.Equal(msg.ID, history[0].ID)

	broadcast := env.broadcaster.byEvent(domain.EventMessage)
	req.Len(broadcast, 1)
	req.Equal("room:"+session.Room.ID.String(), broadcast[0].Audience)
}

func TestMessageService_ConcurrentSendsReadBackOrdered(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)
	session := env.guest(t, "B1", "Ada", "ada@x.com")

	const total = 20
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.messages.Send(ctx, service.SendMessageInput{
				RoomID:     session.Room.ID,
				SenderType: domain.SenderTypeGuest,
				SenderID:   session.User.ID.String(),
				Content:    fmt.Sprintf("msg %d", i),
				BusinessID: "B1",
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	history, err := env.messages.History(ctx, session.Room.ID, "B1", 100, 0)
	req.NoError(err)
	req.Len(history, total)
	for i := 1; i < len(history); i++ {
		req.False(history[i].Timestamp.Before(history[i-1].Timestamp), "history must be non-decreasing")
		req.True(history[i-1].Before(history[i]))
	}
}

func TestMessageService_PersistenceFailure(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repos := newTestRepos(t)
	failing := &failingMessages{MessageRepository: repos.Message}
	repos.Message = failing
	env := newTestEnvWithRepos(t, repos)

	timer := &instantTimer{}
	service.SetMessageRetryTimer(env.messages, timer)

	session := env.guest(t, "B1", "Ada", "ada@x.com")
	msg, err := env.messages.Send(ctx, service.SendMessageInput{
		RoomID:     session.Room.ID,
		SenderType: domain.SenderTypeGuest,
		SenderID:   session.User.ID.String(),
		Content:    "are you there?",
		BusinessID: "B1",
	})

	req.ErrorIs(err, apperrors.ErrPersistence)
	req.NotNil(msg, "caller receives the draft that was already broadcast")
	req.Equal(3, failing.calls)
	req.Equal([]time.Duration{time.Millisecond, 2 * time.Millisecond}, timer.waits)

	req.Len(env.broadcaster.byEvent(domain.EventMessage), 1)
	failed := env.broadcaster.byEvent(domain.EventMessageFailed)
	req.Len(failed, 1)
	req.Equal(msg.ID, failed[0].Payload.(service.MessageFailedEvent).ID)
}

func TestMessageService_Validation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	session := env.guest(t, "B1", "Ada", "ada@x.com")
	foreign := env.guest(t, "B2", "Eve", "eve@x.com")
	env.agent(t, "B2", "AGT2")

	cases := []struct {
		name string
		in   service.SendMessageInput
		want error
	}{
		{
			name: "guest without senderId",
			in:   service.SendMessageInput{RoomID: session.Room.ID, SenderType: domain.SenderTypeGuest, Content: "hi", BusinessID: "B1"},
			want: apperrors.ErrInvalidInput,
		},
		{
			name: "unknown sender type",
			in:   service.SendMessageInput{RoomID: session.Room.ID, SenderType: "bot", Content: "hi", BusinessID: "B1"},
			want: apperrors.ErrInvalidInput,
		},
		{
			name: "blank content",
			in:   service.SendMessageInput{RoomID: session.Room.ID, SenderType: domain.SenderTypeAI, Content: "   ", BusinessID: "B1"},
			want: apperrors.ErrInvalidInput,
		},
		{
			name: "unknown room",
			in:   service.SendMessageInput{RoomID: uuid.New(), SenderType: domain.SenderTypeAI, Content: "hi", BusinessID: "B1"},
			want: apperrors.ErrNotFound,
		},
		{
			name: "room of another business",
			in:   service.SendMessageInput{RoomID: session.Room.ID, SenderType: domain.SenderTypeAI, Content: "hi", BusinessID: "B2"},
			want: apperrors.ErrTenantMismatch,
		},
		{
			name: "sender of another business",
			in:   service.SendMessageInput{RoomID: session.Room.ID, SenderType: domain.SenderTypeGuest, SenderID: foreign.User.ID.String(), Content: "hi", BusinessID: "B1"},
			want: apperrors.ErrTenantMismatch,
		},
		{
			name: "tagged agent of another business",
			in:   service.SendMessageInput{RoomID: session.Room.ID, SenderType: domain.SenderTypeAI, Content: "hi", TaggedAgents: []string{"AGT2"}, BusinessID: "B1"},
			want: apperrors.ErrTenantMismatch,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.messages.Send(ctx, tc.in)
			require.ErrorIs(t, err, tc.want)
		})
	}

	require.Empty(t, env.broadcaster.byEvent(domain.EventMessage), "rejected messages are never broadcast")
}

func TestMessageService_TaggedAgents(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)
	session := env.guest(t, "B1", "Ada", "ada@x.com")
	env.agent(t, "B1", "AGT1")
	env.broadcaster.online["AGT1"] = 1

	msg, err := env.messages.Send(ctx, service.SendMessageInput{
		RoomID:       session.Room.ID,
		SenderType:   domain.SenderTypeSystem,
		Content:      "needs a human",
		TaggedAgents: []string{"AGT1", "AGT1", ""},
		BusinessID:   "B1",
	})
	req.NoError(err)
	req.Equal([]string{"AGT1"}, msg.TaggedAgents)

	tagged := env.broadcaster.byEvent(domain.EventTagged)
	req.Len(tagged, 1)
	req.Equal("agent:AGT1", tagged[0].Audience)

	// агент другого бизнеса среди отмеченных отклоняет всё сообщение
	env.agent(t, "B2", "AGT2")
	_, err = env.messages.Send(ctx, service.SendMessageInput{
		RoomID:       session.Room.ID,
		SenderType:   domain.SenderTypeSystem,
		Content:      "escalate",
		TaggedAgents: []string{"AGT1", "AGT2"},
		BusinessID:   "B1",
	})
	req.ErrorIs(err, apperrors.ErrTenantMismatch)
	req.Len(env.broadcaster.byEvent(domain.EventMessage), 1)
}

func TestMessageService_TypingAndToggleAI(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)
	session := env.guest(t, "B1", "Ada", "ada@x.com")

	req.NoError(env.messages.Typing(ctx, service.TypingInput{
		RoomID: session.Room.ID, SenderType: domain.SenderTypeGuest, Name: "Ada", BusinessID: "B1",
	}, "conn-1"))
	req.NoError(env.messages.ToggleAI(ctx, service.ToggleAIInput{
		RoomID: session.Room.ID, IsAIEnabled: true, BusinessID: "B1",
	}, "conn-2"))

	typing := env.broadcaster.byEvent(domain.EventTyping)
	req.Len(typing, 1)
	req.Equal("conn-1", typing[0].Except)

	toggle := env.broadcaster.byEvent(domain.EventToggleAI)
	req.Len(toggle, 1)
	req.True(toggle[0].Payload.(service.ToggleAIEvent).IsAIEnabled)

	err := env.messages.Typing(ctx, service.TypingInput{
		RoomID: session.Room.ID, SenderType: domain.SenderTypeGuest, BusinessID: "B2",
	}, "conn-1")
	req.ErrorIs(err, apperrors.ErrTenantMismatch)
}

func TestMessageService_RecentUsesCache(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	repos := newTestRepos(t).WithRedis(rdb, 10, time.Hour, logger.Nop())
	env := newTestEnvWithRepos(t, repos)
	session := env.guest(t, "B1", "Ada", "ada@x.com")

	send := func(content string) {
		_, err := env.messages.Send(ctx, service.SendMessageInput{
			RoomID:     session.Room.ID,
			SenderType: domain.SenderTypeGuest,
			SenderID:   session.User.ID.String(),
			Content:    content,
			BusinessID: "B1",
		})
		req.NoError(err)
	}

	send("one")
	send("two")

	// первый вызов прогревает кэш из хранилища
	recent, err := env.messages.Recent(ctx, session.Room.ID, "B1", 10)
	req.NoError(err)
	req.Len(recent, 2)

	send("three")
	_, hit, err := repos.MessageCache.Recent(ctx, session.Room.ID, 10)
	req.NoError(err)
	req.True(hit)

	recent, err = env.messages.Recent(ctx, session.Room.ID, "B1", 2)
	req.NoError(err)
	req.Len(recent, 2)
	req.Equal("two", recent[0].Content)
	req.Equal("three", recent[1].Content)
}

// snapshotHook выполняет after сразу после чтения снимка для прогрева кэша
type snapshotHook struct {
	repository.MessageRepository
	after func()
}

func (h *snapshotHook) ListRecent(ctx context.Context, roomID uuid.UUID, limit int) ([]*domain.Message, error) {
	messages, err := h.MessageRepository.ListRecent(ctx, roomID, limit)
	if h.after != nil {
		after := h.after
		h.after = nil
		after()
	}
	return messages, err
}

func TestMessageService_RecentKeepsMessageSentDuringWarmup(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	repos := newTestRepos(t).WithRedis(rdb, 10, time.Hour, logger.Nop())
	hook := &snapshotHook{MessageRepository: repos.Message}
	repos.Message = hook
	env := newTestEnvWithRepos(t, repos)
	session := env.guest(t, "B1", "Ada", "ada@x.com")

	send := func(content string) {
		_, err := env.messages.Send(ctx, service.SendMessageInput{
			RoomID:     session.Room.ID,
			SenderType: domain.SenderTypeGuest,
			SenderID:   session.User.ID.String(),
			Content:    content,
			BusinessID: "B1",
		})
		req.NoError(err)
	}

	send("before")
	hook.after = func() { send("during") }

	// снимок без "during", но сообщение сохранено до прогрева
	recent, err := env.messages.Recent(ctx, session.Room.ID, "B1", 10)
	req.NoError(err)
	req.Len(recent, 1)

	recent, err = env.messages.Recent(ctx, session.Room.ID, "B1", 10)
	req.NoError(err)
	req.Len(recent, 2)
	req.Equal("before", recent[0].Content)
	req.Equal("during", recent[1].Content)
}
