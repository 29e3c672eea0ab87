package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"support_chat/internal/config"
	"support_chat/internal/registry"
	"support_chat/internal/repository"
	"support_chat/internal/repository/badgerstore"
	"support_chat/internal/service"
	"support_chat/pkg/logger"
)

type sentEvent struct {
	Audience string
	Event    string
	Payload  any
	Except   string
}

// recordingBroadcaster запоминает все исходящие события
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []sentEvent
	online map[string]int
}

func newRecordingBroadcaster() *recordingBroadcaster {
	return &recordingBroadcaster{online: make(map[string]int)}
}

func (b *recordingBroadcaster) ToRoom(roomID uuid.UUID, event string, payload any, exceptConnID string) {
	b.record(sentEvent{Audience: "room:" + roomID.String(), Event: event, Payload: payload, Except: exceptConnID})
}

func (b *recordingBroadcaster) ToAgents(businessID, event string, payload any) {
	b.record(sentEvent{Audience: "agents:" + businessID, Event: event, Payload: payload})
}

func (b *recordingBroadcaster) ToAgent(agentID, event string, payload any) int {
	b.record(sentEvent{Audience: "agent:" + agentID, Event: event, Payload: payload})
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.online[agentID]
}

func (b *recordingBroadcaster) record(e sentEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBroadcaster) byEvent(event string) []sentEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []sentEvent
	for _, e := range b.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (b *recordingBroadcaster) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}

type fakeConn struct{ id string }

func (c fakeConn) ID() string             { return c.id }
func (c fakeConn) Send(string, any) error { return nil }
func newConn() registry.Conn              { return fakeConn{id: uuid.NewString()} }
func testMessagesConfig() config.MessagesConfig {
	return config.MessagesConfig{PersistAttempts: 3, PersistBackoff: time.Millisecond, CacheSize: 100, CacheTTL: time.Hour, HistoryLimit: 50}
}

type testEnv struct {
	repos       *repository.Repositories
	registry    *registry.Registry
	broadcaster *recordingBroadcaster
	audit       service.AuditService
	rooms       service.RoomService
	presence    service.PresenceService
	messages    service.MessageService
}

func newTestRepos(t *testing.T) *repository.Repositories {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repos, err := badgerstore.NewRepositories(db, logger.Nop())
	require.NoError(t, err)
	return repos
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithRepos(t, newTestRepos(t))
}

func newTestEnvWithRepos(t *testing.T, repos *repository.Repositories) *testEnv {
	t.Helper()
	log := logger.Nop()
	reg := registry.New()
	b := newRecordingBroadcaster()
	audit := service.NewAuditService(repos.Audit, log)

	return &testEnv{
		repos:       repos,
		registry:    reg,
		broadcaster: b,
		audit:       audit,
		rooms:       service.NewRoomService(repos, audit, b, log),
		presence:    service.NewPresenceService(repos, reg, b, 2*time.Minute, log),
		messages:    service.NewMessageService(repos, audit, b, testMessagesConfig(), log),
	}
}

func (e *testEnv) guest(t *testing.T, businessID, name, email string) *service.GuestSession {
	t.Helper()
	session, err := e.rooms.CreateGuestSession(context.Background(), service.GuestSessionInput{
		Name:       name,
		Email:      email,
		BusinessID: businessID,
	})
	require.NoError(t, err)
	return session
}

func (e *testEnv) agent(t *testing.T, businessID, agentID string) {
	t.Helper()
	_, err := e.rooms.EnsureAgent(context.Background(), service.AgentInput{
		AgentID:    agentID,
		Name:       "Agent " + agentID,
		BusinessID: businessID,
	})
	require.NoError(t, err)
}
