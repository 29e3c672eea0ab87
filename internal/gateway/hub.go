package gateway

import (
	"sync"

	"github.com/google/uuid"

	"support_chat/internal/metrics"
	"support_chat/internal/registry"
	"support_chat/pkg/logger"
)

// Hub держит подписки сессий на каналы (комната, агенты тенанта) и рассылает события.
// Реестр агентских сессий принадлежит хабу.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	channels map[string]map[string]*Session // канал -> connID -> сессия
	joined   map[string]map[string]struct{} // connID -> каналы
	registry *registry.Registry
	log      logger.Logger
}

func NewHub(reg *registry.Registry, log logger.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]*Session),
		channels: make(map[string]map[string]*Session),
		joined:   make(map[string]map[string]struct{}),
		registry: reg,
		log:      log,
	}
}

func (h *Hub) Registry() *registry.Registry { return h.registry }

func (h *Hub) Add(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s.ID()] = s
	h.joined[s.ID()] = make(map[string]struct{})
	metrics.WSConnections.Set(float64(len(h.sessions)))
}

// Remove отписывает сессию от всех каналов
func (h *Hub) Remove(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for channel := range h.joined[s.ID()] {
		h.leaveLocked(s.ID(), channel)
	}
	delete(h.joined, s.ID())
	delete(h.sessions, s.ID())
	metrics.WSConnections.Set(float64(len(h.sessions)))
}

func (h *Hub) Join(s *Session, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[s.ID()]; !ok {
		return
	}
	members, ok := h.channels[channel]
	if !ok {
		members = make(map[string]*Session)
		h.channels[channel] = members
	}
	members[s.ID()] = s
	h.joined[s.ID()][channel] = struct{}{}
}

func (h *Hub) Leave(s *Session, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(s.ID(), channel)
}

func (h *Hub) leaveLocked(connID, channel string) {
	if members, ok := h.channels[channel]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.channels, channel)
		}
	}
	if joined, ok := h.joined[connID]; ok {
		delete(joined, channel)
	}
}

// InChannel - подписана ли сессия на канал
func (h *Hub) InChannel(s *Session, channel string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.channels[channel][s.ID()]
	return ok
}

func (h *Hub) ToRoom(roomID uuid.UUID, event string, payload any, exceptConnID string) {
	h.publish(roomChannel(roomID), event, payload, exceptConnID)
}

func (h *Hub) ToAgents(businessID, event string, payload any) {
	h.publish(agentsChannel(businessID), event, payload, "")
}

func (h *Hub) ToAgent(agentID, event string, payload any) int {
	return h.registry.Deliver(agentID, event, payload)
}

func (h *Hub) publish(channel, event string, payload any, exceptConnID string) {
	data, err := encodeFrame(Frame{Event: event, Data: payload})
	if err != nil {
		h.log.Error("Failed to encode broadcast", "error", err, "event", event, "channel", channel)
		return
	}

	h.mu.RLock()
	targets := make([]*Session, 0, len(h.channels[channel]))
	for id, s := range h.channels[channel] {
		if id != exceptConnID {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	// enqueue может закрыть медленную сессию, поэтому вне блокировки
	for _, s := range targets {
		_ = s.enqueue(data)
	}
}

// Close закрывает все сессии при остановке сервера
func (h *Hub) Close() {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.sessions = make(map[string]*Session)
	h.channels = make(map[string]map[string]*Session)
	h.joined = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	h.registry.Reset()
	metrics.WSConnections.Set(0)
	h.log.Info("Websocket hub closed", "sessions", len(sessions))
}
