// Package registry хранит живые сессии агентов в памяти процесса.
// Не персистентен: после рестарта агент появляется здесь только после повторной авторизации.
package registry

import (
	"sync"
)

// Conn - живая сессия, в которую можно отправить событие
type Conn interface {
	ID() string
	Send(event string, payload any) error
}

type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]Conn
}

func New() *Registry {
	return &Registry{sessions: make(map[string]map[string]Conn)}
}

// Register привязывает сессию к агенту. У агента может быть несколько вкладок/устройств.
func (r *Registry) Register(agentID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.sessions[agentID]
	if !ok {
		conns = make(map[string]Conn)
		r.sessions[agentID] = conns
	}
	conns[conn.ID()] = conn
}

// Unregister отвязывает сессию и возвращает число оставшихся сессий агента
func (r *Registry) Unregister(agentID string, conn Conn) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.sessions[agentID]
	if !ok {
		return 0
	}
	delete(conns, conn.ID())
	if len(conns) == 0 {
		delete(r.sessions, agentID)
		return 0
	}
	return len(conns)
}

func (r *Registry) Lookup(agentID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.sessions[agentID]
	out := make([]Conn, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// Deliver отправляет событие во все сессии агента; возвращает число успешных отправок
func (r *Registry) Deliver(agentID, event string, payload any) int {
	delivered := 0
	for _, c := range r.Lookup(agentID) {
		if err := c.Send(event, payload); err == nil {
			delivered++
		}
	}
	return delivered
}

func (r *Registry) IsOnline(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[agentID]) > 0
}

// Len - число агентов с хотя бы одной сессией
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Reset очищает реестр при остановке шлюза
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[string]map[string]Conn)
}
