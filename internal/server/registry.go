package server

import "sync"

// Registry tracks live sessions in connection order and guarantees that
// exactly one of them is the controller whenever it is non-empty.
type Registry struct {
	mu         sync.Mutex
	sessions   []*Session
	controller *Session
}

func NewRegistry() *Registry { return &Registry{} }

// Add appends s. The first session into an empty registry becomes the
// controller and Add reports true.
func (r *Registry) Add(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions = append(r.sessions, s)
	if r.controller == nil {
		r.controller = s
		s.setRole(RoleController)
		return true
	}
	s.setRole(RoleObserver)
	return false
}

// Remove drops s. If s was the controller the oldest remaining session is
// promoted and returned as next.
func (r *Registry) Remove(s *Session) (next *Session, wasController bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, cur := range r.sessions {
		if cur == s {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false
	}
	r.sessions = append(r.sessions[:idx], r.sessions[idx+1:]...)

	if r.controller != s {
		return nil, false
	}
	r.controller = nil
	if len(r.sessions) > 0 {
		r.controller = r.sessions[0]
		r.controller.setRole(RoleController)
	}
	return r.controller, true
}

// Controller returns the current controller, or nil when empty.
func (r *Registry) Controller() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.controller
}

func (r *Registry) IsController(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.controller == s
}

// Snapshot returns the sessions in connection order.
func (r *Registry) Snapshot() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, len(r.sessions))
	copy(out, r.sessions)
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
