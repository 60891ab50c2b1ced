package conversation

import (
	"fmt"
	"sync"
	"time"

	"chatsim/internal/domain"
)

// Registry maps session ids to live sessions for the whole process. Control
// events look sessions up here; they never create a second copy.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Get returns the session for id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrSessionNotFound, id)
	}
	return s, nil
}

// Acquire returns the session for id, creating it if needed, marks it as
// running and clears any stop left over from an earlier run. A session admits
// one run at a time: a second Acquire before Release fails with
// domain.ErrSessionBusy.
func (r *Registry) Acquire(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		s = newSession(id)
		r.sessions[id] = s
	}
	if !s.tryAcquire() {
		return nil, domain.NewDomainError("Registry.Acquire", domain.ErrSessionBusy, id)
	}
	s.stop.Store(false)
	s.settled = false
	return s, nil
}

// settle marks the run holding s as past its last stop checkpoint and
// reports whether a stop is pending. Stops requested after settle are
// acknowledged by RequestStop's caller, not by the run.
func (r *Registry) settle(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.settled = true
	return s.StopRequested()
}

// RequestStop sets the stop flag of session id. awaited is true when a run
// holds the session and will still observe the flag at a checkpoint.
func (r *Registry) RequestStop(id string) (s *Session, awaited bool, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false, domain.NewDomainError("Registry.RequestStop", domain.ErrSessionNotFound, id)
	}
	s.RequestStop()
	return s, s.Running() && !s.settled, nil
}

// Release ends the run holding s. A session that never started a
// conversation is forgotten.
func (r *Registry) Release(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.release()
	if !s.started() && r.sessions[s.id] == s {
		delete(r.sessions, s.id)
		return
	}
	s.touch()
}

// ReapStale forgets sessions idle for longer than maxAge and returns how many
// were removed. Running sessions are kept.
func (r *Registry) ReapStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		if s.Running() || !s.idleSince().Before(cutoff) {
			continue
		}
		delete(r.sessions, id)
		n++
	}
	return n
}

// History returns the turn history of id, empty for unknown sessions.
func (r *Registry) History(id string) []domain.TurnRecord {
	s, err := r.Get(id)
	if err != nil {
		return []domain.TurnRecord{}
	}
	return s.History()
}

// Clear forgets session id. A running session cannot be cleared.
func (r *Registry) Clear(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	if s.Running() {
		return domain.NewDomainError("Registry.Clear", domain.ErrSessionBusy,
			fmt.Sprintf("session %q has a conversation in progress", id))
	}
	delete(r.sessions, id)
	return nil
}

// Len returns the number of known sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// RunningCount returns the number of sessions with a run in progress.
func (r *Registry) RunningCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.sessions {
		if s.Running() {
			n++
		}
	}
	return n
}
