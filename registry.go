package main

import (
	"fmt"
	"sync"
	"time"
)

// reapInterval is the reaping cadence from §3/§4.4.
const reapInterval = 30 * time.Second

// Registry is the concurrent, named map of live sessions (§3/§4.4/§9).
// All operations serialize under a single mutex; the mutex is never
// held across an I/O operation on a session — callers copy out the
// *Session handle, release the lock, then use the handle.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create spawns a new session under the given or auto-assigned name.
// If name is empty, the first unused "session-<n>" is assigned,
// probing n = 1, 2, ... (§4.4/§8).
func (r *Registry) Create(name string, argv []string, rows, cols int) (*Session, error) {
	r.mu.Lock()
	if name == "" {
		for n := 1; ; n++ {
			candidate := fmt.Sprintf("session-%d", n)
			if _, exists := r.sessions[candidate]; !exists {
				name = candidate
				break
			}
		}
	} else if _, exists := r.sessions[name]; exists {
		r.mu.Unlock()
		return nil, &AlreadyExistsError{Name: name}
	}
	r.mu.Unlock()

	sess, err := spawn(name, argv, rows, cols)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, exists := r.sessions[name]; exists {
		// Lost a race against a concurrent Create with the same
		// explicit name between the unlock above and this lock.
		r.mu.Unlock()
		sess.Kill()
		return nil, &AlreadyExistsError{Name: name}
	}
	r.sessions[name] = sess
	r.mu.Unlock()

	return sess, nil
}

// Lookup returns the named session's handle without holding the
// registry lock across any subsequent I/O on it.
func (r *Registry) Lookup(name string) (*Session, error) {
	r.mu.Lock()
	sess, ok := r.sessions[name]
	r.mu.Unlock()
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return sess, nil
}

// List returns a snapshot of every known session's info, in no
// particular order (§4.4).
func (r *Registry) List() []SessionInfo {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	return out
}

// Kill signals the named session's kill sink. Returns success even if
// the child has already exited, provided the name existed (§4.4).
func (r *Registry) Kill(name string) error {
	sess, err := r.Lookup(name)
	if err != nil {
		return err
	}
	sess.Kill()
	return nil
}

// Reap removes every entry whose session has gone dead. Runs on the
// 30s cadence from RunReaper and on demand at shutdown (§4.4).
func (r *Registry) Reap() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for name, s := range r.sessions {
		if !s.IsAlive() {
			delete(r.sessions, name)
			n++
		}
	}
	return n
}

// RunReaper runs Reap on a fixed cadence until stop is closed.
func (r *Registry) RunReaper(stop <-chan struct{}) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Reap()
		case <-stop:
			return
		}
	}
}

// KillAll signals every session's kill sink. Used at shutdown.
func (r *Registry) KillAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Kill()
	}
}
