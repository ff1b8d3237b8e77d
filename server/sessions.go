package server

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/chazu/ember/vm"
)

// Session is an interactive environment with its own globals, pinned
// values and captured print output. Its Env, Handles and Output are only
// touched on the worker goroutine.
type Session struct {
	ID      string
	Name    string
	Env     *vm.Env
	Handles *HandleStore
	Output  *bytes.Buffer

	created  time.Time
	lastUsed time.Time
}

// SessionStore manages sessions.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	cfg      vm.Config
	handleID atomic.Uint64
}

// NewSessionStore creates a session store. Each session environment is
// configured from cfg; its natives follow the core natives, whose print
// writes to the session output.
func NewSessionStore(cfg vm.Config) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		cfg:      cfg,
	}
}

// newEnv builds a fresh interactive environment writing to out.
func (s *SessionStore) newEnv(out *bytes.Buffer) (*vm.Env, error) {
	cfg := s.cfg
	cfg.Heap = nil
	cfg.StackBuffer = nil
	cfg.Image = nil
	cfg.Natives = append(vm.CoreNatives(out), s.cfg.Natives...)
	return vm.New(vm.ModeInteractive, cfg)
}

// Create creates a new session with an optional name.
func (s *SessionStore) Create(name string) (*Session, error) {
	out := &bytes.Buffer{}
	env, err := s.newEnv(out)
	if err != nil {
		return nil, fmt.Errorf("creating session environment: %w", err)
	}

	now := time.Now()
	session := &Session{
		ID:       uuid.NewString(),
		Name:     name,
		Env:      env,
		Handles:  NewHandleStore(env, &s.handleID),
		Output:   out,
		created:  now,
		lastUsed: now,
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	log.Infof("created session %s", session.ID)
	return session, nil
}

// Get retrieves a session by ID and marks it used.
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if ok {
		session.lastUsed = time.Now()
	}
	return session, ok
}

// Reset replaces a session's environment, dropping its globals and
// handles. The session keeps its ID.
func (s *SessionStore) Reset(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q not found", id)
	}
	out := &bytes.Buffer{}
	env, err := s.newEnv(out)
	if err != nil {
		return nil, fmt.Errorf("creating session environment: %w", err)
	}
	session.Env = env
	session.Handles = NewHandleStore(env, &s.handleID)
	session.Output = out
	session.lastUsed = time.Now()
	log.Infof("reset session %s", id)
	return session, nil
}

// Destroy removes a session. Its environment becomes garbage.
func (s *SessionStore) Destroy(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok
}

// Len returns the number of sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep removes sessions that haven't been used within the TTL.
func (s *SessionStore) Sweep(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for id, session := range s.sessions {
		if session.lastUsed.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		log.Infof("swept %d idle sessions", removed)
	}
	return removed
}

// StartSweeper runs periodic TTL sweeps in the background.
// Returns a stop function.
func (s *SessionStore) StartSweeper(interval, ttl time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				s.Sweep(ttl)
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}
