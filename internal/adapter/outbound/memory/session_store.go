// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tapwire/gateway/internal/domain/session"
)

// DefaultCleanupInterval is the default interval at which the background
// sweep checks for idle sessions.
const DefaultCleanupInterval = 1 * time.Minute

// MemorySessionStore implements session.SessionStore with an in-memory map.
// Thread-safe for concurrent access. For development/single-node deployments;
// a restart loses all sessions. Background cleanup goroutine removes sessions
// that have been idle past idleTimeout, independent of Manager.ReapIdle (which
// calls List/Terminate explicitly); this is a belt-and-suspenders sweep so a
// store used without a running Manager reaper doesn't grow unbounded.
type MemorySessionStore struct {
	sessions        map[string]*session.Session
	mu              sync.RWMutex
	stopChan        chan struct{}
	wg              sync.WaitGroup
	cleanupInterval time.Duration
	idleTimeout     time.Duration
	once            sync.Once // Prevent double-close panic on Stop()
}

// NewSessionStore creates a new in-memory session store with default cleanup
// interval and idle timeout.
func NewSessionStore() *MemorySessionStore {
	return NewSessionStoreWithConfig(DefaultCleanupInterval, session.DefaultIdleTimeout)
}

// NewSessionStoreWithConfig creates a new in-memory session store with a
// custom cleanup interval and idle timeout.
func NewSessionStoreWithConfig(cleanupInterval, idleTimeout time.Duration) *MemorySessionStore {
	return &MemorySessionStore{
		sessions:        make(map[string]*session.Session),
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
		idleTimeout:     idleTimeout,
	}
}

// StartCleanup starts the background cleanup goroutine. It periodically
// removes sessions idle past idleTimeout. Call Stop() to stop it gracefully.
func (s *MemorySessionStore) StartCleanup(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.cleanup()
			}
		}
	}()
}

// cleanup removes all idle sessions from the store.
func (s *MemorySessionStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0
	for id, sess := range s.sessions {
		if sess.IsIdle(s.idleTimeout) {
			delete(s.sessions, id)
			cleaned++
		}
	}

	if cleaned > 0 {
		slog.Debug("cleaned idle sessions", "count", cleaned)
	}
}

// Stop stops the background cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (s *MemorySessionStore) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Create stores a new session.
func (s *MemorySessionStore) Create(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sess.ID] = copySession(sess)
	return nil
}

// Get retrieves a session by ID. Returns session.ErrSessionNotFound if the
// session doesn't exist. Idle sessions are still returned here; idle reaping
// is Manager.ReapIdle's and cleanup()'s job, not Get's.
func (s *MemorySessionStore) Get(ctx context.Context, id string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return copySession(sess), nil
}

// Update saves changes to an existing session.
func (s *MemorySessionStore) Update(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; !ok {
		return session.ErrSessionNotFound
	}

	s.sessions[sess.ID] = copySession(sess)
	return nil
}

// Delete removes a session. Deleting an unknown session is not an error.
func (s *MemorySessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

// List returns a copy of every session currently stored.
func (s *MemorySessionStore) List(ctx context.Context) ([]*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, copySession(sess))
	}
	return out, nil
}

// Size returns the number of sessions currently stored. Useful for testing
// cleanup behavior.
func (s *MemorySessionStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// copySession creates a deep copy of a session so stored and returned
// sessions never alias caller-held pointers.
func copySession(sess *session.Session) *session.Session {
	sessCopy := *sess
	sessCopy.Capabilities = make(map[string]interface{}, len(sess.Capabilities))
	for k, v := range sess.Capabilities {
		sessCopy.Capabilities[k] = v
	}
	sessCopy.FrameLog = make([]session.FrameRef, len(sess.FrameLog))
	copy(sessCopy.FrameLog, sess.FrameLog)
	if sess.Auth.Extra != nil {
		sessCopy.Auth.Extra = make(map[string]string, len(sess.Auth.Extra))
		for k, v := range sess.Auth.Extra {
			sessCopy.Auth.Extra[k] = v
		}
	}
	return &sessCopy
}

// Compile-time interface verification.
var _ session.SessionStore = (*MemorySessionStore)(nil)
