package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// DefaultIdleTimeout is the default duration a session may sit idle before
// ReapIdle terminates it.
const DefaultIdleTimeout = 30 * time.Minute

// Config holds session manager configuration.
type Config struct {
	// IdleTimeout is the duration of inactivity after which a session is
	// eligible for reaping. Default: 30 minutes.
	IdleTimeout time.Duration
}

// Manager owns the session lifecycle: creation, frame recording, protocol
// version negotiation tracking, and idle reaping.
type Manager struct {
	store       SessionStore
	idleTimeout time.Duration
}

// NewManager creates a new session Manager with the given store and config.
func NewManager(store SessionStore, cfg Config) *Manager {
	timeout := cfg.IdleTimeout
	if timeout == 0 {
		timeout = DefaultIdleTimeout
	}
	return &Manager{store: store, idleTimeout: timeout}
}

// GetOrCreate returns the existing session for id, or creates a new Pending
// session bound to the given transport if id is empty or unknown. The
// returned session's ID should be echoed back to the client (e.g. as the
// Mcp-Session-Id header) so subsequent requests can rejoin it.
func (m *Manager) GetOrCreate(ctx context.Context, id string, transport TransportType) (*Session, error) {
	if id != "" {
		sess, err := m.store.Get(ctx, id)
		if err == nil {
			return sess, nil
		}
		if err != ErrSessionNotFound {
			return nil, err
		}
	}

	newID, err := GenerateSessionID()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	sess := &Session{
		ID:            newID,
		TransportType: transport,
		State:         StatePending,
		Capabilities:  make(map[string]interface{}),
		CreatedAt:     now,
		LastActivity:  now,
	}
	if err := m.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// Get retrieves a session by ID without creating one.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	return m.store.Get(ctx, id)
}

// Terminate moves a session to State Terminated and removes it from the
// store. Safe to call on an already-terminated or unknown session.
func (m *Manager) Terminate(ctx context.Context, id string) error {
	sess, err := m.store.Get(ctx, id)
	if err == ErrSessionNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	sess.State = StateTerminated
	_ = m.store.Update(ctx, sess)
	return m.store.Delete(ctx, id)
}

// SetProtocolVersion records the negotiated protocol version and client
// capabilities from an initialize request, and advances the session state
// from Pending to Initializing.
func (m *Manager) SetProtocolVersion(ctx context.Context, id, version string, capabilities map[string]interface{}) error {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	sess.ProtocolVersion = version
	if capabilities != nil {
		sess.Capabilities = capabilities
	}
	if sess.State == StatePending {
		sess.State = StateInitializing
	}
	return m.store.Update(ctx, sess)
}

// Activate transitions a session to Active, called once the initialize
// handshake completes (the `initialized` notification, or the first
// successful non-initialize response).
func (m *Manager) Activate(ctx context.Context, id string) error {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	sess.State = StateActive
	return m.store.Update(ctx, sess)
}

// RecordFrame appends a FrameRef to the session's frame log, assigns it the
// next monotonic frame ID, and bumps LastActivity. It returns the assigned
// frame ID so the caller can correlate it with the recorder's tape entry.
func (m *Manager) RecordFrame(ctx context.Context, id, direction, method string) (uint64, error) {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	sess.nextFrameID++
	frameID := sess.nextFrameID
	now := time.Now().UTC()
	sess.FrameLog = append(sess.FrameLog, FrameRef{
		FrameID:   frameID,
		Direction: direction,
		Method:    method,
		Timestamp: now,
	})
	sess.LastActivity = now
	if err := m.store.Update(ctx, sess); err != nil {
		return 0, fmt.Errorf("record frame: %w", err)
	}
	return frameID, nil
}

// ReapIdle terminates every session that has been idle for longer than the
// manager's configured idle timeout, returning the IDs terminated.
func (m *Manager) ReapIdle(ctx context.Context) ([]string, error) {
	sessions, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	var reaped []string
	for _, sess := range sessions {
		if sess.State == StateTerminated {
			continue
		}
		if sess.IsIdle(m.idleTimeout) {
			if err := m.Terminate(ctx, sess.ID); err == nil {
				reaped = append(reaped, sess.ID)
			}
		}
	}
	return reaped, nil
}

// StartReaper launches a goroutine that calls ReapIdle on the given
// interval until ctx is cancelled.
func (m *Manager) StartReaper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = m.ReapIdle(ctx)
			}
		}
	}()
}

// GenerateSessionID creates a cryptographically random session ID.
// Uses crypto/rand for unpredictability. Returns 64 hex characters (32 bytes).
func GenerateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session ID: %w", err)
	}
	return hex.EncodeToString(b), nil
}
