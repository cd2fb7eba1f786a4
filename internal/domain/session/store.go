package session

import (
	"context"
	"errors"
)

// SessionStore provides session persistence.
// This interface is defined in the domain to avoid circular imports.
type SessionStore interface {
	// Create stores a new session.
	Create(ctx context.Context, session *Session) error

	// Get retrieves a session by ID.
	// Returns ErrSessionNotFound if the session doesn't exist.
	Get(ctx context.Context, id string) (*Session, error)

	// Update saves changes to an existing session.
	Update(ctx context.Context, session *Session) error

	// Delete removes a session.
	Delete(ctx context.Context, id string) error

	// List returns every session currently tracked, used by ReapIdle to
	// find sessions that have exceeded their idle timeout.
	List(ctx context.Context) ([]*Session, error)
}

// ErrSessionNotFound is returned when a session doesn't exist.
var ErrSessionNotFound = errors.New("session not found")
