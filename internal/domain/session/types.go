// Package session tracks MCP proxy sessions across their lifetime: the
// negotiated protocol version and capabilities, the transport they arrived
// on, their recorded frame history, and authentication state.
package session

import "time"

// TransportType identifies which transport a session is bound to.
type TransportType string

const (
	TransportStdio           TransportType = "stdio"
	TransportStreamableHTTP  TransportType = "streamable_http"
)

// State is the session lifecycle state machine: Pending -> Initializing ->
// Active -> Terminated. A session starts Pending when the transport accepts
// a connection, moves to Initializing once the first `initialize` request
// is observed, becomes Active once the `initialized` notification (or the
// first successful response) completes the handshake, and is Terminated
// on transport close, explicit termination, or idle reaping.
type State int

const (
	StatePending State = iota
	StateInitializing
	StateActive
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// AuthState holds the opaque authentication context attached to a session,
// e.g. the API key or bearer token extracted during handshake. The proxy
// does not interpret its contents; it is carried for interceptors that do.
type AuthState struct {
	Authenticated bool
	Principal     string
	Extra         map[string]string
}

// FrameRef is a pointer into the session's recorded frame log: enough to
// look a frame up in the recorder without holding the frame body in memory.
type FrameRef struct {
	FrameID   uint64
	Direction string
	Method    string
	Timestamp time.Time
}

// Session is the proxy's view of one client<->upstream conversation.
type Session struct {
	// ID is a cryptographically random identifier, 32 bytes hex-encoded.
	ID string

	// TransportType is the transport this session was created on.
	TransportType TransportType

	// ProtocolVersion is the MCP protocol version negotiated during
	// initialize. Empty until SetProtocolVersion is called.
	ProtocolVersion string

	// Capabilities caches the client's declared capabilities from the
	// initialize request, keyed by capability name.
	Capabilities map[string]interface{}

	// State is the current lifecycle state.
	State State

	// FrameLog is the ordered list of frames recorded for this session.
	// Frame bodies live in the recorder; this is index metadata only.
	FrameLog []FrameRef

	// nextFrameID is the monotonic counter handed out by RecordFrame.
	nextFrameID uint64

	// Auth holds the session's authentication context.
	Auth AuthState

	// CreatedAt is when the session was created (UTC).
	CreatedAt time.Time
	// LastActivity is the last time a frame was recorded (UTC).
	LastActivity time.Time
}

// IsIdle reports whether the session has had no activity for at least
// the given duration.
func (s *Session) IsIdle(timeout time.Duration) bool {
	return time.Now().UTC().Sub(s.LastActivity) >= timeout
}
