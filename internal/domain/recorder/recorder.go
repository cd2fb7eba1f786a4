// Package recorder defines the tape recording/replay domain: ordered,
// timestamped frame logs captured from a proxied MCP session and the
// contract for replaying them back to a connected client.
package recorder

import (
	"context"
	"errors"
	"time"

	"github.com/tapwire/gateway/pkg/mcp"
)

// Edge identifies which side of a transport a frame crossed.
type Edge string

const (
	// EdgeTransportIn marks a frame as it arrives off a transport, before
	// interceptors run.
	EdgeTransportIn Edge = "transport_in"
	// EdgeTransportOut marks a frame as it is written back to a transport,
	// after interceptors run.
	EdgeTransportOut Edge = "transport_out"
)

// Frame is one persisted entry in a tape: an envelope plus the timing and
// transport metadata needed to deterministically re-emit it later.
type Frame struct {
	FrameID        uint64       `json:"frame_id"`
	SessionID      string       `json:"session_id"`
	Direction      mcp.Direction `json:"direction"`
	Edge           Edge         `json:"edge"`
	TimestampWall  time.Time    `json:"timestamp_wall"`
	DeltaMs        int64        `json:"delta_ms"`
	Synthetic      bool         `json:"synthetic"`
	Envelope       []byte       `json:"envelope"`
	EventID        string       `json:"event_id,omitempty"`
}

// TapeMetadata is the header object written once per tape, before its frame
// log, and mirrored into the sqlite index for fast listing.
type TapeMetadata struct {
	TapeID           string    `json:"tape_id"`
	SessionID        string    `json:"session_id"`
	ProtocolVersion  string    `json:"protocol_version"`
	TransportType    string    `json:"transport_type"`
	CreatedAt        time.Time `json:"created_at"`
	DurationMs       int64     `json:"duration_ms"`
	ServerCapabilities map[string]interface{} `json:"server_capabilities,omitempty"`
}

// ErrRecorderClosed is returned by Record/Flush once Close has run.
var ErrRecorderClosed = errors.New("recorder: closed")

// Recorder appends frames to a tape. Record is synchronous: a full buffer
// blocks the caller rather than dropping frames, per the no-unbounded-queue
// rule governing every producer in the proxy.
type Recorder interface {
	Record(ctx context.Context, frame Frame) error
	Flush(ctx context.Context) error
	Close() error
}

// Replayer walks a tape's frame log in order, re-emitting ServerToClient
// frames to a sink honoring recorded inter-frame delay scaled by speed.
type Replayer interface {
	// Replay streams frames to sink starting strictly after afterEventID
	// (empty string replays from the beginning). speed scales inter-frame
	// delay; 1.0 reproduces the original timing.
	Replay(ctx context.Context, sink FrameSink, afterEventID string, speed float64) error
}

// FrameSink receives frames during replay.
type FrameSink interface {
	EmitFrame(ctx context.Context, frame Frame) error
}
