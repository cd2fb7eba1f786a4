package tape

import (
	"context"
	"fmt"
	"time"

	"github.com/tapwire/gateway/internal/domain/recorder"
	"github.com/tapwire/gateway/pkg/mcp"
)

// Replayer implements recorder.Replayer by walking a parsed tape's frame
// log and re-emitting ServerToClient frames to a sink, honoring recorded
// inter-frame delay scaled by a speed factor.
type Replayer struct {
	frames []recorder.Frame
}

// NewReplayer loads path and returns a Replayer over its frame log.
func NewReplayer(path string) (*Replayer, error) {
	result, err := Read(path)
	if err != nil {
		return nil, err
	}
	return &Replayer{frames: result.Frames}, nil
}

// Replay re-emits ServerToClient frames in order. If afterEventID is
// non-empty, playback starts with the frame right after the one whose
// EventID equals it (the SSE Last-Event-Id resume contract); if no frame
// has that EventID, Replay returns ErrEventIDNotFound.
func (r *Replayer) Replay(ctx context.Context, sink recorder.FrameSink, afterEventID string, speed float64) error {
	if speed <= 0 {
		speed = 1.0
	}

	startIdx := 0
	if afterEventID != "" {
		found := false
		for i, f := range r.frames {
			if f.EventID == afterEventID {
				startIdx = i + 1
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %s", ErrEventIDNotFound, afterEventID)
		}
	}

	var lastTS time.Time
	for i := startIdx; i < len(r.frames); i++ {
		frame := r.frames[i]
		if frame.Direction != mcp.ServerToClient {
			continue
		}

		if !lastTS.IsZero() {
			gap := frame.TimestampWall.Sub(lastTS)
			if gap > 0 {
				scaled := time.Duration(float64(gap) / speed)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		lastTS = frame.TimestampWall

		if err := sink.EmitFrame(ctx, frame); err != nil {
			return fmt.Errorf("emit frame %d: %w", frame.FrameID, err)
		}
	}
	return nil
}

// ErrEventIDNotFound is returned when a replay's Last-Event-Id resume point
// cannot be located in the tape's frames. It is returned as a wrapped Go
// error; nothing in this package maps it to an HTTP status.
var ErrEventIDNotFound = fmt.Errorf("tape: event id not found in buffer")
