package proxy

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tapwire/gateway/internal/domain/recorder"
	"github.com/tapwire/gateway/pkg/mcp"
)

// TapeInterceptor records every frame that crosses it, both inbound (before
// the rest of the chain runs) and outbound (the result the chain produces),
// then passes through unchanged. Chain order: Tape -> Validation -> Audit ->
// Rule -> UpstreamRouter, so a recorded tape captures a session exactly as
// offered to the rest of the pipeline, including frames later blocked or
// modified by a rule.
type TapeInterceptor struct {
	rec       recorder.Recorder
	next      MessageInterceptor
	logger    *slog.Logger
	startedAt time.Time
	frameSeq  atomic.Uint64
}

// NewTapeInterceptor wraps next with frame recording against rec. startedAt
// is the session's reference point for each frame's delta_ms.
func NewTapeInterceptor(rec recorder.Recorder, next MessageInterceptor, logger *slog.Logger, startedAt time.Time) *TapeInterceptor {
	return &TapeInterceptor{rec: rec, next: next, logger: logger, startedAt: startedAt}
}

func (t *TapeInterceptor) Intercept(ctx context.Context, msg *mcp.Message) (*mcp.Message, error) {
	t.recordFrame(ctx, msg, recorder.EdgeTransportIn, false)

	result, err := t.next.Intercept(ctx, msg)
	if err != nil {
		return result, err
	}
	if result != nil {
		t.recordFrame(ctx, result, recorder.EdgeTransportOut, result != msg)
	}
	return result, err
}

func (t *TapeInterceptor) recordFrame(ctx context.Context, msg *mcp.Message, edge recorder.Edge, synthetic bool) {
	now := time.Now()
	frame := recorder.Frame{
		FrameID:       t.frameSeq.Add(1),
		SessionID:     msg.SessionID,
		Direction:     msg.Direction,
		Edge:          edge,
		TimestampWall: now,
		DeltaMs:       now.Sub(t.startedAt).Milliseconds(),
		Synthetic:     synthetic,
		Envelope:      msg.Raw,
	}
	if err := t.rec.Record(ctx, frame); err != nil && t.logger != nil {
		t.logger.Error("tape record failed", "error", err, "session_id", msg.SessionID)
	}
}

// Compile-time check that TapeInterceptor implements MessageInterceptor.
var _ MessageInterceptor = (*TapeInterceptor)(nil)
