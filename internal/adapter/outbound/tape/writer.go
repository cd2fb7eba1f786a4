// Package tape implements the on-disk tape file format: a versioned,
// append-only log of recorded MCP frames, written in periodically flushed
// batches and checksummed so a reader can detect and truncate a corrupt
// trailing batch instead of refusing the whole file.
package tape

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/tapwire/gateway/internal/domain/recorder"
)

const tapeFormatVersion = 1

// flushInterval and flushBatchSize mirror spec.md's default recorder flush
// policy: every 500ms or 64 frames, whichever comes first.
const (
	flushInterval   = 500 * time.Millisecond
	flushBatchSize  = 64
)

// batchRecord is one newline-delimited JSON line in the tape file: a batch of
// frames plus an xxhash checksum of their encoded bytes, so a reader can
// validate a batch before trusting it.
type batchRecord struct {
	Frames   []recorder.Frame `json:"frames"`
	Checksum uint64           `json:"checksum"`
}

// Writer implements recorder.Recorder against an append-only tape file.
type Writer struct {
	mu        sync.Mutex
	file      *os.File
	buf       *bufio.Writer
	pending   []recorder.Frame
	startedAt time.Time
	closed    bool
	logger    *slog.Logger

	flushCtx    context.Context
	flushCancel context.CancelFunc
	flushDone   chan struct{}
}

// NewWriter creates a new tape file at path, writes the version header and
// metadata object, and starts the periodic flush loop.
func NewWriter(path string, meta recorder.TapeMetadata, logger *slog.Logger) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("create tape file: %w", err)
	}

	buf := bufio.NewWriter(f)
	if err := writeLine(buf, map[string]int{"tape_version": tapeFormatVersion}); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write tape header: %w", err)
	}
	if err := writeLine(buf, meta); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write tape metadata: %w", err)
	}
	if err := buf.Flush(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("flush tape header: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Writer{
		file:        f,
		buf:         buf,
		startedAt:   time.Now(),
		logger:      logger,
		flushCtx:    ctx,
		flushCancel: cancel,
		flushDone:   make(chan struct{}),
	}
	go w.flushLoop()
	return w, nil
}

func writeLine(buf *bufio.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := buf.Write(data); err != nil {
		return err
	}
	return buf.WriteByte('\n')
}

// Record buffers a frame. Record is synchronous with respect to the
// in-memory buffer so a full batch never silently drops frames; it only
// blocks briefly while appending, not while flushing to disk.
func (w *Writer) Record(_ context.Context, frame recorder.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return recorder.ErrRecorderClosed
	}
	w.pending = append(w.pending, frame)
	if len(w.pending) >= flushBatchSize {
		return w.flushLocked()
	}
	return nil
}

// Flush forces any buffered frames to disk.
func (w *Writer) Flush(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return recorder.ErrRecorderClosed
	}
	return w.flushLocked()
}

func (w *Writer) flushLocked() error {
	if len(w.pending) == 0 {
		return nil
	}
	payload, err := json.Marshal(w.pending)
	if err != nil {
		return fmt.Errorf("marshal frame batch: %w", err)
	}
	rec := batchRecord{Frames: w.pending, Checksum: xxhash.Sum64(payload)}
	if err := writeLine(w.buf, rec); err != nil {
		return fmt.Errorf("write frame batch: %w", err)
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush frame batch: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync tape file: %w", err)
	}
	w.pending = w.pending[:0]
	return nil
}

func (w *Writer) flushLoop() {
	defer close(w.flushDone)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.flushCtx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			if err := w.flushLocked(); err != nil && w.logger != nil {
				w.logger.Error("tape periodic flush failed", "error", err)
			}
			w.mu.Unlock()
		}
	}
}

// DurationMs reports elapsed time since the writer was opened.
func (w *Writer) DurationMs() int64 {
	return time.Since(w.startedAt).Milliseconds()
}

// Close flushes remaining frames, stops the flush loop, and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	err := w.flushLocked()
	w.mu.Unlock()

	w.flushCancel()
	<-w.flushDone

	if cerr := w.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
