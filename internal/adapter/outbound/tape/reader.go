package tape

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/tapwire/gateway/internal/domain/recorder"
)

// ReadResult holds a fully parsed tape: its header, metadata, and every
// frame from the batches that passed checksum validation.
type ReadResult struct {
	Version  int
	Metadata recorder.TapeMetadata
	Frames   []recorder.Frame
	// Truncated is true if a batch failed to parse or failed its checksum
	// and it and every later batch were discarded, per spec.md's "readers
	// must tolerate trailing partial records" requirement.
	Truncated bool
}

// Read parses a tape file, tolerating a corrupt trailing batch: batches are
// read in order until one fails to parse or fails its checksum; that batch
// and every line after it are dropped and Truncated is set, but the frames
// before it are returned.
func Read(path string) (*ReadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tape file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	result := &ReadResult{}

	if !scanner.Scan() {
		return nil, fmt.Errorf("tape file empty or unreadable: %w", scanner.Err())
	}
	var header struct {
		TapeVersion int `json:"tape_version"`
	}
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
		return nil, fmt.Errorf("parse tape header: %w", err)
	}
	result.Version = header.TapeVersion

	if !scanner.Scan() {
		return nil, fmt.Errorf("tape file missing metadata: %w", scanner.Err())
	}
	if err := json.Unmarshal(scanner.Bytes(), &result.Metadata); err != nil {
		return nil, fmt.Errorf("parse tape metadata: %w", err)
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		var rec batchRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			result.Truncated = true
			break
		}
		payload, err := json.Marshal(rec.Frames)
		if err != nil {
			result.Truncated = true
			break
		}
		if xxhash.Sum64(payload) != rec.Checksum {
			result.Truncated = true
			break
		}
		result.Frames = append(result.Frames, rec.Frames...)
	}
	if err := scanner.Err(); err != nil {
		result.Truncated = true
	}

	return result, nil
}
