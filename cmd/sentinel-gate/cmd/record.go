package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tapwire/gateway/internal/adapter/outbound/tape"
	tapesqlite "github.com/tapwire/gateway/internal/adapter/outbound/tape/sqlite"
	"github.com/tapwire/gateway/internal/config"
	"github.com/tapwire/gateway/internal/domain/recorder"
)

var recordCmd = &cobra.Command{
	Use:   "record -- <command> [args...]",
	Short: "Spawn a forward-proxy session and capture every frame to a tape",
	Long: `Record runs the same forward-proxy session as "run", but additionally
captures every frame (both directions, before and after the interceptor
chain) to a tape file under tape.dir. Once the session ends, the tape's
metadata is registered in the sqlite tape index so it shows up in
"sentinel-gate tapes list".

Example:
  sentinel-gate record -- npx @modelcontextprotocol/server-filesystem /tmp`,
	RunE:               runRecord,
	Args:               cobra.ArbitraryArgs,
	DisableFlagParsing: false,
}

func init() {
	rootCmd.AddCommand(recordCmd)
}

func runRecord(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("no command specified; usage: sentinel-gate record -- <command> [args...]")
	}

	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Upstream.Command = args[0]
	cfg.Upstream.Args = args[1:]
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))

	if err := os.MkdirAll(cfg.Tape.Dir, 0755); err != nil {
		return fmt.Errorf("create tape dir %s: %w", cfg.Tape.Dir, err)
	}
	tapeID := uuid.New().String()
	tapePath := filepath.Join(cfg.Tape.Dir, tapeID+".tape")
	startedAt := time.Now().UTC()

	statePath, cleanup, err := ephemeralStatePath()
	if err != nil {
		return fmt.Errorf("failed to prepare ephemeral state: %w", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()

	logger.Info("recording session", "command", args[0], "tape", tapePath)
	runErr := runProxy(ctx, cfg, statePath, true, tapePath, logger)

	if err := registerTape(cfg, tapeID, tapePath, startedAt); err != nil {
		logger.Error("failed to register tape in index", "error", err)
	}

	return runErr
}

// registerTape writes the finalized tape's metadata into the sqlite index
// so "tapes list"/"tapes inspect" can find it without scanning tape.dir.
func registerTape(cfg *config.OSSConfig, tapeID, tapePath string, startedAt time.Time) error {
	idx, err := tapesqlite.Open(cfg.Tape.IndexPath)
	if err != nil {
		return fmt.Errorf("open tape index: %w", err)
	}
	defer idx.Close()

	meta := recorder.TapeMetadata{
		TapeID:          tapeID,
		ProtocolVersion: "2025-06-18",
		TransportType:   "stdio",
		CreatedAt:       startedAt,
	}
	if res, err := tape.Read(tapePath); err == nil {
		meta = res.Metadata
	}
	meta.DurationMs = time.Since(startedAt).Milliseconds()

	return idx.Register(context.Background(), tapesqlite.TapeEntry{
		TapeMetadata: meta,
		Path:         tapePath,
	})
}
