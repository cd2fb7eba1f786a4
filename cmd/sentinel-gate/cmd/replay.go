package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/tapwire/gateway/internal/adapter/outbound/tape"
	"github.com/tapwire/gateway/internal/config"
	"github.com/tapwire/gateway/internal/domain/recorder"
)

var (
	replayLastEventID string
	replaySpeedFlag    float64
)

var replayCmd = &cobra.Command{
	Use:   "replay <tape-file>",
	Short: "Re-emit a recorded tape's server frames to stdout",
	Long: `Replay walks a tape file's frame log in order and writes each
recorded server-to-client frame as a JSON line to stdout, honoring the
original inter-frame delay scaled by --speed. Pass --after to resume replay
strictly after a given event ID, mirroring the reverse proxy's SSE
Last-Event-Id resume contract.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayLastEventID, "after", "", "resume replay strictly after this event ID")
	replayCmd.Flags().Float64Var(&replaySpeedFlag, "speed", 0, "replay speed factor (default from config, 1.0 = original timing)")
	rootCmd.AddCommand(replayCmd)
}

// stdoutFrameSink writes each replayed frame as a JSON line to stdout.
type stdoutFrameSink struct{}

func (stdoutFrameSink) EmitFrame(_ context.Context, frame recorder.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(data))
	return err
}

func runReplay(cmd *cobra.Command, args []string) error {
	tapePath := args[0]

	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.SetDefaults()

	speed := replaySpeedFlag
	if speed <= 0 {
		speed = cfg.Tape.ReplaySpeed
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))

	replayer, err := tape.NewReplayer(tapePath)
	if err != nil {
		return fmt.Errorf("load tape %s: %w", tapePath, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()

	logger.Info("replaying tape", "path", tapePath, "speed", speed, "after", replayLastEventID)
	if err := replayer.Replay(ctx, stdoutFrameSink{}, replayLastEventID, speed); err != nil {
		return fmt.Errorf("replay %s: %w", tapePath, err)
	}
	return nil
}
