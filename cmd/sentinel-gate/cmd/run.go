package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tapwire/gateway/internal/config"
)

var runCmd = &cobra.Command{
	Use:   "run -- <command> [args...]",
	Short: "Spawn a forward-proxy session around a child MCP server",
	Long: `Run spawns the given command as a child MCP server and wraps it in a
forward-proxy session: SentinelGate sits between this process's own
stdin/stdout and the child's, applying the same validation, audit, and rule
interceptor chain as "start" would for a reverse-proxied upstream.

Unlike "start", "run" does not persist its upstream to state.json — the
child's lifetime is scoped to this command, making it suitable for embedding
directly in an MCP client's server config (e.g. a Claude Desktop or Claude
Code mcpServers entry).

Examples:
  # Wrap a filesystem MCP server
  sentinel-gate run -- npx @modelcontextprotocol/server-filesystem /tmp

  # Wrap a Python MCP server with a custom rule file
  sentinel-gate --config ./sentinelgate.yaml run -- python mcp_server.py`,
	RunE:               runForwardProxy,
	Args:               cobra.ArbitraryArgs,
	DisableFlagParsing: false,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// runForwardProxy wires the given command up as a forward-proxy session: the
// same interceptor chain and tool discovery/upstream machinery as "start",
// but scoped to a single ephemeral upstream and always on stdio transport.
func runForwardProxy(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("no command specified; usage: sentinel-gate run -- <command> [args...]")
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
	logger.Info("spawning forward-proxy session", "command", args[0], "args", args[1:])

	statePath, cleanup, err := ephemeralStatePath()
	if err != nil {
		return fmt.Errorf("failed to prepare ephemeral state: %w", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()

	return runProxy(ctx, cfg, statePath, true, "", logger)
}

// ephemeralStatePath creates a scratch state.json under the OS temp dir for a
// single "run" invocation, along with a cleanup func that removes it.
func ephemeralStatePath() (string, func(), error) {
	dir, err := os.MkdirTemp("", "sentinelgate-run-*")
	if err != nil {
		return "", nil, err
	}
	path := filepath.Join(dir, "state.json")
	cleanup := func() { os.RemoveAll(dir) }
	return path, cleanup, nil
}

// readPIDFile reads a PID from the given file path. Returns 0 if unreadable.
func readPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
