// Package cmd provides the CLI commands for Sentinel Gate.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tapwire/gateway/internal/adapter/inbound/http"
	"github.com/tapwire/gateway/internal/adapter/inbound/stdio"
	mcpclient "github.com/tapwire/gateway/internal/adapter/outbound/mcp"
	"github.com/tapwire/gateway/internal/adapter/outbound/audit"
	"github.com/tapwire/gateway/internal/adapter/outbound/cel"
	"github.com/tapwire/gateway/internal/adapter/outbound/memory"
	"github.com/tapwire/gateway/internal/adapter/outbound/rulewatch"
	"github.com/tapwire/gateway/internal/adapter/outbound/state"
	"github.com/tapwire/gateway/internal/adapter/outbound/tape"
	"github.com/tapwire/gateway/internal/config"
	"github.com/tapwire/gateway/internal/domain/proxy"
	"github.com/tapwire/gateway/internal/domain/recorder"
	"github.com/tapwire/gateway/internal/domain/rule"
	"github.com/tapwire/gateway/internal/domain/session"
	"github.com/tapwire/gateway/internal/domain/upstream"
	"github.com/tapwire/gateway/internal/observability"
	"github.com/tapwire/gateway/internal/port/outbound"
	"github.com/tapwire/gateway/internal/service"
)

var startCmd = &cobra.Command{
	Use:   "start [-- command [args...]]",
	Short: "Start the proxy server",
	Long: `Start the Sentinel Gate proxy server.

The proxy can operate in two modes:

1. HTTP mode: Connect to one or more remote MCP servers via HTTP or stdio,
   configured in state.json (or a single upstream via upstream.http/
   upstream.command in the config file).

2. Stdio mode: Spawn an MCP server as a subprocess and speak MCP over this
   process's own stdin/stdout, for use as a command in an MCP client config.
   Configure upstream.command in your config file, or pass a command after --.

Examples:
  # Start with config file settings
  sentinel-gate start

  # Start with a specific MCP server command
  sentinel-gate start -- npx @modelcontextprotocol/server-filesystem /tmp

  # Start with a specific config file
  sentinel-gate --config /path/to/config.yaml start`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging, relaxed validation)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if devMode {
		cfg.DevMode = true
	}

	// Stdio transport is used ONLY when the user explicitly passes "-- command [args]".
	// This is decoupled from cfg.Upstream.Command to avoid Viper contamination issues.
	stdioTransport := len(args) > 0

	if len(args) > 0 {
		cfg.Upstream.Command = args[0]
		if len(args) > 1 {
			cfg.Upstream.Args = args[1:]
		} else {
			cfg.Upstream.Args = nil
		}
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	statePath := stateFilePath
	if statePath == "" {
		statePath = os.Getenv("SENTINEL_GATE_STATE_PATH")
	}
	if statePath == "" {
		statePath = "./state.json"
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", logLevel.String())

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}
	if cfg.DevMode {
		logger.Warn("dev mode enabled: relaxed validation, verbose logging")
	}

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := runProxy(ctx, cfg, statePath, stdioTransport, "", logger); err != nil {
		return err
	}

	logger.Info("sentinel-gate stopped")
	return nil
}

// runProxy is the main orchestration function that wires all components
// together: state, upstreams, tool discovery, the rule engine, and the
// interceptor chain (Tracing -> Tape -> Validation -> Audit -> Rule ->
// UpstreamRouter, with Tape present only when recording),
// then starts the requested inbound transport. When tapePath is non-empty,
// every frame is additionally recorded to that tape file (used by the
// "record" subcommand); start/run pass an empty tapePath to skip recording.
func runProxy(ctx context.Context, cfg *config.OSSConfig, statePath string, stdioTransport bool, tapePath string, logger *slog.Logger) error {
	startTime := time.Now().UTC()

	// ===== Load/create state.json =====
	stateStore := state.NewFileStateStore(statePath, logger)
	appState, err := stateStore.Load()
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}
	if err := stateStore.Save(appState); err != nil {
		return fmt.Errorf("failed to save initial state: %w", err)
	}
	logger.Info("state loaded",
		"path", statePath,
		"upstreams", len(appState.Upstreams),
	)

	// ===== Populate in-memory stores =====
	sessionStore := memory.NewSessionStore()
	sessionStore.StartCleanup(ctx)
	defer sessionStore.Stop()

	upstreamStore := memory.NewUpstreamStore()

	// Backward compatibility: if YAML has a single upstream configured and state.json
	// has no upstreams, auto-create an upstream entry in state.json (migration path).
	if cfg.HasYAMLUpstream() && len(appState.Upstreams) == 0 {
		yamlUpstream := migrateYAMLUpstream(cfg)
		appState.Upstreams = append(appState.Upstreams, yamlUpstream)
		if err := stateStore.Save(appState); err != nil {
			return fmt.Errorf("failed to save migrated upstream: %w", err)
		}
		logger.Info("migrated YAML upstream to state.json",
			"name", yamlUpstream.Name,
			"type", yamlUpstream.Type,
		)
	}

	upstreamService := service.NewUpstreamService(upstreamStore, stateStore, logger)
	if err := upstreamService.LoadFromState(ctx, appState); err != nil {
		return fmt.Errorf("failed to load upstreams from state: %w", err)
	}

	sessionTimeout, err := time.ParseDuration(cfg.Server.SessionTimeout)
	if err != nil {
		sessionTimeout = 30 * time.Minute
		logger.Warn("invalid session_timeout, using default",
			"value", cfg.Server.SessionTimeout, "default", "30m")
	}
	sessionManager := session.NewManager(sessionStore, session.Config{IdleTimeout: sessionTimeout})
	sessionManager.StartReaper(ctx, sessionTimeout)

	// ===== Audit persistence =====
	auditStore, err := createAuditStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create audit store: %w", err)
	}
	defer func() { _ = auditStore.Close() }()

	// ===== Upstream connections =====
	clientFactory := defaultClientFactory(cfg)
	manager := service.NewUpstreamManager(upstreamService, clientFactory, logger)
	defer manager.Close()

	if err := manager.StartAll(ctx); err != nil {
		logger.Error("failed to start all upstreams", "error", err)
	}

	statusAll := manager.StatusAll()
	var connectedCount int
	for _, status := range statusAll {
		if status == upstream.StatusConnected {
			connectedCount++
		}
	}
	logger.Info("upstream manager started",
		"total", len(statusAll),
		"connected", connectedCount,
	)

	// ===== Tool discovery =====
	toolCache := upstream.NewToolCache()
	discoveryService := service.NewToolDiscoveryService(upstreamService, toolCache, clientFactory, logger)
	defer discoveryService.Stop()

	if err := discoveryService.DiscoverAll(ctx); err != nil {
		logger.Error("tool discovery failed", "error", err)
	}
	discoveryService.StartPeriodicRetry(ctx)

	toolCount := toolCache.Count()
	logger.Info("tool discovery complete", "tools", toolCount)

	// ===== Rule engine =====
	celEval, err := cel.NewMatchEvaluator()
	if err != nil {
		return fmt.Errorf("create CEL match evaluator: %w", err)
	}
	ruleEngine := rule.NewEngine(celEval, logger)

	var ruleWatcher *rulewatch.Watcher
	if cfg.Rules.File != "" {
		ruleWatcher = rulewatch.New(cfg.Rules.File, ruleEngine, logger)
		if err := ruleWatcher.Load(); err != nil {
			return fmt.Errorf("load rule file %s: %w", cfg.Rules.File, err)
		}
		if cfg.Rules.Watch {
			if err := ruleWatcher.Start(ctx); err != nil {
				return fmt.Errorf("watch rule file %s: %w", cfg.Rules.File, err)
			}
			defer ruleWatcher.Stop()
		}
		logger.Info("rules loaded", "file", cfg.Rules.File, "rules", len(ruleEngine.Active().Rules), "watch", cfg.Rules.Watch)
	}

	// ===== Observability =====
	obsProvider, err := observability.Setup(ctx, cfg.DevMode)
	if err != nil {
		return fmt.Errorf("setup observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obsProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("observability shutdown error", "error", err)
		}
	}()

	// ===== Build interceptor chain =====
	// Chain order (outer to inner): Tracing -> [Tape ->] Validation -> Audit -> Rule -> UpstreamRouter.
	cacheAdapter := proxy.NewToolCacheAdapter(toolCache)
	router := proxy.NewUpstreamRouter(cacheAdapter, manager, logger)
	ruleInterceptor := proxy.NewRuleInterceptor(ruleEngine, nil, router, logger)
	auditInterceptor := proxy.NewAuditInterceptor(auditStore, ruleInterceptor, logger)
	var chain proxy.MessageInterceptor = proxy.NewValidationInterceptor(auditInterceptor, logger)

	if tapePath != "" {
		tapeWriter, err := tape.NewWriter(tapePath, recorder.TapeMetadata{
			TapeID:          uuid.New().String(),
			ProtocolVersion: "2025-06-18",
			TransportType:   transportTypeLabel(stdioTransport),
			CreatedAt:       startTime,
		}, logger)
		if err != nil {
			return fmt.Errorf("open tape file %s: %w", tapePath, err)
		}
		defer func() { _ = tapeWriter.Close() }()
		chain = proxy.NewTapeInterceptor(tapeWriter, chain, logger, startTime)
		logger.Info("recording tape", "path", tapePath)
	}

	chain = proxy.NewTracingInterceptor(obsProvider.Tracer(), obsProvider.FramesProcessed, obsProvider.FrameLatency, chain)

	// Single ProxyService, used in router-only mode so the same chain serves
	// both single-upstream (stdio "--" command) and multi-upstream deployments.
	proxyService := service.NewProxyService(nil, chain, logger)

	_ = sessionManager // session lifecycle is driven by the inbound transports; kept alive for reaping.
	_ = startTime

	if stdioTransport {
		transport := stdio.NewStdioTransport(proxyService)
		logger.Info("starting stdio transport")
		return transport.Start(ctx)
	}

	healthChecker := http.NewHealthChecker(sessionStore, manager, Version)
	httpAddr := cfg.Server.HTTPAddr
	transport := http.NewHTTPTransport(proxyService,
		http.WithAddr(httpAddr),
		http.WithLogger(logger),
		http.WithHealthChecker(healthChecker),
	)

	printBanner(Version, httpAddr, cfg.DevMode, len(statusAll), connectedCount, toolCount, len(ruleEngine.Active().Rules))
	logger.Info("starting http transport", "addr", httpAddr)
	return transport.Start(ctx)
}

// transportTypeLabel names the inbound transport for tape metadata.
func transportTypeLabel(stdioTransport bool) string {
	if stdioTransport {
		return "stdio"
	}
	return "http"
}

// defaultClientFactory builds outbound MCP clients for upstreams based on
// their configured transport type.
func defaultClientFactory(cfg *config.OSSConfig) service.ClientFactory {
	return func(u *upstream.Upstream) (outbound.MCPClient, error) {
		switch u.Type {
		case upstream.UpstreamTypeStdio:
			return mcpclient.NewStdioClient(u.Command, u.Args...), nil
		case upstream.UpstreamTypeHTTP:
			httpTimeout, err := time.ParseDuration(cfg.Upstream.HTTPTimeout)
			if err != nil {
				httpTimeout = 30 * time.Second
			}
			return mcpclient.NewHTTPClient(u.URL, mcpclient.WithTimeout(httpTimeout)), nil
		default:
			return nil, fmt.Errorf("unsupported upstream type: %s", u.Type)
		}
	}
}

// migrateYAMLUpstream creates a state.json UpstreamEntry from the YAML config's
// single upstream. This provides backward compatibility for existing users.
func migrateYAMLUpstream(cfg *config.OSSConfig) state.UpstreamEntry {
	now := time.Now().UTC()
	entry := state.UpstreamEntry{
		ID:        uuid.New().String(),
		Name:      "default",
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if cfg.Upstream.HTTP != "" {
		entry.Type = string(upstream.UpstreamTypeHTTP)
		entry.URL = cfg.Upstream.HTTP
	} else {
		entry.Type = string(upstream.UpstreamTypeStdio)
		entry.Command = cfg.Upstream.Command
		entry.Args = cfg.Upstream.Args
	}

	return entry
}

// createAuditStore creates the file-based audit store.
func createAuditStore(cfg *config.OSSConfig, logger *slog.Logger) (*audit.FileAuditStore, error) {
	dir := cfg.AuditFile.Dir
	if dir == "" {
		dir = "./audit"
	}
	fileCfg := cfg.AuditFile
	fileCfg.Dir = dir
	store, err := audit.NewFileAuditStore(fileCfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Debug("audit output: file", "dir", dir, "retention_days", fileCfg.RetentionDays)
	return store, nil
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// printBanner prints a formatted startup banner to stderr with version, addresses,
// mode, and resource counts. Only called in HTTP mode to avoid interfering with
// stdio MCP transport on stdout.
func printBanner(version, httpAddr string, devMode bool, upstreamCount, connectedCount, toolCount, ruleCount int) {
	const (
		reset  = "\033[0m"
		bold   = "\033[1m"
		cyan   = "\033[36m"
		green  = "\033[32m"
		yellow = "\033[33m"
		dim    = "\033[2m"
	)

	proxyURL := fmt.Sprintf("http://localhost%s/mcp", httpAddr)
	if !strings.HasPrefix(httpAddr, ":") {
		proxyURL = fmt.Sprintf("http://%s/mcp", httpAddr)
	}

	modeStr := green + "production" + reset
	if devMode {
		modeStr = yellow + "development" + reset
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  %s%s SentinelGate %s%s\n", bold, cyan, version, reset)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Proxy:", proxyURL)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Mode:", modeStr)
	fmt.Fprintf(os.Stderr, "  %-14s %d connected / %d configured\n", "Upstreams:", connectedCount, upstreamCount)
	fmt.Fprintf(os.Stderr, "  %-14s %d discovered\n", "Tools:", toolCount)
	fmt.Fprintf(os.Stderr, "  %-14s %d active\n", "Rules:", ruleCount)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "\n")
}

// pidFilePath returns the standard location for the SentinelGate PID file.
func pidFilePath() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".sentinelgate", "server.pid")
	}
	return filepath.Join(os.TempDir(), "sentinelgate-server.pid")
}

// writePIDFile writes the current process PID to the given path, creating
// parent directories as needed.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}
