package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/drawbridge-ai/drawbridge/internal/bridge"
	"github.com/drawbridge-ai/drawbridge/internal/diagram"
	"github.com/drawbridge-ai/drawbridge/internal/httpapi"
	"github.com/drawbridge-ai/drawbridge/internal/logging"
	"github.com/drawbridge-ai/drawbridge/internal/session"
	"github.com/drawbridge-ai/drawbridge/internal/store"
	"github.com/drawbridge-ai/drawbridge/internal/streaming"
	"github.com/drawbridge-ai/drawbridge/internal/vision"
	"github.com/drawbridge-ai/drawbridge/pkg/mcp"
)

func main() {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("drawbridge exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// History store: durable when a db path is usable, in-memory otherwise.
	history := openHistory(cfg, logger)
	defer history.Close()

	hub := streaming.NewMemoryHub()

	sessions := session.NewManager(session.ManagerDeps{
		History: history,
		Hub:     hub,
		Logger:  logger,
		TTL:     cfg.sessionTTL(),
		Sweep:   cfg.sweepInterval(),
	})
	if err := sessions.Start(ctx); err != nil {
		return err
	}
	defer sessions.Shutdown()

	// The renderer is reached through the session HTTP surface: pushes are
	// picked up by the hosting page polling /api/state, and renderer
	// messages and export replies come back through POST /api/renderer and
	// POST /api/state. The bridge transport therefore only has to record
	// the push locally.
	br := bridge.NewBridge(bridge.BridgeDeps{
		Sessions:      sessions,
		Transport:     bridge.NoopTransport{},
		Hub:           hub,
		Logger:        logger,
		AllowedOrigin: cfg.RendererOrigin,
		PollInterval:  cfg.pollInterval(),
	})
	go br.Run(ctx)

	httpSrv := httpapi.NewServer(httpapi.ServerDeps{
		Sessions: sessions,
		History:  history,
		Hub:      hub,
		Bridge:   br,
		Logger:   logger,
		Addr:     cfg.ListenAddr,
	})

	var validator vision.Validator
	if cfg.VisionAPIKey != "" {
		validator = vision.NewOpenAIValidator(vision.OpenAIConfig{
			APIKey:  cfg.VisionAPIKey,
			BaseURL: cfg.VisionBaseURL,
			Model:   cfg.VisionModel,
		})
		logger.Info("vision validation enabled", slog.String("model", cfg.VisionModel))
	} else {
		logger.Info("vision validation disabled (no api key configured)")
	}

	mcpSrv := mcp.NewDrawbridgeServer(mcp.DrawbridgeServerDeps{
		Sessions:  sessions,
		Assembler: diagram.NewAssembler(),
		Validator: validator,
		Capture: func(sessionID string) vision.CaptureFunc {
			return br.CaptureFunc(sessionID)
		},
		Logger:            logger,
		ValidationTimeout: cfg.validationTimeout(),
		RetryBudget:       cfg.RetryBudget,
	})
	// Renderer-side saves surface to the attached client as notifications.
	br.SetNotifier(mcp.NewMCPNotifier(mcpSrv.MCPServer(), mcpSrv.Registry()))

	errCh := make(chan error, 2)
	go func() { errCh <- httpSrv.Start() }()
	go func() { errCh <- mcpSrv.Serve(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

func openHistory(cfg Config, logger *slog.Logger) store.HistoryStore {
	if cfg.DBPath == "" {
		return store.NewMemoryStore()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		logger.Warn("history db directory unavailable, using in-memory history", slog.String("error", err.Error()))
		return store.NewMemoryStore()
	}
	s, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		logger.Warn("history db unavailable, using in-memory history", slog.String("error", err.Error()))
		return store.NewMemoryStore()
	}
	if err := s.Migrate(context.Background()); err != nil {
		logger.Warn("history db migration failed, using in-memory history", slog.String("error", err.Error()))
		_ = s.Close()
		return store.NewMemoryStore()
	}
	logger.Info("history db opened", slog.String("path", cfg.DBPath))
	return s
}
