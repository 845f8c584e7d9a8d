package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/drawbridge-ai/drawbridge/internal/session"
	"github.com/drawbridge-ai/drawbridge/internal/store"
	"github.com/drawbridge-ai/drawbridge/internal/streaming"
)

// RendererBridge is the sync-protocol surface the HTTP layer feeds:
// renderer messages in, export replies attributed against their pending
// expectations.
type RendererBridge interface {
	HandleMessage(ctx context.Context, sessionID, origin string, raw []byte) error
	HandleExportReply(ctx context.Context, sessionID, data string) error
}

// ServerDeps holds the dependencies for the HTTP surface.
type ServerDeps struct {
	Sessions       *session.Manager
	History        store.HistoryStore
	Hub            streaming.EventHub
	Bridge         RendererBridge
	Logger         *slog.Logger
	Addr           string
	AllowedOrigins []string
}

// Server is the renderer-facing HTTP surface: session state exchange,
// history browsing and restore, and an SSE stream of session events.
type Server struct {
	deps ServerDeps
	srv  *http.Server
}

// NewServer creates a Server.
func NewServer(deps ServerDeps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if deps.Addr == "" {
		deps.Addr = ":6002"
	}
	return &Server{deps: deps}
}

// Router builds the gin engine with all routes mounted.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(s.deps.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = s.deps.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", s.handleHealth)

	api := router.Group("/api")
	{
		api.GET("/state", s.handleGetState)
		api.POST("/state", s.handlePostState)
		api.POST("/renderer", s.handleRendererMessage)
		api.GET("/history", s.handleListHistory)
		api.POST("/restore", s.handleRestore)
		api.POST("/history-svg", s.handleHistorySVG)
	}

	router.GET("/sse/sessions/:id", s.handleSSESession)

	return router
}

// Start begins serving in the calling goroutine until the listener fails
// or Shutdown is called.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:              s.deps.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.deps.Logger.Info("http server listening", slog.String("addr", s.deps.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
