package mcp

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/drawbridge-ai/drawbridge/internal/diagram"
	"github.com/drawbridge-ai/drawbridge/internal/session"
	"github.com/drawbridge-ai/drawbridge/internal/vision"
)

// DrawbridgeServerDeps holds the dependencies for creating a DrawbridgeServer.
type DrawbridgeServerDeps struct {
	Sessions  *session.Manager
	Assembler *diagram.Assembler
	Validator vision.Validator // nil disables visual validation
	// Capture builds a per-session PNG capture function. Nil means no
	// renderer capture path is available; validation is then bypassed.
	Capture           func(sessionID string) vision.CaptureFunc
	Logger            *slog.Logger
	ValidationTimeout time.Duration
	RetryBudget       int
}

// DrawbridgeServer wraps an MCP server with the diagram tool handlers.
type DrawbridgeServer struct {
	sessions  *session.Manager
	assembler *diagram.Assembler
	validator vision.Validator
	capture   func(sessionID string) vision.CaptureFunc
	logger    *slog.Logger
	timeout   time.Duration
	budget    int

	// A validation cycle spans tool calls: corrective feedback sends the
	// model back for a fresh display/edit call, and the retry budget must
	// hold across that round-trip. Cycles are dropped on acceptance. The
	// latest stated intent per session rides along so continuations and
	// retries are judged against the same request.
	cycleMu      sync.Mutex
	cycles       map[string]*vision.Cycle
	descriptions map[string]string

	registry  *SessionRegistry
	mcpServer *server.MCPServer
}

// NewDrawbridgeServer creates a new DrawbridgeServer with all 3 tools registered.
func NewDrawbridgeServer(deps DrawbridgeServerDeps) *DrawbridgeServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	assembler := deps.Assembler
	if assembler == nil {
		assembler = diagram.NewAssembler()
	}

	s := &DrawbridgeServer{
		sessions:     deps.Sessions,
		assembler:    assembler,
		validator:    deps.Validator,
		capture:      deps.Capture,
		logger:       logger,
		timeout:      deps.ValidationTimeout,
		budget:       deps.RetryBudget,
		cycles:       make(map[string]*vision.Cycle),
		descriptions: make(map[string]string),
		registry:     NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"drawbridge",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Drawbridge renders and edits draw.io diagrams. Use display_diagram to show a full diagram, edit_diagram to apply structured edit operations to the current diagram, and append_diagram to continue a diagram whose XML was cut off mid-stream."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *DrawbridgeServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *DrawbridgeServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Registry returns the diagram-to-client session registry, for wiring
// out-of-band client notifications.
func (s *DrawbridgeServer) Registry() *SessionRegistry {
	return s.registry
}

// tools returns the 3 registered MCP tools as ServerTool entries.
func (s *DrawbridgeServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: displayTool(), Handler: s.handleDisplay},
		{Tool: editTool(), Handler: s.handleEdit},
		{Tool: appendTool(), Handler: s.handleAppend},
	}
}

// --- Tool definitions ---

func displayTool() mcp.Tool {
	return mcp.NewTool("display_diagram",
		mcp.WithDescription("Display a draw.io diagram. Provide the mxCell elements only, without the mxGraphModel/root wrapper; the wrapper is added automatically. If the XML gets cut off, the tool replies with the buffered tail and you must continue with append_diagram."),
		mcp.WithString("xml", mcp.Required(), mcp.Description("Diagram content as mxCell elements (ids 0 and 1 are reserved)")),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Diagram session id (mcp-... shape)")),
		mcp.WithString("description", mcp.Description("What the diagram should depict, in one sentence; used to check the rendered result")),
	)
}

func editTool() mcp.Tool {
	return mcp.NewTool("edit_diagram",
		mcp.WithDescription("Apply structured edit operations to the current diagram. Operations are applied as a batch; if any operation fails, nothing is committed and the failures are itemized."),
		mcp.WithArray("operations", mcp.Required(), mcp.Description("Ordered list of operations: {action: add|modify|delete, target: node|edge, id, label?, style?, parent?, source?, target_id?, x?, y?, width?, height?}")),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Diagram session id (mcp-... shape)")),
		mcp.WithString("description", mcp.Description("What the edited diagram should depict, in one sentence; used to check the rendered result")),
	)
}

func appendTool() mcp.Tool {
	return mcp.NewTool("append_diagram",
		mcp.WithDescription("Continue a truncated diagram. Provide only the continuation, resuming exactly where the buffered tail ended. Never re-send the wrapper or the reserved root cells."),
		mcp.WithString("xml", mcp.Required(), mcp.Description("Continuation of the diagram XML")),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Diagram session id (mcp-... shape)")),
	)
}
