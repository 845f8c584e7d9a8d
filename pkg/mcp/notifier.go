package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"
)

// ClientNotifier pushes notifications to connected MCP clients.
type ClientNotifier interface {
	Notify(ctx context.Context, diagramSession string, payload map[string]any) error
}

// MCPNotifier implements ClientNotifier using MCP push notifications,
// e.g. to tell the client a human edited the diagram out of band.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier bound to the server's session registry.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends a notification to the client holding the diagram session.
// Best-effort: returns nil if no client is connected.
func (n *MCPNotifier) Notify(_ context.Context, diagramSession string, payload map[string]any) error {
	mcpSession, ok := n.sessions.ClientFor(diagramSession)
	if !ok {
		return nil // not connected, best-effort
	}
	err := n.mcpServer.SendNotificationToSpecificClient(mcpSession, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session expired between lookup and send — not an error.
		n.sessions.Remove(mcpSession)
		return nil
	}
	return err
}
