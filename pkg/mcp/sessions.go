package mcp

import "sync"

// SessionRegistry maps diagram session ids to MCP client session ids.
// Populated automatically when a client calls any tool with a session_id.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // diagram session id → MCP session id
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates a diagram session with an MCP client session.
// A session already mapped is overwritten (reconnect).
func (r *SessionRegistry) Register(diagramSession, mcpSession string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[diagramSession] = mcpSession
}

// ClientFor returns the MCP session id for the given diagram session, if connected.
func (r *SessionRegistry) ClientFor(diagramSession string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[diagramSession]
	return sid, ok
}

// Remove deletes all diagram-session mappings for the given MCP session id.
// Called when a client disconnects.
func (r *SessionRegistry) Remove(mcpSession string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ds, sid := range r.sessions {
		if sid == mcpSession {
			delete(r.sessions, ds)
		}
	}
}
