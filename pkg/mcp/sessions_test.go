package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionRegistryRegisterAndLookup(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("mcp-abc", "client-1")
	sid, ok := r.ClientFor("mcp-abc")
	assert.True(t, ok)
	assert.Equal(t, "client-1", sid)

	_, ok = r.ClientFor("mcp-unknown")
	assert.False(t, ok)
}

func TestSessionRegistryReconnectOverwrites(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("mcp-abc", "client-1")
	r.Register("mcp-abc", "client-2")

	sid, ok := r.ClientFor("mcp-abc")
	assert.True(t, ok)
	assert.Equal(t, "client-2", sid)
}

func TestSessionRegistryRemoveByClient(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("mcp-a", "client-1")
	r.Register("mcp-b", "client-1")
	r.Register("mcp-c", "client-2")

	r.Remove("client-1")

	_, ok := r.ClientFor("mcp-a")
	assert.False(t, ok)
	_, ok = r.ClientFor("mcp-b")
	assert.False(t, ok)
	sid, ok := r.ClientFor("mcp-c")
	assert.True(t, ok)
	assert.Equal(t, "client-2", sid)
}
