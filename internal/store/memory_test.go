package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drawbridge-ai/drawbridge/pkg/schema"
)

func TestMemoryStore_AppendAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	idx, err := s.AppendEntry(ctx, "mcp-a", "<doc1/>", "svg1")
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	idx, err = s.AppendEntry(ctx, "mcp-a", "<doc2/>", "")
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	e, err := s.GetEntry(ctx, "mcp-a", 0)
	require.NoError(t, err)
	assert.Equal(t, "<doc1/>", e.XML)
	assert.Equal(t, "svg1", e.SVG)
}

func TestMemoryStore_GetUnknownIndex(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetEntry(context.Background(), "mcp-a", 5)
	require.Error(t, err)
	var be *schema.BridgeError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, schema.ErrCodeNotFound, be.Code)
}

func TestMemoryStore_IndicesArePerSession(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.AppendEntry(ctx, "mcp-a", "<a/>", "")
	require.NoError(t, err)
	idx, err := s.AppendEntry(ctx, "mcp-b", "<b/>", "")
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}

func TestMemoryStore_UpdateLatestSVG(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.Error(t, s.UpdateLatestSVG(ctx, "mcp-a", "svg"))

	_, _ = s.AppendEntry(ctx, "mcp-a", "<a/>", "")
	_, _ = s.AppendEntry(ctx, "mcp-a", "<b/>", "old")
	require.NoError(t, s.UpdateLatestSVG(ctx, "mcp-a", "new"))

	entries, err := s.ListEntries(ctx, "mcp-a")
	require.NoError(t, err)
	assert.Equal(t, "", entries[0].SVG)
	assert.Equal(t, "new", entries[1].SVG)
}

func TestMemoryStore_DeleteSession(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, _ = s.AppendEntry(ctx, "mcp-a", "<a/>", "")
	require.NoError(t, s.DeleteSession(ctx, "mcp-a"))

	entries, err := s.ListEntries(ctx, "mcp-a")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemoryStore_EntriesAreCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, _ = s.AppendEntry(ctx, "mcp-a", "<a/>", "")
	e, err := s.GetEntry(ctx, "mcp-a", 0)
	require.NoError(t, err)
	e.XML = "mutated"

	again, err := s.GetEntry(ctx, "mcp-a", 0)
	require.NoError(t, err)
	assert.Equal(t, "<a/>", again.XML)
}
