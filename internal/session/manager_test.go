package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drawbridge-ai/drawbridge/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.MemoryStore) {
	t.Helper()
	hist := store.NewMemoryStore()
	m := NewManager(ManagerDeps{History: hist, TTL: 30 * time.Minute})
	return m, hist
}

func TestValidID(t *testing.T) {
	assert.True(t, ValidID("mcp-abc"))
	assert.False(t, ValidID("abc"))
	assert.False(t, ValidID("session-1"))

	long := "mcp-"
	for len(long) <= idMaxLen {
		long += "x"
	}
	assert.False(t, ValidID(long))
}

func TestTouch_LazyInit(t *testing.T) {
	m, _ := newTestManager(t)

	s, ok := m.Touch("mcp-abc")
	require.True(t, ok)
	assert.Equal(t, 0, s.Version)
	assert.Equal(t, "", s.XML)

	// Unrecognized ids are never created implicitly.
	_, ok = m.Touch("not-a-session")
	assert.False(t, ok)
	_, ok = m.Read("not-a-session")
	assert.False(t, ok)
}

func TestWrite_VersionMonotonic(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	for want := 1; want <= 5; want++ {
		v, err := m.Write(ctx, "mcp-abc", "<doc/>", "")
		require.NoError(t, err)
		assert.Equal(t, want, v)

		s, ok := m.Read("mcp-abc")
		require.True(t, ok)
		assert.Equal(t, want, s.Version)
	}
}

func TestWrite_RejectsUnrecognizedID(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Write(context.Background(), "bogus", "<doc/>", "")
	require.Error(t, err)
}

func TestWrite_PreservesPreviewWhenOmitted(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Write(ctx, "mcp-abc", "<v1/>", "preview-1")
	require.NoError(t, err)
	_, err = m.Write(ctx, "mcp-abc", "<v2/>", "")
	require.NoError(t, err)

	s, _ := m.Read("mcp-abc")
	assert.Equal(t, "preview-1", s.SVG)
}

func TestWrite_ClearsSyncRequest(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Write(ctx, "mcp-abc", "<v1/>", "")
	require.NoError(t, err)
	require.True(t, m.RequestSync(ctx, "mcp-abc"))

	s, _ := m.Read("mcp-abc")
	require.NotNil(t, s.SyncRequested)

	_, err = m.Write(ctx, "mcp-abc", "<v2/>", "")
	require.NoError(t, err)
	s, _ = m.Read("mcp-abc")
	assert.Nil(t, s.SyncRequested)
}

func TestRequestSync_AbsentSession(t *testing.T) {
	m, _ := newTestManager(t)
	assert.False(t, m.RequestSync(context.Background(), "mcp-missing"))
}

func TestExportRequestLifecycle(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Write(ctx, "mcp-abc", "<doc/>", "")
	require.NoError(t, err)

	require.True(t, m.MarkExportRequested(ctx, "mcp-abc", "png"))
	s, _ := m.Read("mcp-abc")
	assert.Equal(t, "png", s.ExportFormat)

	require.True(t, m.DeliverExportResult(ctx, "mcp-abc", "data:image/png;base64,AAA"))
	s, _ = m.Read("mcp-abc")
	assert.Equal(t, "", s.ExportFormat)

	data, ok := m.TakeExportResult("mcp-abc")
	require.True(t, ok)
	assert.Equal(t, "data:image/png;base64,AAA", data)

	// Consumed: a second take finds nothing.
	_, ok = m.TakeExportResult("mcp-abc")
	assert.False(t, ok)
}

func TestRestore_AppendsInsteadOfTruncating(t *testing.T) {
	m, hist := newTestManager(t)
	ctx := context.Background()

	_, err := m.Write(ctx, "mcp-abc", "<v1/>", "svg1")
	require.NoError(t, err)
	_, err = m.Write(ctx, "mcp-abc", "<v2/>", "svg2")
	require.NoError(t, err)

	newVersion, err := m.Restore(ctx, "mcp-abc", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, newVersion)

	s, _ := m.Read("mcp-abc")
	assert.Equal(t, "<v1/>", s.XML)

	entries, err := hist.ListEntries(ctx, "mcp-abc")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "<v1/>", entries[2].XML)
	assert.Equal(t, "<v2/>", entries[1].XML, "later entries are not truncated")
}

func TestRestore_UnknownIndex(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Write(ctx, "mcp-abc", "<v1/>", "")
	require.NoError(t, err)

	_, err = m.Restore(ctx, "mcp-abc", 7)
	require.Error(t, err)
}

func TestSweep_EvictsIdleSessionsAndHistory(t *testing.T) {
	hist := store.NewMemoryStore()
	m := NewManager(ManagerDeps{History: hist, TTL: time.Millisecond})
	ctx := context.Background()

	_, err := m.Write(ctx, "mcp-old", "<doc/>", "svg")
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	m.Sweep(ctx)

	_, ok := m.Read("mcp-old")
	assert.False(t, ok)

	entries, err := hist.ListEntries(ctx, "mcp-old")
	require.NoError(t, err)
	assert.Empty(t, entries, "history log deleted with the session")
}

func TestSweep_KeepsFreshSessions(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Write(ctx, "mcp-fresh", "<doc/>", "")
	require.NoError(t, err)
	m.Sweep(ctx)

	_, ok := m.Read("mcp-fresh")
	assert.True(t, ok)
}

func TestShutdown_ReleasesSessions(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	_, err := m.Write(ctx, "mcp-abc", "<doc/>", "")
	require.NoError(t, err)

	m.Shutdown()
	_, ok := m.Read("mcp-abc")
	assert.False(t, ok)
}
