package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drawbridge-ai/drawbridge/internal/bridge"
	"github.com/drawbridge-ai/drawbridge/internal/session"
	"github.com/drawbridge-ai/drawbridge/internal/store"
	"github.com/drawbridge-ai/drawbridge/internal/streaming"
)

func newTestServer(t *testing.T) (*Server, *session.Manager, store.HistoryStore, *bridge.Bridge) {
	t.Helper()
	history := store.NewMemoryStore()
	hub := streaming.NewMemoryHub()
	mgr := session.NewManager(session.ManagerDeps{History: history, Hub: hub})
	br := bridge.NewBridge(bridge.BridgeDeps{
		Sessions:  mgr,
		Transport: bridge.NoopTransport{},
		Hub:       hub,
	})
	srv := NewServer(ServerDeps{Sessions: mgr, History: history, Hub: hub, Bridge: br})
	return srv, mgr, history, br
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestGetStateLazyInit(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodGet, "/api/state?sessionId=mcp-abc", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Nil(t, body["xml"], "document is null before the first write")
	assert.Equal(t, float64(0), body["version"])
	assert.Equal(t, false, body["syncRequested"])
}

func TestGetStateAfterWrite(t *testing.T) {
	srv, mgr, _, _ := newTestServer(t)
	router := srv.Router()

	_, err := mgr.Write(context.Background(), "mcp-abc", "<doc/>", "")
	require.NoError(t, err)
	require.True(t, mgr.RequestSync(context.Background(), "mcp-abc"))

	rec := doJSON(t, router, http.MethodGet, "/api/state?sessionId=mcp-abc", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "<doc/>", body["xml"])
	assert.Equal(t, float64(1), body["version"])
	assert.Equal(t, true, body["syncRequested"])
}

func TestGetStateRejectsBadID(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodGet, "/api/state?sessionId=other-abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/state", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostStateWrite(t *testing.T) {
	srv, mgr, _, _ := newTestServer(t)
	router := srv.Router()

	body := `{"sessionId":"mcp-abc","xml":"<mxCell id=\"2\" vertex=\"1\"/>","svg":"<svg/>"}`
	rec := doJSON(t, router, http.MethodPost, "/api/state", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)
	assert.Contains(t, rec.Body.String(), `"version":1`)

	state, ok := mgr.Read("mcp-abc")
	require.True(t, ok)
	assert.Equal(t, "<svg/>", state.SVG)
}

func TestPostStateRequiresPayload(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/state", `{"sessionId":"mcp-abc"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/state", `{"xml":"doc"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostStateExportDeliveryMatchesExpectation(t *testing.T) {
	srv, mgr, _, br := newTestServer(t)
	router := srv.Router()
	ctx := context.Background()
	mgr.Touch("mcp-abc")

	require.NoError(t, br.RequestExport(ctx, "mcp-abc", bridge.FormatPNG))

	body := `{"sessionId":"mcp-abc","exportData":"data:image/png;base64,aGk="}`
	rec := doJSON(t, router, http.MethodPost, "/api/state", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)

	data, ok := mgr.TakeExportResult("mcp-abc")
	require.True(t, ok)
	assert.Equal(t, "data:image/png;base64,aGk=", data)
}

func TestPostStateExportDeliveryShapeMismatchDropped(t *testing.T) {
	srv, mgr, _, br := newTestServer(t)
	router := srv.Router()
	ctx := context.Background()
	mgr.Touch("mcp-abc")

	// A pending PNG expectation must not be satisfied by an SVG-shaped
	// reply, no matter which channel carried it back.
	require.NoError(t, br.RequestExport(ctx, "mcp-abc", bridge.FormatPNG))

	body := `{"sessionId":"mcp-abc","exportData":"<svg>unrelated autosave export</svg>"}`
	rec := doJSON(t, router, http.MethodPost, "/api/state", body)
	require.Equal(t, http.StatusOK, rec.Code)

	_, ok := mgr.TakeExportResult("mcp-abc")
	assert.False(t, ok, "mismatched export reply must be dropped, not delivered")

	// The real PNG still lands.
	body = `{"sessionId":"mcp-abc","exportData":"data:image/png;base64,aGk="}`
	rec = doJSON(t, router, http.MethodPost, "/api/state", body)
	require.Equal(t, http.StatusOK, rec.Code)
	data, ok := mgr.TakeExportResult("mcp-abc")
	require.True(t, ok)
	assert.Equal(t, "data:image/png;base64,aGk=", data)
}

func TestPostStateExportDeliveryUnknownSession(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	router := srv.Router()

	body := `{"sessionId":"mcp-missing","exportData":"x"}`
	rec := doJSON(t, router, http.MethodPost, "/api/state", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRendererMessageEndpoint(t *testing.T) {
	srv, mgr, _, _ := newTestServer(t)
	router := srv.Router()

	body := `{"event":"autosave","xml":"<mxCell id=\"2\" vertex=\"1\"/>"}`
	rec := doJSON(t, router, http.MethodPost, "/api/renderer?sessionId=mcp-abc", body)
	require.Equal(t, http.StatusOK, rec.Code)

	state, ok := mgr.Read("mcp-abc")
	require.True(t, ok)
	assert.Equal(t, 1, state.Version)
	assert.Contains(t, state.XML, `id="2"`)
}

func TestRendererMessageRejectsBadID(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodPost, "/api/renderer?sessionId=nope", `{"event":"init"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRendererMessageRejectsWrongOrigin(t *testing.T) {
	history := store.NewMemoryStore()
	hub := streaming.NewMemoryHub()
	mgr := session.NewManager(session.ManagerDeps{History: history, Hub: hub})
	br := bridge.NewBridge(bridge.BridgeDeps{
		Sessions:      mgr,
		Transport:     bridge.NoopTransport{},
		Hub:           hub,
		AllowedOrigin: "https://renderer.example.com",
	})
	srv := NewServer(ServerDeps{Sessions: mgr, History: history, Hub: hub, Bridge: br})
	router := srv.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/renderer?sessionId=mcp-abc", strings.NewReader(`{"event":"init"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryListAndRestore(t *testing.T) {
	srv, mgr, _, _ := newTestServer(t)
	router := srv.Router()
	ctx := context.Background()

	_, err := mgr.Write(ctx, "mcp-abc", "v1", "<svg>one</svg>")
	require.NoError(t, err)
	_, err = mgr.Write(ctx, "mcp-abc", "v2", "<svg>two</svg>")
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodGet, "/api/history?sessionId=mcp-abc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":2`)
	assert.Contains(t, rec.Body.String(), `"index":0`)
	assert.NotContains(t, rec.Body.String(), `"xml"`, "history entries expose index and preview only")

	rec = doJSON(t, router, http.MethodPost, "/api/restore", `{"sessionId":"mcp-abc","index":0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)
	assert.Contains(t, rec.Body.String(), `"newVersion":3`)

	state, ok := mgr.Read("mcp-abc")
	require.True(t, ok)
	assert.Equal(t, "v1", state.XML)

	// Restore appended a snapshot, it did not truncate.
	rec = doJSON(t, router, http.MethodGet, "/api/history?sessionId=mcp-abc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":3`)
}

func TestRestoreUnknownIndex(t *testing.T) {
	srv, mgr, _, _ := newTestServer(t)
	router := srv.Router()

	_, err := mgr.Write(context.Background(), "mcp-abc", "v1", "")
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodPost, "/api/restore", `{"sessionId":"mcp-abc","index":9}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistorySVGUpdate(t *testing.T) {
	srv, mgr, history, _ := newTestServer(t)
	router := srv.Router()
	ctx := context.Background()

	_, err := mgr.Write(ctx, "mcp-abc", "v1", "")
	require.NoError(t, err)

	body := `{"sessionId":"mcp-abc","svg":"<svg>preview</svg>"}`
	rec := doJSON(t, router, http.MethodPost, "/api/history-svg", body)
	require.Equal(t, http.StatusOK, rec.Code)

	entry, err := history.GetEntry(ctx, "mcp-abc", 0)
	require.NoError(t, err)
	assert.Equal(t, "<svg>preview</svg>", entry.SVG)
}

func TestHistoryListRejectsBadID(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodGet, "/api/history?sessionId=nope", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
