package httpapi

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/drawbridge-ai/drawbridge/internal/session"
)

type stateUpdateRequest struct {
	SessionID  string `json:"sessionId" binding:"required"`
	XML        string `json:"xml"`
	SVG        string `json:"svg"`
	ExportData string `json:"exportData"`
}

type restoreRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
	Index     int    `json:"index"`
}

type historySVGRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
	SVG       string `json:"svg" binding:"required"`
}

// historyEntryView is the wire shape of one history entry: the index to
// restore by and the preview image. The document itself stays server-side.
type historyEntryView struct {
	Index int    `json:"index"`
	SVG   string `json:"svg"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().Unix()})
}

// handleGetState returns the session snapshot, creating the session lazily
// when the id has the recognized shape. Unrecognized ids are a client
// error, never an implicit create. Before the first write the document is
// null, not empty.
func (s *Server) handleGetState(c *gin.Context) {
	id := c.Query("sessionId")
	state, ok := s.deps.Sessions.Touch(id)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unrecognized session id"})
		return
	}
	var xml any
	if state.Version > 0 {
		xml = state.XML
	}
	c.JSON(http.StatusOK, gin.H{
		"xml":           xml,
		"version":       state.Version,
		"syncRequested": state.SyncRequested != nil,
		"exportFormat":  state.ExportFormat,
	})
}

// handlePostState lands a renderer-side update: a document write (with an
// optional preview) or an export payload delivery. Export payloads go
// through the bridge so they only satisfy a pending expectation of the
// matching shape; an unrelated reply is dropped, not misattributed.
func (s *Server) handlePostState(c *gin.Context) {
	var req stateUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.ExportData != "" {
		if _, ok := s.deps.Sessions.Read(req.SessionID); !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		if s.deps.Bridge == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "export channel not configured"})
			return
		}
		if err := s.deps.Bridge.HandleExportReply(c.Request.Context(), req.SessionID, req.ExportData); err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}

	if req.XML == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "xml or exportData required"})
		return
	}
	version, err := s.deps.Sessions.Write(c.Request.Context(), req.SessionID, req.XML, req.SVG)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "version": version})
}

// handleRendererMessage feeds one raw renderer message into the sync
// protocol. The Origin header is checked against the configured renderer
// origin before anything is decoded.
func (s *Server) handleRendererMessage(c *gin.Context) {
	id := c.Query("sessionId")
	if !session.ValidID(id) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unrecognized session id"})
		return
	}
	if s.deps.Bridge == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "renderer channel not configured"})
		return
	}
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if err := s.deps.Bridge.HandleMessage(c.Request.Context(), id, c.GetHeader("Origin"), raw); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleListHistory(c *gin.Context) {
	id := c.Query("sessionId")
	if !session.ValidID(id) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unrecognized session id"})
		return
	}
	entries, err := s.deps.History.ListEntries(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	views := make([]historyEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, historyEntryView{Index: e.Index, SVG: e.SVG})
	}
	c.JSON(http.StatusOK, gin.H{"entries": views, "count": len(views)})
}

// handleRestore re-lands a history snapshot as the live document. The
// snapshot is appended to history, never spliced in.
func (s *Server) handleRestore(c *gin.Context) {
	var req restoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	version, err := s.deps.Sessions.Restore(c.Request.Context(), req.SessionID, req.Index)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "newVersion": version})
}

// handleHistorySVG attaches a rendered preview to the latest history entry.
// The renderer produces previews asynchronously, after the write landed.
func (s *Server) handleHistorySVG(c *gin.Context) {
	var req historySVGRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.deps.History.UpdateLatestSVG(c.Request.Context(), req.SessionID, req.SVG); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// writeError maps a domain error to an HTTP status.
func (s *Server) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.deps.Logger.Error("request failed",
			slog.String("path", c.FullPath()), slog.String("error", err.Error()))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
