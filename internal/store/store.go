package store

import (
	"context"
	"time"

	"github.com/drawbridge-ai/drawbridge/pkg/schema"
)

// HistoryEntry is one snapshot in a session's append-only history log,
// addressable by its position index.
type HistoryEntry struct {
	SessionID string    `json:"session_id"`
	Index     int       `json:"index"`
	XML       string    `json:"xml"`
	SVG       string    `json:"svg,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryStore persists per-session diagram snapshots.
// History is a log, not an undo stack: restoring an index appends a copy of
// that entry rather than truncating later entries.
// All implementations must be safe for concurrent use.
type HistoryStore interface {
	// AppendEntry appends a snapshot and returns its index.
	AppendEntry(ctx context.Context, sessionID, xml, svg string) (int, error)

	// GetEntry fetches a snapshot by index. Returns a NOT_FOUND error for
	// unknown indices.
	GetEntry(ctx context.Context, sessionID string, index int) (*HistoryEntry, error)

	// ListEntries returns all snapshots for a session in index order.
	ListEntries(ctx context.Context, sessionID string) ([]*HistoryEntry, error)

	// UpdateLatestSVG replaces the preview image of the most recent entry.
	UpdateLatestSVG(ctx context.Context, sessionID, svg string) error

	// DeleteSession removes the session's entire history log.
	DeleteSession(ctx context.Context, sessionID string) error

	// Lifecycle
	Close() error
}

func entryNotFound(sessionID string, index int) error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "history entry %d not found for session %q", index, sessionID).
		WithDetails(map[string]any{"session_id": sessionID, "index": index})
}
