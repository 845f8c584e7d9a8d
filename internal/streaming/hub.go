package streaming

import "context"

// Session event types published on the hub.
const (
	EventDocumentUpdated = "document_updated"
	EventSyncRequested   = "sync_requested"
	EventExportRequested = "export_requested"
	EventExportDelivered = "export_delivered"
	EventSessionEvicted  = "session_evicted"
	EventHistoryRestored = "history_restored"
)

// StreamEvent is a real-time event emitted as session state changes.
type StreamEvent struct {
	SessionID string `json:"session_id"`
	EventType string `json:"event_type"`
	Version   int    `json:"version,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// Constructors for the session event vocabulary.

func DocumentUpdated(sessionID string, version int) StreamEvent {
	return StreamEvent{SessionID: sessionID, EventType: EventDocumentUpdated, Version: version}
}

func SyncRequested(sessionID string) StreamEvent {
	return StreamEvent{SessionID: sessionID, EventType: EventSyncRequested}
}

func ExportRequested(sessionID, format string) StreamEvent {
	return StreamEvent{SessionID: sessionID, EventType: EventExportRequested, Payload: format}
}

func ExportDelivered(sessionID string) StreamEvent {
	return StreamEvent{SessionID: sessionID, EventType: EventExportDelivered}
}

func SessionEvicted(sessionID string) StreamEvent {
	return StreamEvent{SessionID: sessionID, EventType: EventSessionEvicted}
}

func HistoryRestored(sessionID string, version, index int) StreamEvent {
	return StreamEvent{SessionID: sessionID, EventType: EventHistoryRestored, Version: version, Payload: index}
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	SessionID  string   `json:"session_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time session events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
