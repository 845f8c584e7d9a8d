package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/drawbridge-ai/drawbridge/internal/store"
	"github.com/drawbridge-ai/drawbridge/internal/streaming"
	"github.com/drawbridge-ai/drawbridge/pkg/schema"
)

// Session identifiers are only honored for lazy initialization when they
// match the recognized shape: a fixed prefix and a bounded length. Anything
// else referencing an unknown id is a no-op, never an implicit create.
const (
	idPrefix = "mcp-"
	idMaxLen = 64
)

// ValidID reports whether a session id matches the recognized shape.
func ValidID(id string) bool {
	return strings.HasPrefix(id, idPrefix) && len(id) <= idMaxLen
}

// State is the live state of one diagram-editing session.
type State struct {
	ID            string     `json:"id"`
	XML           string     `json:"xml"`
	Version       int        `json:"version"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	SVG           string     `json:"svg,omitempty"`
	SyncRequested *time.Time `json:"syncRequested,omitempty"`
	ExportFormat  string     `json:"exportFormat,omitempty"`
	ExportData    string     `json:"exportData,omitempty"`
}

// ManagerDeps holds the dependencies for creating a Manager.
type ManagerDeps struct {
	History store.HistoryStore
	Hub     streaming.EventHub
	Logger  *slog.Logger
	TTL     time.Duration
	Sweep   time.Duration
}

// Manager owns the in-memory session map and its eviction lifecycle.
// Constructed at process start and passed by handle to every component that
// needs session access; Shutdown stops the sweeper and releases the map.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*State

	history store.HistoryStore
	hub     streaming.EventHub
	logger  *slog.Logger
	ttl     time.Duration
	sweep   time.Duration
	cron    *cron.Cron
}

// NewManager creates a Manager. TTL defaults to 30 minutes and the sweep
// interval to 1 minute when unset.
func NewManager(deps ManagerDeps) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	sweep := deps.Sweep
	if sweep <= 0 {
		sweep = time.Minute
	}
	return &Manager{
		sessions: make(map[string]*State),
		history:  deps.History,
		hub:      deps.Hub,
		logger:   logger,
		ttl:      ttl,
		sweep:    sweep,
	}
}

// Start launches the recurring eviction sweep.
func (m *Manager) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc("@every "+m.sweep.String(), func() { m.Sweep(ctx) }); err != nil {
		return err
	}
	c.Start()
	m.cron = c
	m.logger.Info("session sweeper started", slog.Duration("ttl", m.ttl), slog.Duration("interval", m.sweep))
	return nil
}

// Shutdown stops the sweeper and releases the session map.
func (m *Manager) Shutdown() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
	m.mu.Lock()
	m.sessions = make(map[string]*State)
	m.mu.Unlock()
}

// Touch lazily creates the session if the id matches the recognized shape
// and returns a snapshot. Before the first write the snapshot carries
// version 0 and an empty document.
func (m *Manager) Touch(id string) (State, bool) {
	if !ValidID(id) {
		return State{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.getOrCreateLocked(id)
	return *s, true
}

// Read returns a snapshot of the session, without creating it.
func (m *Manager) Read(id string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return State{}, false
	}
	return *s, true
}

// Write stores a new document for the session, creating it lazily for
// recognized ids. The version advances by exactly one per accepted write.
// A previous preview image is preserved when none is supplied, and a
// pending sync request is cleared since a fresh write satisfies it.
// Every accepted write also appends a history snapshot.
func (m *Manager) Write(ctx context.Context, id, xml, svg string) (int, error) {
	if !ValidID(id) {
		return 0, schema.NewErrorf(schema.ErrCodeNotFound, "unrecognized session id %q", id)
	}

	m.mu.Lock()
	s := m.getOrCreateLocked(id)
	s.XML = xml
	if svg != "" {
		s.SVG = svg
	}
	s.Version++
	s.UpdatedAt = time.Now().UTC()
	s.SyncRequested = nil
	version := s.Version
	m.mu.Unlock()

	if m.history != nil {
		if _, err := m.history.AppendEntry(ctx, id, xml, svg); err != nil {
			m.logger.Error("history append failed", slog.String("session_id", id), slog.String("error", err.Error()))
		}
	}
	m.publish(ctx, streaming.DocumentUpdated(id, version))
	return version, nil
}

// RequestSync marks the session as wanting a fresh pull from the renderer.
// Returns false for absent sessions (no implicit create).
func (m *Manager) RequestSync(ctx context.Context, id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		now := time.Now().UTC()
		s.SyncRequested = &now
	}
	m.mu.Unlock()
	if ok {
		m.publish(ctx, streaming.SyncRequested(id))
	}
	return ok
}

// ClearSync clears a pending sync request, e.g. after the waiter timed out.
func (m *Manager) ClearSync(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.SyncRequested = nil
	}
}

// MarkExportRequested records a pending export request for the session.
func (m *Manager) MarkExportRequested(ctx context.Context, id, format string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		s.ExportFormat = format
		s.ExportData = ""
	}
	m.mu.Unlock()
	if ok {
		m.publish(ctx, streaming.ExportRequested(id, format))
	}
	return ok
}

// DeliverExportResult stores an export payload and clears the pending
// format marker.
func (m *Manager) DeliverExportResult(ctx context.Context, id, payload string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		s.ExportData = payload
		s.ExportFormat = ""
	}
	m.mu.Unlock()
	if ok {
		m.publish(ctx, streaming.ExportDelivered(id))
	}
	return ok
}

// TakeExportResult consumes a delivered export payload, if any.
func (m *Manager) TakeExportResult(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.ExportData == "" {
		return "", false
	}
	data := s.ExportData
	s.ExportData = ""
	return data, true
}

// ClearExport abandons a pending export request without a reply.
func (m *Manager) ClearExport(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.ExportFormat = ""
	}
}

// Restore re-lands history entry index as the live document. The entry is
// appended as a new snapshot rather than truncating later entries, and the
// live version advances as with any accepted write.
func (m *Manager) Restore(ctx context.Context, id string, index int) (int, error) {
	if m.history == nil {
		return 0, schema.NewError(schema.ErrCodeStore, "history store not configured")
	}
	entry, err := m.history.GetEntry(ctx, id, index)
	if err != nil {
		return 0, err
	}

	version, err := m.Write(ctx, id, entry.XML, entry.SVG)
	if err != nil {
		return 0, err
	}
	m.publish(ctx, streaming.HistoryRestored(id, version, index))
	return version, nil
}

// Sweep evicts sessions idle past the TTL and cascades deletion of their
// history logs.
func (m *Manager) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-m.ttl)

	m.mu.Lock()
	var evicted []string
	for id, s := range m.sessions {
		if s.UpdatedAt.Before(cutoff) {
			delete(m.sessions, id)
			evicted = append(evicted, id)
		}
	}
	m.mu.Unlock()

	for _, id := range evicted {
		if m.history != nil {
			if err := m.history.DeleteSession(ctx, id); err != nil {
				m.logger.Error("history cascade delete failed", slog.String("session_id", id), slog.String("error", err.Error()))
			}
		}
		m.publish(ctx, streaming.SessionEvicted(id))
		m.logger.Info("session evicted", slog.String("session_id", id))
	}
}

func (m *Manager) getOrCreateLocked(id string) *State {
	s, ok := m.sessions[id]
	if !ok {
		s = &State{ID: id, UpdatedAt: time.Now().UTC()}
		m.sessions[id] = s
	}
	return s
}

func (m *Manager) publish(ctx context.Context, event streaming.StreamEvent) {
	if m.hub == nil {
		return
	}
	if err := m.hub.Publish(ctx, event); err != nil {
		m.logger.Debug("event publish failed", slog.String("error", err.Error()))
	}
}
