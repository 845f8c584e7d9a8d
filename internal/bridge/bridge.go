package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/drawbridge-ai/drawbridge/internal/session"
	"github.com/drawbridge-ai/drawbridge/internal/streaming"
	"github.com/drawbridge-ai/drawbridge/pkg/schema"
)

// DefaultPollInterval is the fixed cadence of the host-side reconciliation
// loop. The interval doubles as a cooperative yield between pushes.
const DefaultPollInterval = 2 * time.Second

// DefaultExportTimeout bounds how long a host-initiated export expectation
// is kept before it is abandoned. Abandonment is timeout-based; there is no
// cancellation message to the renderer.
const DefaultExportTimeout = 15 * time.Second

// Transport sends an encoded message to a session's renderer. It abstracts
// the cross-context message-passing primitive the renderer lives behind.
type Transport interface {
	Send(ctx context.Context, sessionID string, payload []byte) error
}

// Notifier tells the session's attached model client about out-of-band
// changes, e.g. a human editing the diagram directly in the renderer.
type Notifier interface {
	Notify(ctx context.Context, sessionID string, payload map[string]any) error
}

// pendingExport is a host-initiated export expectation awaiting a reply of
// the matching shape.
type pendingExport struct {
	format  string
	expires time.Time
}

// BridgeDeps holds the dependencies for creating a Bridge.
type BridgeDeps struct {
	Sessions      *session.Manager
	Transport     Transport
	Hub           streaming.EventHub
	Logger        *slog.Logger
	AllowedOrigin string
	PollInterval  time.Duration
	ExportTimeout time.Duration
}

// Bridge keeps a remote renderer's live document, the local authoritative
// session store, and the history log eventually consistent. Three triggers
// arrive out of band over one channel: renderer autosaves, host pushes, and
// host-initiated exports; replies are matched to expectations by payload
// shape so an unrelated reply is never misattributed.
type Bridge struct {
	mu       sync.Mutex
	lastSeen map[string]int           // session id → last version pushed
	pending  map[string]pendingExport // session id → export expectation
	ready    map[string]bool          // session id → renderer sent init
	deferred map[string]string        // session id → load to replay on init

	sessions      *session.Manager
	transport     Transport
	hub           streaming.EventHub
	notifier      Notifier
	logger        *slog.Logger
	allowedOrigin string
	pollInterval  time.Duration
	exportTimeout time.Duration
}

// NewBridge creates a Bridge.
func NewBridge(deps BridgeDeps) *Bridge {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := deps.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	timeout := deps.ExportTimeout
	if timeout <= 0 {
		timeout = DefaultExportTimeout
	}
	return &Bridge{
		lastSeen:      make(map[string]int),
		pending:       make(map[string]pendingExport),
		ready:         make(map[string]bool),
		deferred:      make(map[string]string),
		sessions:      deps.Sessions,
		transport:     deps.Transport,
		hub:           deps.Hub,
		logger:        logger,
		allowedOrigin: deps.AllowedOrigin,
		pollInterval:  interval,
		exportTimeout: timeout,
	}
}

// SetNotifier attaches a client notifier after construction. The notifier
// usually lives on the tool server, which is built after the bridge.
func (b *Bridge) SetNotifier(n Notifier) {
	b.mu.Lock()
	b.notifier = n
	b.mu.Unlock()
}

// Run executes the reconciliation loop until ctx is cancelled. Sessions are
// picked up from the event hub as they see activity; each tick pushes
// documents whose store version advanced past the renderer's, expires
// abandoned export expectations, and abandons stale sync requests.
func (b *Bridge) Run(ctx context.Context) {
	events, cancel, err := b.hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		b.logger.Warn("event subscription failed, reconciling watched sessions only", slog.String("error", err.Error()))
	} else {
		defer cancel()
	}

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if ev.EventType == streaming.EventSessionEvicted {
				b.forget(ev.SessionID)
			} else {
				b.Watch(ev.SessionID)
			}
		case <-ticker.C:
			b.tick(ctx)
		}
	}
}

func (b *Bridge) tick(ctx context.Context) {
	b.mu.Lock()
	watched := make([]string, 0, len(b.lastSeen))
	for id := range b.lastSeen {
		watched = append(watched, id)
	}
	now := time.Now()
	for id, p := range b.pending {
		if now.After(p.expires) {
			delete(b.pending, id)
			b.sessions.ClearExport(id)
			b.logger.Warn("export expectation abandoned", slog.String("session_id", id), slog.String("format", p.format))
		}
	}
	b.mu.Unlock()

	for _, id := range watched {
		state, ok := b.sessions.Read(id)
		if !ok {
			// Session evicted; stop watching.
			b.forget(id)
			continue
		}

		// Sync requests are abandoned by timeout too; the renderer may
		// still reply later and the write is accepted normally.
		if state.SyncRequested != nil && now.After(state.SyncRequested.Add(b.exportTimeout)) {
			b.sessions.ClearSync(id)
		}

		b.mu.Lock()
		last := b.lastSeen[id]
		b.mu.Unlock()

		// Version gating: only a strictly greater version counts as a change.
		if state.Version <= last {
			continue
		}
		if err := b.Push(ctx, id, state.XML); err != nil {
			b.logger.Warn("push failed, will retry on next tick", slog.String("session_id", id), slog.String("error", err.Error()))
			continue
		}
		b.mu.Lock()
		b.lastSeen[id] = state.Version
		b.mu.Unlock()
	}
}

// Watch starts reconciling the given session on the poll loop.
func (b *Bridge) Watch(sessionID string) {
	if sessionID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.lastSeen[sessionID]; !ok {
		b.lastSeen[sessionID] = 0
	}
}

// forget drops all per-session bridge state after eviction.
func (b *Bridge) forget(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.lastSeen, sessionID)
	delete(b.ready, sessionID)
	delete(b.deferred, sessionID)
	delete(b.pending, sessionID)
}

// Push sends a load command with the document to the session's renderer.
// If the renderer has not announced init yet, the load is deferred and
// replayed when it does.
func (b *Bridge) Push(ctx context.Context, sessionID, xml string) error {
	b.mu.Lock()
	if !b.ready[sessionID] {
		b.deferred[sessionID] = xml
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	if err := b.transport.Send(ctx, sessionID, NewLoadMessage(xml).Encode()); err != nil {
		return schema.NewError(schema.ErrCodeTransport, "push to renderer failed").WithCause(err)
	}
	return nil
}

// RequestExport marks the session's pending export and sends the export
// command. The expectation expires on its own; a reply arriving after that
// is ignored.
func (b *Bridge) RequestExport(ctx context.Context, sessionID, format string) error {
	if !b.sessions.MarkExportRequested(ctx, sessionID, format) {
		return schema.NewErrorf(schema.ErrCodeNotFound, "session %q not found", sessionID)
	}

	b.mu.Lock()
	b.pending[sessionID] = pendingExport{format: format, expires: time.Now().Add(b.exportTimeout)}
	b.mu.Unlock()

	if err := b.transport.Send(ctx, sessionID, NewExportMessage(format).Encode()); err != nil {
		return schema.NewError(schema.ErrCodeTransport, "export request failed").WithCause(err)
	}
	return nil
}

// AwaitExport requests an export and blocks until the matching reply is
// delivered or the timeout elapses. On timeout the pending expectation is
// cleared and a TIMEOUT error returned; the diagram flow is expected to
// fail open around it.
func (b *Bridge) AwaitExport(ctx context.Context, sessionID, format string, timeout time.Duration) (string, error) {
	ch, cancel, err := b.hub.Subscribe(ctx, streaming.EventFilter{
		SessionID:  sessionID,
		EventTypes: []string{streaming.EventExportDelivered},
	})
	if err != nil {
		return "", schema.NewError(schema.ErrCodeTransport, "subscribe failed").WithCause(err)
	}
	defer cancel()

	if err := b.RequestExport(ctx, sessionID, format); err != nil {
		return "", err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			b.abandonExport(sessionID)
			return "", schema.NewError(schema.ErrCodeTimeout, "export await cancelled").WithCause(ctx.Err())
		case <-timer.C:
			b.abandonExport(sessionID)
			return "", schema.NewErrorf(schema.ErrCodeTimeout, "renderer did not deliver %s export within %s", format, timeout)
		case <-ch:
			if data, ok := b.sessions.TakeExportResult(sessionID); ok {
				return data, nil
			}
			// Event observed but payload already consumed; keep waiting.
		}
	}
}

func (b *Bridge) abandonExport(sessionID string) {
	b.mu.Lock()
	delete(b.pending, sessionID)
	b.mu.Unlock()
	b.sessions.ClearExport(sessionID)
}

// CaptureFunc returns a capture function for the validation cycle: it asks
// the renderer for a PNG export and decodes the reply.
func (b *Bridge) CaptureFunc(sessionID string) func(ctx context.Context) ([]byte, error) {
	return func(ctx context.Context) ([]byte, error) {
		payload, err := b.AwaitExport(ctx, sessionID, FormatPNG, b.exportTimeout)
		if err != nil {
			return nil, err
		}
		return PNGBytes(payload)
	}
}

// HandleMessage processes one renderer→host message. Messages from an
// unexpected origin are dropped.
func (b *Bridge) HandleMessage(ctx context.Context, sessionID, origin string, raw []byte) error {
	if !CheckOrigin(origin, b.allowedOrigin) {
		return schema.NewErrorf(schema.ErrCodeProtocolViolation, "message from unexpected origin %q", origin)
	}
	msg, err := DecodeRendererMessage(raw)
	if err != nil {
		return err
	}

	switch msg.Event {
	case EventInit:
		return b.handleInit(ctx, sessionID)
	case EventSave, EventAutosave:
		return b.handleSave(ctx, sessionID, msg.XML)
	case EventExport:
		return b.HandleExportReply(ctx, sessionID, msg.Data)
	default:
		b.logger.Debug("ignoring unknown renderer event", slog.String("event", msg.Event))
		return nil
	}
}

// handleInit marks the renderer ready and replays any deferred load.
func (b *Bridge) handleInit(ctx context.Context, sessionID string) error {
	b.mu.Lock()
	b.ready[sessionID] = true
	xml, hasDeferred := b.deferred[sessionID]
	delete(b.deferred, sessionID)
	b.mu.Unlock()

	if hasDeferred {
		return b.Push(ctx, sessionID, xml)
	}
	return nil
}

// handleSave lands a renderer-authored document in the store. A human edit
// racing a model push resolves last-write-wins by version; the store's
// counter orders both.
func (b *Bridge) handleSave(ctx context.Context, sessionID, xml string) error {
	version, err := b.sessions.Write(ctx, sessionID, xml, "")
	if err != nil {
		return err
	}
	// The renderer already displays this document; don't push it back.
	b.mu.Lock()
	b.lastSeen[sessionID] = version
	notifier := b.notifier
	b.mu.Unlock()

	if notifier != nil {
		err := notifier.Notify(ctx, sessionID, map[string]any{
			"event":      "diagram_saved",
			"session_id": sessionID,
			"version":    version,
		})
		if err != nil {
			b.logger.Debug("client notification failed", slog.String("session_id", sessionID), slog.String("error", err.Error()))
		}
	}
	return nil
}

// HandleExportReply attributes an export reply to the pending expectation,
// if its shape matches. An unrelated reply (e.g. triggered by an autosave
// export) or a late reply after abandonment is ignored rather than
// misattributed. This is the single entry point for export payloads, no
// matter which channel carried them back.
func (b *Bridge) HandleExportReply(ctx context.Context, sessionID, data string) error {
	kind := ClassifyExportPayload(data)

	b.mu.Lock()
	p, ok := b.pending[sessionID]
	if !ok || p.format != kind {
		b.mu.Unlock()
		b.logger.Debug("ignoring unmatched export reply",
			slog.String("session_id", sessionID), slog.String("kind", kind))
		return nil
	}
	delete(b.pending, sessionID)
	b.mu.Unlock()

	b.sessions.DeliverExportResult(ctx, sessionID, data)
	return nil
}
