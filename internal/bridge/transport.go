package bridge

import "context"

// NoopTransport discards host→renderer messages. Used when the renderer
// pulls its state through the session HTTP surface instead of receiving
// direct pushes; the store's version counter carries the change across.
type NoopTransport struct{}

func (NoopTransport) Send(context.Context, string, []byte) error { return nil }

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, sessionID string, payload []byte) error

func (f TransportFunc) Send(ctx context.Context, sessionID string, payload []byte) error {
	return f(ctx, sessionID, payload)
}
