package bridge

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/drawbridge-ai/drawbridge/pkg/schema"
)

// Host → renderer actions.
const (
	ActionLoad   = "load"
	ActionExport = "export"
)

// Renderer → host events.
const (
	EventInit     = "init"
	EventSave     = "save"
	EventAutosave = "autosave"
	EventExport   = "export"
)

// Export formats understood by the renderer.
const (
	FormatPNG = "png"
	FormatSVG = "svg"
	FormatXML = "xml"
)

// HostMessage is the host→renderer side of the message channel, a
// discriminated union on Action.
type HostMessage struct {
	Action   string  `json:"action"`
	XML      string  `json:"xml,omitempty"`
	Autosave int     `json:"autosave,omitempty"`
	Format   string  `json:"format,omitempty"`
	Scale    float64 `json:"scale,omitempty"`
}

// NewLoadMessage builds a load command carrying a full document.
func NewLoadMessage(xml string) HostMessage {
	return HostMessage{Action: ActionLoad, XML: xml, Autosave: 1}
}

// NewExportMessage builds an export command.
func NewExportMessage(format string) HostMessage {
	return HostMessage{Action: ActionExport, Format: format}
}

// Encode serializes the message as the JSON string payload the channel carries.
func (m HostMessage) Encode() []byte {
	data, _ := json.Marshal(m)
	return data
}

// RendererMessage is the renderer→host side of the channel, a discriminated
// union on Event. Export replies carry no format field; the format is
// inferred from the payload shape (see ClassifyExportPayload).
type RendererMessage struct {
	Event string `json:"event"`
	XML   string `json:"xml,omitempty"`
	Data  string `json:"data,omitempty"`
}

// DecodeRendererMessage parses a raw channel payload.
func DecodeRendererMessage(raw []byte) (RendererMessage, error) {
	var msg RendererMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return RendererMessage{}, schema.NewErrorf(schema.ErrCodeInvalidPayload, "malformed renderer message: %v", err).WithCause(err)
	}
	if msg.Event == "" {
		return RendererMessage{}, schema.NewError(schema.ErrCodeInvalidPayload, "renderer message has no event")
	}
	return msg, nil
}

// ClassifyExportPayload infers an export reply's format from its shape:
// a PNG data URL or raw PNG bytes mean png, an SVG data URL or inline
// <svg markup means svg, anything else is treated as raw diagram XML.
// Pure; used to match replies against pending export expectations.
func ClassifyExportPayload(data string) string {
	switch {
	case strings.HasPrefix(data, "data:image/png"):
		return FormatPNG
	case strings.HasPrefix(data, "\x89PNG"):
		return FormatPNG
	case strings.HasPrefix(data, "data:image/svg"):
		return FormatSVG
	case strings.HasPrefix(strings.TrimSpace(data), "<svg"):
		return FormatSVG
	default:
		return FormatXML
	}
}

// PNGBytes extracts raw PNG bytes from an export payload, decoding a data
// URL when necessary.
func PNGBytes(payload string) ([]byte, error) {
	if strings.HasPrefix(payload, "\x89PNG") {
		return []byte(payload), nil
	}
	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(payload, prefix) {
		return nil, schema.NewError(schema.ErrCodeInvalidPayload, "payload is not a PNG export")
	}
	data, err := base64.StdEncoding.DecodeString(payload[len(prefix):])
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidPayload, "invalid PNG base64: %v", err).WithCause(err)
	}
	return data, nil
}

// CheckOrigin compares a message origin against the configured renderer
// origin (scheme and host). An empty configured origin accepts anything,
// for embedded renderers without a browsing context.
func CheckOrigin(origin, configured string) bool {
	if configured == "" {
		return true
	}
	got, err := url.Parse(origin)
	if err != nil {
		return false
	}
	want, err := url.Parse(configured)
	if err != nil {
		return false
	}
	return got.Scheme == want.Scheme && got.Host == want.Host
}
