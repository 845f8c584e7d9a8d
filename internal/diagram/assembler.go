package diagram

import (
	"strings"
	"sync"

	"github.com/drawbridge-ai/drawbridge/pkg/schema"
)

// tailContextLen is how much of the buffer tail is quoted back to the model
// so it can position its continuation.
const tailContextLen = 500

// wrapperMarkers identify a fragment that restarts the document instead of
// continuing it. A continuation must never re-send the container or the
// reserved root cells.
var wrapperMarkers = []string{
	"<mxGraphModel",
	"<root>",
	"<root ",
	`<mxCell id="0"`,
	`<mxCell id="1"`,
}

// IsComplete reports whether every opened mxCell element in the fragment is
// properly closed. This is a balanced-tag scan over the cell vocabulary, not
// full XML validation: a streaming model emits cells in textual order, so a
// dangling open tag is the operative truncation signal.
func IsComplete(fragment string) bool {
	depth := 0
	rest := fragment
	for {
		lt := strings.Index(rest, "<")
		if lt < 0 {
			break
		}
		rest = rest[lt:]
		gt := tagEnd(rest)
		if gt < 0 {
			// Tag cut mid-element.
			return false
		}
		tag := rest[:gt+1]
		rest = rest[gt+1:]
		switch {
		case strings.HasPrefix(tag, "</mxCell"):
			if depth > 0 {
				depth--
			}
		case strings.HasPrefix(tag, "<mxCell"):
			if !strings.HasSuffix(tag, "/>") {
				depth++
			}
		}
	}
	return depth == 0
}

// tagEnd returns the index of the '>' that closes the tag starting at s[0],
// or -1 if the tag is cut off. A raw '>' inside a quoted attribute value is
// legal XML and must not terminate the scan.
func tagEnd(s string) int {
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '>':
			return i
		}
	}
	return -1
}

// HasWrapperMarker reports whether the fragment contains container or
// reserved-root markup.
func HasWrapperMarker(fragment string) bool {
	for _, m := range wrapperMarkers {
		if strings.Contains(fragment, m) {
			return true
		}
	}
	return false
}

// Result is the outcome of feeding one fragment to the Assembler.
type Result struct {
	Complete bool
	XML      string // accumulated fragment, only meaningful when Complete
	Tail     string // buffer tail for continuation positioning, when truncated
}

// Assembler accumulates possibly-truncated diagram fragments per session
// until a complete cell list has been received.
type Assembler struct {
	mu      sync.Mutex
	buffers map[string]string
}

// NewAssembler creates an empty Assembler.
func NewAssembler() *Assembler {
	return &Assembler{buffers: make(map[string]string)}
}

// Feed appends a fragment to the session's partial buffer and reports
// whether the accumulated document is now complete.
//
// A continuation fragment containing wrapper or reserved-root markers is a
// protocol violation: it is rejected without being appended, and the error
// quotes the buffer tail so the model can re-issue a proper continuation.
func (a *Assembler) Feed(sessionID, fragment string) (Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	buf, continuing := a.buffers[sessionID]
	if continuing && HasWrapperMarker(fragment) {
		return Result{}, schema.NewError(schema.ErrCodeProtocolViolation,
			"continuation restarted the document; continue from the last cell instead").
			WithDetails(map[string]any{"buffer_tail": tail(buf)})
	}

	combined := buf + fragment
	if !IsComplete(combined) {
		a.buffers[sessionID] = combined
		return Result{Tail: tail(combined)}, nil
	}

	delete(a.buffers, sessionID)
	return Result{Complete: true, XML: combined}, nil
}

// Pending reports whether a partial buffer exists for the session.
func (a *Assembler) Pending(sessionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.buffers[sessionID]
	return ok
}

// Reset discards the session's partial buffer.
func (a *Assembler) Reset(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.buffers, sessionID)
}

func tail(s string) string {
	if len(s) <= tailContextLen {
		return s
	}
	return s[len(s)-tailContextLen:]
}

// WrapModel wraps a complete cell fragment in the minimal container the
// renderer expects: the two reserved root cells inside a single
// mxGraphModel/root pair. Fragments that already carry a container are
// returned unchanged; fragments that carry their own root cells keep them.
func WrapModel(fragment string) string {
	if strings.Contains(fragment, "<mxGraphModel") {
		return fragment
	}
	var b strings.Builder
	b.WriteString(`<mxGraphModel dx="800" dy="600" grid="1" gridSize="10"><root>`)
	if !strings.Contains(fragment, `<mxCell id="0"`) {
		b.WriteString(`<mxCell id="0"/><mxCell id="1" parent="0"/>`)
	}
	b.WriteString(fragment)
	b.WriteString(`</root></mxGraphModel>`)
	return b.String()
}

// UnwrapModel extracts the cell fragment from a wrapped document, dropping
// the container and the reserved root cells. Used when re-parsing a document
// that came back from the renderer.
func UnwrapModel(xmlDoc string) string {
	cells, err := ParseFragment(xmlDoc)
	if err != nil {
		return xmlDoc
	}
	doc, err := NewDocument(cells)
	if err != nil {
		return xmlDoc
	}
	return doc.XML()
}
