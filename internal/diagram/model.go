package diagram

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/drawbridge-ai/drawbridge/pkg/schema"
)

// Reserved root cell IDs. Every finalized document carries exactly one of
// each: cell "0" is the model root, cell "1" is the default layer.
const (
	RootCellID  = "0"
	LayerCellID = "1"
)

// Geometry is the position and size of a vertex cell, or the bounds of an
// edge label when attached to an edge.
type Geometry struct {
	X        float64
	Y        float64
	Width    float64
	Height   float64
	Relative bool
	Set      bool // false when the cell carries no mxGeometry child
}

// Cell is a single node or edge in a diagram document.
// Vertex and Edge are mutually exclusive for non-root cells; root cells
// ("0" and "1") carry neither flag.
type Cell struct {
	ID       string
	Value    string
	Style    string
	Parent   string
	Source   string // edge only
	Target   string // edge only
	Vertex   bool
	Edge     bool
	Geometry Geometry
}

// IsRoot reports whether the cell is one of the two reserved structural anchors.
func (c *Cell) IsRoot() bool {
	return c.ID == RootCellID || c.ID == LayerCellID
}

// Document is an ordered forest of cells indexed by ID.
type Document struct {
	Cells []*Cell
	byID  map[string]*Cell
}

// NewDocument builds a Document from cells in order.
// Returns a DUPLICATE_CELL error if two cells share an ID.
func NewDocument(cells []*Cell) (*Document, error) {
	d := &Document{byID: make(map[string]*Cell, len(cells))}
	for _, c := range cells {
		if _, dup := d.byID[c.ID]; dup {
			return nil, schema.NewErrorf(schema.ErrCodeDuplicateCell, "cell id %q appears more than once", c.ID).WithCell(c.ID)
		}
		d.Cells = append(d.Cells, c)
		d.byID[c.ID] = c
	}
	return d, nil
}

// CellByID looks up a cell by ID.
func (d *Document) CellByID(id string) (*Cell, bool) {
	c, ok := d.byID[id]
	return c, ok
}

// Add appends a cell, rejecting duplicate IDs.
func (d *Document) Add(c *Cell) error {
	if _, dup := d.byID[c.ID]; dup {
		return schema.NewErrorf(schema.ErrCodeDuplicateCell, "cell id %q already exists", c.ID).WithCell(c.ID)
	}
	d.Cells = append(d.Cells, c)
	d.byID[c.ID] = c
	return nil
}

// Remove deletes the cell with the given ID, preserving order of the rest.
func (d *Document) Remove(id string) bool {
	if _, ok := d.byID[id]; !ok {
		return false
	}
	delete(d.byID, id)
	for i, c := range d.Cells {
		if c.ID == id {
			d.Cells = append(d.Cells[:i], d.Cells[i+1:]...)
			break
		}
	}
	return true
}

// Clone returns a deep copy. Mutating the copy never touches the original.
func (d *Document) Clone() *Document {
	cells := make([]*Cell, len(d.Cells))
	for i, c := range d.Cells {
		cp := *c
		cells[i] = &cp
	}
	clone, _ := NewDocument(cells) // IDs already unique in the source
	return clone
}

// Validate checks structural invariants: every non-root parent reference
// resolves, and every edge's source/target resolves.
func (d *Document) Validate() error {
	for _, c := range d.Cells {
		if c.IsRoot() {
			continue
		}
		if c.Parent != "" {
			if _, ok := d.byID[c.Parent]; !ok {
				return schema.NewErrorf(schema.ErrCodeStructural, "parent %q of cell %q does not exist", c.Parent, c.ID).WithCell(c.ID)
			}
		}
		if c.Edge {
			if c.Source != "" {
				if _, ok := d.byID[c.Source]; !ok {
					return schema.NewErrorf(schema.ErrCodeStructural, "edge %q references missing source %q", c.ID, c.Source).WithCell(c.ID)
				}
			}
			if c.Target != "" {
				if _, ok := d.byID[c.Target]; !ok {
					return schema.NewErrorf(schema.ErrCodeStructural, "edge %q references missing target %q", c.ID, c.Target).WithCell(c.ID)
				}
			}
		}
	}
	return nil
}

// --- Parsing ---

// xmlCell mirrors the mxCell wire element.
type xmlCell struct {
	XMLName  xml.Name     `xml:"mxCell"`
	ID       string       `xml:"id,attr"`
	Value    string       `xml:"value,attr"`
	Style    string       `xml:"style,attr"`
	Parent   string       `xml:"parent,attr"`
	Source   string       `xml:"source,attr"`
	Target   string       `xml:"target,attr"`
	Vertex   string       `xml:"vertex,attr"`
	Edge     string       `xml:"edge,attr"`
	Geometry *xmlGeometry `xml:"mxGeometry"`
}

type xmlGeometry struct {
	X        float64 `xml:"x,attr"`
	Y        float64 `xml:"y,attr"`
	Width    float64 `xml:"width,attr"`
	Height   float64 `xml:"height,attr"`
	Relative string  `xml:"relative,attr"`
	As       string  `xml:"as,attr"`
}

// ParseFragment decodes a sequence of mxCell elements.
// The input may be a bare cell list, a <root> body, or a full
// <mxGraphModel> container; only mxCell elements are extracted.
func ParseFragment(fragment string) ([]*Cell, error) {
	dec := xml.NewDecoder(strings.NewReader("<fragment>" + fragment + "</fragment>"))
	var cells []*Cell
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidPayload, "malformed diagram XML: %v", err).WithCause(err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "mxCell" {
			continue
		}
		var xc xmlCell
		if err := dec.DecodeElement(&xc, &start); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidPayload, "malformed mxCell element: %v", err).WithCause(err)
		}
		cells = append(cells, cellFromXML(&xc))
	}
	return cells, nil
}

// ParseDocument parses a fragment and indexes the result.
func ParseDocument(fragment string) (*Document, error) {
	cells, err := ParseFragment(fragment)
	if err != nil {
		return nil, err
	}
	return NewDocument(cells)
}

func cellFromXML(xc *xmlCell) *Cell {
	c := &Cell{
		ID:     xc.ID,
		Value:  xc.Value,
		Style:  xc.Style,
		Parent: xc.Parent,
		Source: xc.Source,
		Target: xc.Target,
		Vertex: xc.Vertex == "1",
		Edge:   xc.Edge == "1",
	}
	if xc.Geometry != nil {
		c.Geometry = Geometry{
			X: xc.Geometry.X, Y: xc.Geometry.Y,
			Width: xc.Geometry.Width, Height: xc.Geometry.Height,
			Relative: xc.Geometry.Relative == "1",
			Set:      true,
		}
	}
	return c
}

// --- Serialization ---

// XML serializes the document's cells as an mxCell fragment, roots excluded.
func (d *Document) XML() string {
	var b strings.Builder
	for _, c := range d.Cells {
		if c.IsRoot() {
			continue
		}
		writeCell(&b, c)
	}
	return b.String()
}

func writeCell(b *strings.Builder, c *Cell) {
	b.WriteString(`<mxCell id="` + escapeAttr(c.ID) + `"`)
	if c.Value != "" {
		b.WriteString(` value="` + escapeAttr(c.Value) + `"`)
	}
	if c.Style != "" {
		b.WriteString(` style="` + escapeAttr(c.Style) + `"`)
	}
	if c.Vertex {
		b.WriteString(` vertex="1"`)
	}
	if c.Edge {
		b.WriteString(` edge="1"`)
	}
	if c.Parent != "" {
		b.WriteString(` parent="` + escapeAttr(c.Parent) + `"`)
	}
	if c.Source != "" {
		b.WriteString(` source="` + escapeAttr(c.Source) + `"`)
	}
	if c.Target != "" {
		b.WriteString(` target="` + escapeAttr(c.Target) + `"`)
	}
	if c.Geometry.Set {
		b.WriteString(">")
		if c.Geometry.Relative {
			b.WriteString(`<mxGeometry relative="1" as="geometry"/>`)
		} else {
			fmt.Fprintf(b, `<mxGeometry x="%g" y="%g" width="%g" height="%g" as="geometry"/>`,
				c.Geometry.X, c.Geometry.Y, c.Geometry.Width, c.Geometry.Height)
		}
		b.WriteString("</mxCell>")
	} else if c.Edge {
		b.WriteString(`><mxGeometry relative="1" as="geometry"/></mxCell>`)
	} else {
		b.WriteString("/>")
	}
}

func escapeAttr(s string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return s
	}
	// EscapeText escapes newlines and tabs too; quotes are what matter here.
	return strings.ReplaceAll(b.String(), "&#x9;", "\t")
}
