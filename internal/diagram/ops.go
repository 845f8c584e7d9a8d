package diagram

import (
	"errors"
	"fmt"

	"github.com/drawbridge-ai/drawbridge/pkg/schema"
)

// Operation actions and targets. An EditOperation is a tagged variant over
// {add, modify, delete} x {node, edge}.
const (
	ActionAdd    = "add"
	ActionModify = "modify"
	ActionDelete = "delete"

	TargetNode = "node"
	TargetEdge = "edge"
)

// EditOperation is a single structured edit addressed by cell ID.
// Pointer fields distinguish "not present" from zero values on modify.
type EditOperation struct {
	Action string `json:"action"`
	Target string `json:"target"`
	ID     string `json:"id"`

	Label   *string  `json:"label,omitempty"`
	Style   *string  `json:"style,omitempty"`
	Parent  *string  `json:"parent,omitempty"`
	Source  *string  `json:"source,omitempty"`    // edge only
	Target2 *string  `json:"target_id,omitempty"` // edge only; "target" names the variant
	X       *float64 `json:"x,omitempty"`
	Y       *float64 `json:"y,omitempty"`
	Width   *float64 `json:"width,omitempty"`
	Height  *float64 `json:"height,omitempty"`
}

// OpFailure pairs a failed operation's position with its typed reason.
type OpFailure struct {
	Index     int    `json:"index"`
	Operation string `json:"operation"`
	CellID    string `json:"cell_id"`
	Code      string `json:"code"`
	Reason    string `json:"reason"`
}

func (f OpFailure) String() string {
	return fmt.Sprintf("op %d (%s %s): [%s] %s", f.Index, f.Operation, f.CellID, f.Code, f.Reason)
}

// ApplyResult is the outcome of applying an operation batch.
type ApplyResult struct {
	Document *Document
	Failures []OpFailure
}

// Accepted reports whether the batch may be committed: any failure blocks
// acceptance of the whole batch, even though the successful mutations are
// present in Document.
func (r *ApplyResult) Accepted() bool {
	return len(r.Failures) == 0
}

// Apply applies an ordered batch of edit operations to a copy of base.
// A failed operation is skipped and recorded; the remaining operations still
// attempt to apply against the evolving document, since independent edits in
// one batch are typically uncorrelated. The base document is never mutated.
//
// After the batch, the resulting document's structural invariants are
// re-checked; a violation found at that stage is recorded as a STRUCTURAL
// failure with index -1, distinct from per-operation failures.
func Apply(base *Document, ops []EditOperation) *ApplyResult {
	doc := base.Clone()
	result := &ApplyResult{Document: doc}

	for i, op := range ops {
		if err := applyOne(doc, op); err != nil {
			result.Failures = append(result.Failures, failureFrom(i, op, err))
		}
	}

	if err := doc.Validate(); err != nil {
		result.Failures = append(result.Failures, failureFrom(-1, EditOperation{Action: "batch", Target: "document"}, err))
	}
	return result
}

func applyOne(doc *Document, op EditOperation) error {
	if op.Target != TargetNode && op.Target != TargetEdge {
		return schema.NewErrorf(schema.ErrCodeInvalidPayload, "unknown target %q", op.Target)
	}
	if op.ID == "" {
		return schema.NewError(schema.ErrCodeInvalidPayload, "operation is missing a cell id")
	}

	switch op.Action {
	case ActionAdd:
		return applyAdd(doc, op)
	case ActionModify:
		return applyModify(doc, op)
	case ActionDelete:
		return applyDelete(doc, op)
	default:
		return schema.NewErrorf(schema.ErrCodeInvalidPayload, "unknown action %q", op.Action)
	}
}

func applyAdd(doc *Document, op EditOperation) error {
	if _, exists := doc.CellByID(op.ID); exists {
		return schema.NewErrorf(schema.ErrCodeDuplicateCell, "cell %q already exists", op.ID).WithCell(op.ID)
	}

	c := &Cell{ID: op.ID, Parent: LayerCellID}
	if op.Parent != nil {
		c.Parent = *op.Parent
	}
	if _, ok := doc.CellByID(c.Parent); !ok {
		return schema.NewErrorf(schema.ErrCodeStructural, "parent %q does not exist", c.Parent).WithCell(op.ID)
	}

	switch op.Target {
	case TargetNode:
		c.Vertex = true
		c.Geometry = Geometry{Set: true, Width: 120, Height: 60}
		applyGeometry(c, op)
	case TargetEdge:
		c.Edge = true
		if op.Source == nil || op.Target2 == nil {
			return schema.NewError(schema.ErrCodeInvalidPayload, "adding an edge requires source and target_id").WithCell(op.ID)
		}
		if _, ok := doc.CellByID(*op.Source); !ok {
			return schema.NewErrorf(schema.ErrCodeStructural, "edge source %q does not exist", *op.Source).WithCell(op.ID)
		}
		if _, ok := doc.CellByID(*op.Target2); !ok {
			return schema.NewErrorf(schema.ErrCodeStructural, "edge target %q does not exist", *op.Target2).WithCell(op.ID)
		}
		c.Source = *op.Source
		c.Target = *op.Target2
		c.Geometry = Geometry{Set: true, Relative: true}
	}

	if op.Label != nil {
		c.Value = *op.Label
	}
	if op.Style != nil {
		c.Style = *op.Style
	}
	return doc.Add(c)
}

func applyModify(doc *Document, op EditOperation) error {
	c, ok := doc.CellByID(op.ID)
	if !ok {
		return schema.NewErrorf(schema.ErrCodeUnknownCell, "cell %q does not exist", op.ID).WithCell(op.ID)
	}
	if c.IsRoot() {
		return schema.NewErrorf(schema.ErrCodeStructural, "root cell %q cannot be modified", op.ID).WithCell(op.ID)
	}
	if op.Target == TargetEdge && !c.Edge {
		return schema.NewErrorf(schema.ErrCodeInvalidPayload, "cell %q is not an edge", op.ID).WithCell(op.ID)
	}
	if op.Target == TargetNode && !c.Vertex {
		return schema.NewErrorf(schema.ErrCodeInvalidPayload, "cell %q is not a node", op.ID).WithCell(op.ID)
	}

	if op.Parent != nil {
		if _, ok := doc.CellByID(*op.Parent); !ok {
			return schema.NewErrorf(schema.ErrCodeStructural, "parent %q does not exist", *op.Parent).WithCell(op.ID)
		}
		c.Parent = *op.Parent
	}
	if op.Source != nil {
		if _, ok := doc.CellByID(*op.Source); !ok {
			return schema.NewErrorf(schema.ErrCodeStructural, "edge source %q does not exist", *op.Source).WithCell(op.ID)
		}
		c.Source = *op.Source
	}
	if op.Target2 != nil {
		if _, ok := doc.CellByID(*op.Target2); !ok {
			return schema.NewErrorf(schema.ErrCodeStructural, "edge target %q does not exist", *op.Target2).WithCell(op.ID)
		}
		c.Target = *op.Target2
	}
	if op.Label != nil {
		c.Value = *op.Label
	}
	if op.Style != nil {
		c.Style = *op.Style
	}
	applyGeometry(c, op)
	return nil
}

func applyDelete(doc *Document, op EditOperation) error {
	c, ok := doc.CellByID(op.ID)
	if !ok {
		return schema.NewErrorf(schema.ErrCodeUnknownCell, "cell %q does not exist", op.ID).WithCell(op.ID)
	}
	if c.IsRoot() {
		return schema.NewErrorf(schema.ErrCodeStructural, "root cell %q cannot be deleted", op.ID).WithCell(op.ID)
	}

	doc.Remove(op.ID)

	// Deleting a node also removes edges hanging off it, so the batch never
	// leaves dangling endpoint references behind.
	if c.Vertex {
		for _, other := range append([]*Cell(nil), doc.Cells...) {
			if other.Edge && (other.Source == op.ID || other.Target == op.ID) {
				doc.Remove(other.ID)
			}
		}
	}
	return nil
}

func applyGeometry(c *Cell, op EditOperation) {
	if op.X == nil && op.Y == nil && op.Width == nil && op.Height == nil {
		return
	}
	c.Geometry.Set = true
	c.Geometry.Relative = false
	if op.X != nil {
		c.Geometry.X = *op.X
	}
	if op.Y != nil {
		c.Geometry.Y = *op.Y
	}
	if op.Width != nil {
		c.Geometry.Width = *op.Width
	}
	if op.Height != nil {
		c.Geometry.Height = *op.Height
	}
}

func failureFrom(index int, op EditOperation, err error) OpFailure {
	f := OpFailure{
		Index:     index,
		Operation: op.Action + " " + op.Target,
		CellID:    op.ID,
		Reason:    err.Error(),
	}
	var be *schema.BridgeError
	if errors.As(err, &be) {
		f.Code = be.Code
		f.Reason = be.Message
	}
	return f
}
