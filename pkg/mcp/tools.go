package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/drawbridge-ai/drawbridge/internal/diagram"
	"github.com/drawbridge-ai/drawbridge/internal/logging"
	"github.com/drawbridge-ai/drawbridge/internal/session"
	"github.com/drawbridge-ai/drawbridge/internal/vision"
	"github.com/drawbridge-ai/drawbridge/pkg/schema"
)

// handleDisplay renders a full diagram. A display call always starts a
// fresh document: any partial buffer left by an abandoned stream is
// discarded first.
func (s *DrawbridgeServer) handleDisplay(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	xml, err := req.RequireString("xml")
	if err != nil {
		return mcp.NewToolResultError("xml is required"), nil
	}
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	if !session.ValidID(sessionID) {
		return mcp.NewToolResultError(fmt.Sprintf("session_id %q is not a recognized session id (expected an mcp- prefix)", sessionID)), nil
	}
	ctx = logging.WithIDs(ctx, sessionID, uuid.NewString())
	s.logger.InfoContext(ctx, "display_diagram invoked", slog.Int("fragment_len", len(xml)))
	s.captureSession(ctx, sessionID)
	s.rememberDescription(sessionID, req.GetString("description", ""))

	s.assembler.Reset(sessionID)
	return s.ingest(ctx, sessionID, xml, "displayed")
}

// handleAppend continues a diagram whose previous fragment was truncated.
func (s *DrawbridgeServer) handleAppend(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	xml, err := req.RequireString("xml")
	if err != nil {
		return mcp.NewToolResultError("xml is required"), nil
	}
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	if !session.ValidID(sessionID) {
		return mcp.NewToolResultError(fmt.Sprintf("session_id %q is not a recognized session id (expected an mcp- prefix)", sessionID)), nil
	}
	ctx = logging.WithIDs(ctx, sessionID, uuid.NewString())
	s.logger.InfoContext(ctx, "append_diagram invoked", slog.Int("fragment_len", len(xml)))
	s.captureSession(ctx, sessionID)

	if !s.assembler.Pending(sessionID) {
		return mcp.NewToolResultError("nothing to continue: there is no partial diagram buffered for this session. Use display_diagram to start a new one."), nil
	}
	return s.ingest(ctx, sessionID, xml, "completed")
}

// ingest feeds a fragment through the assembler and, on completion, lands
// the wrapped document and runs the validation cycle.
func (s *DrawbridgeServer) ingest(ctx context.Context, sessionID, fragment, verb string) (*mcp.CallToolResult, error) {
	res, err := s.assembler.Feed(sessionID, fragment)
	if err != nil {
		return protocolViolationResult(err), nil
	}
	if !res.Complete {
		return mcp.NewToolResultError(fmt.Sprintf(
			"The diagram XML is incomplete (truncated mid-element). Call append_diagram with the continuation, resuming exactly after this tail:\n%s", res.Tail)), nil
	}

	// Parse the wrapped form so parent references to the reserved roots
	// resolve during structural validation.
	wrapped := diagram.WrapModel(res.XML)
	doc, err := diagram.ParseDocument(wrapped)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("The diagram XML is malformed: %v. Fix the XML and re-send the full diagram with display_diagram.", err)), nil
	}
	if err := doc.Validate(); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("The diagram is structurally invalid: %v. Fix the references and re-send the full diagram with display_diagram.", err)), nil
	}

	version, err := s.sessions.Write(ctx, sessionID, wrapped, "")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to store diagram: %v", err)), nil
	}

	outcome := s.runValidation(ctx, sessionID)
	if outcome.Retry {
		return mcp.NewToolResultError(outcome.Feedback), nil
	}

	msg := fmt.Sprintf("Diagram %s successfully (session %s, version %d).", verb, sessionID, version)
	return acceptedResult(msg, outcome), nil
}

// handleEdit applies a batch of structured operations to the current
// diagram. The batch is atomic from the caller's perspective: any failure
// keeps the stored document untouched.
func (s *DrawbridgeServer) handleEdit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	if !session.ValidID(sessionID) {
		return mcp.NewToolResultError(fmt.Sprintf("session_id %q is not a recognized session id (expected an mcp- prefix)", sessionID)), nil
	}
	ctx = logging.WithIDs(ctx, sessionID, uuid.NewString())
	s.captureSession(ctx, sessionID)
	s.rememberDescription(sessionID, req.GetString("description", ""))

	rawOps, ok := req.GetArguments()["operations"]
	if !ok {
		return mcp.NewToolResultError("operations is required"), nil
	}
	encoded, err := json.Marshal(rawOps)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("operations is not encodable: %v", err)), nil
	}
	ops, err := diagram.DecodeOperations(encoded)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid operations payload: %v", err)), nil
	}
	s.logger.InfoContext(ctx, "edit_diagram invoked", slog.Int("operations", len(ops)))

	state, ok := s.sessions.Read(sessionID)
	if !ok || state.XML == "" {
		return mcp.NewToolResultError(fmt.Sprintf("session %s has no diagram to edit. Create one first with display_diagram.", sessionID)), nil
	}
	// Ask the renderer for its latest document so a human edit racing this
	// batch lands in the store for the next attempt. The request is
	// satisfied asynchronously; this batch applies to the version read above.
	s.sessions.RequestSync(ctx, sessionID)
	base, err := diagram.ParseDocument(state.XML)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("stored diagram could not be parsed: %v", err)), nil
	}

	result := diagram.Apply(base, ops)
	if !result.Accepted() {
		return editRejectedResult(result, state.XML), nil
	}

	wrapped := diagram.WrapModel(result.Document.XML())
	version, err := s.sessions.Write(ctx, sessionID, wrapped, "")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to store diagram: %v", err)), nil
	}

	outcome := s.runValidation(ctx, sessionID)
	if outcome.Retry {
		return mcp.NewToolResultError(outcome.Feedback), nil
	}

	msg := fmt.Sprintf("Diagram edited successfully (session %s, version %d, %d operations applied).", sessionID, version, len(ops))
	return acceptedResult(msg, outcome), nil
}

// --- Validation cycle wiring ---

// runValidation runs one attempt of the session's validation cycle. The
// cycle survives across tool calls so that corrective retries share one
// budget; it is dropped as soon as an attempt accepts the diagram.
func (s *DrawbridgeServer) runValidation(ctx context.Context, sessionID string) vision.Outcome {
	if s.validator == nil || s.capture == nil {
		return vision.Outcome{State: vision.StateSuccess, Accepted: true}
	}

	s.cycleMu.Lock()
	cycle, ok := s.cycles[sessionID]
	if !ok {
		cycle = vision.NewCycle(vision.CycleDeps{
			Validator: s.validator,
			Capture:   s.capture(sessionID),
			Timeout:   s.timeout,
			Budget:    s.budget,
			Logger:    s.logger,
		})
		s.cycles[sessionID] = cycle
	}
	description := s.descriptions[sessionID]
	s.cycleMu.Unlock()

	outcome := cycle.Attempt(ctx, description)
	if outcome.Accepted {
		s.cycleMu.Lock()
		delete(s.cycles, sessionID)
		s.cycleMu.Unlock()
	}
	return outcome
}

// acceptedResult builds the success acknowledgment, carrying any residual
// validation feedback (warnings, or acceptance after an exhausted budget).
func acceptedResult(msg string, outcome vision.Outcome) *mcp.CallToolResult {
	switch outcome.State {
	case vision.StateSkipped:
		msg += "\n\nThe diagram was accepted despite unresolved visual issues (validation retries exhausted)."
		if outcome.Feedback != "" {
			msg += "\n" + outcome.Feedback
		}
	case vision.StateSuccessWithWarnings:
		if outcome.Feedback != "" {
			msg += "\n\nVisual validation passed with warnings:\n" + outcome.Feedback
		}
	}
	return mcp.NewToolResultText(msg)
}

// protocolViolationResult formats a corrective instruction for a
// continuation that re-sent wrapper or reserved-root markers.
func protocolViolationResult(err error) *mcp.CallToolResult {
	var be *schema.BridgeError
	if errors.As(err, &be) && be.Code == schema.ErrCodeProtocolViolation {
		tail, _ := be.Details["buffer_tail"].(string)
		return mcp.NewToolResultError(fmt.Sprintf(
			"Protocol violation: the continuation must not repeat the mxGraphModel/root wrapper or the reserved root cells. Send only the remaining mxCell content, resuming exactly after this tail:\n%s", tail))
	}
	return mcp.NewToolResultError(fmt.Sprintf("diagram assembly failed: %v", err))
}

// editRejectedResult itemizes batch failures and echoes the untouched
// current document so the model can re-derive a correct batch.
func editRejectedResult(result *diagram.ApplyResult, currentXML string) *mcp.CallToolResult {
	var b strings.Builder
	b.WriteString("The edit batch was rejected; no changes were applied:\n")
	for _, f := range result.Failures {
		b.WriteString(" - ")
		b.WriteString(f.String())
		b.WriteString("\n")
	}
	b.WriteString("\nCurrent diagram (unchanged):\n")
	b.WriteString(diagram.UnwrapModel(currentXML))
	return mcp.NewToolResultError(b.String())
}

// rememberDescription records the caller's stated intent for the session so
// the vision check can judge the rendering against it. An empty value keeps
// the previous one: a continuation or retry call rarely restates the intent.
func (s *DrawbridgeServer) rememberDescription(sessionID, description string) {
	if description == "" {
		return
	}
	s.cycleMu.Lock()
	s.descriptions[sessionID] = description
	s.cycleMu.Unlock()
}

// captureSession maps the diagram session to its MCP client session for
// notifications.
func (s *DrawbridgeServer) captureSession(ctx context.Context, sessionID string) {
	if cs := server.ClientSessionFromContext(ctx); cs != nil {
		s.registry.Register(sessionID, cs.SessionID())
	}
}
