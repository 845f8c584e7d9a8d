package vision

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/drawbridge-ai/drawbridge/pkg/schema"
)

// CycleState is a state of the per-tool-call validation cycle.
type CycleState string

const (
	StateCapturing           CycleState = "capturing"
	StateValidating          CycleState = "validating"
	StateSuccess             CycleState = "success"
	StateSuccessWithWarnings CycleState = "success_with_warnings"
	StateFailed              CycleState = "failed"
	StateSkipped             CycleState = "skipped"
	StateError               CycleState = "error"
)

// ValidCycleTransitions defines the allowed state transitions for the cycle.
// success, success_with_warnings, skipped and error are terminal.
var ValidCycleTransitions = map[CycleState][]CycleState{
	StateCapturing:           {StateValidating, StateError, StateSuccess},
	StateValidating:          {StateSuccess, StateSuccessWithWarnings, StateFailed, StateError},
	StateFailed:              {StateCapturing, StateSkipped},
	StateSuccess:             {},
	StateSuccessWithWarnings: {},
	StateSkipped:             {},
	StateError:               {},
}

// DefaultRetryBudget bounds how many failed validation attempts are made
// before the diagram is accepted as-is.
const DefaultRetryBudget = 3

// Validation call timeout bounds.
const (
	MinValidationTimeout     = time.Second
	DefaultValidationTimeout = 10 * time.Second
)

// ClampTimeout applies the default and the minimum bound.
func ClampTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultValidationTimeout
	}
	if d < MinValidationTimeout {
		return MinValidationTimeout
	}
	return d
}

// Validator judges a rendered diagram image against the user's request.
type Validator interface {
	Validate(ctx context.Context, png []byte, description string) (*schema.ValidationResult, error)
}

// CaptureFunc obtains the rendered diagram as PNG bytes.
type CaptureFunc func(ctx context.Context) ([]byte, error)

// Outcome is the result of one validation attempt.
type Outcome struct {
	State    CycleState
	Accepted bool   // the diagram is kept as the user-visible state
	Retry    bool   // the caller should return Feedback to the model and await a fresh attempt
	Feedback string // corrective feedback, empty unless Retry or residual issues remain
	Result   *schema.ValidationResult
}

// Cycle is an explicit validation context: created when a validation round
// begins and threaded through every attempt until one accepts, so no
// ambient retry bookkeeping outlives it.
type Cycle struct {
	ID       string
	state    CycleState
	attempts int
	budget   int

	validator Validator
	capture   CaptureFunc
	timeout   time.Duration
	logger    *slog.Logger
}

// CycleDeps holds the dependencies for creating a Cycle.
type CycleDeps struct {
	Validator Validator   // nil bypasses validation entirely
	Capture   CaptureFunc // nil is treated as capture unavailable
	Timeout   time.Duration
	Budget    int
	Logger    *slog.Logger
}

// NewCycle creates a validation cycle for one tool invocation.
func NewCycle(deps CycleDeps) *Cycle {
	budget := deps.Budget
	if budget <= 0 {
		budget = DefaultRetryBudget
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cycle{
		ID:        uuid.New().String(),
		state:     StateCapturing,
		budget:    budget,
		validator: deps.Validator,
		capture:   deps.Capture,
		timeout:   ClampTimeout(deps.Timeout),
		logger:    logger,
	}
}

// State returns the cycle's current state.
func (c *Cycle) State() CycleState { return c.state }

// Attempts returns how many failed attempts have been counted.
func (c *Cycle) Attempts() int { return c.attempts }

// Attempt runs one capture-and-validate pass.
//
// Failure handling is deliberately asymmetric: a critical visual issue is
// retried up to the budget and then degrades to acceptance-with-warning,
// while any capture or backend error accepts the diagram immediately.
// Validation must never block the user from seeing their diagram.
func (c *Cycle) Attempt(ctx context.Context, description string) Outcome {
	// No vision backend configured: the cycle is bypassed entirely.
	if c.validator == nil {
		c.transition(StateSuccess)
		return Outcome{State: StateSuccess, Accepted: true}
	}

	// A later attempt re-enters capturing from failed.
	if c.state == StateFailed {
		c.transition(StateCapturing)
	}

	png, err := c.doCapture(ctx)
	if err != nil {
		c.logger.Warn("capture failed, accepting diagram without validation", slog.String("error", err.Error()))
		c.transition(StateError)
		return Outcome{State: StateError, Accepted: true}
	}

	c.transition(StateValidating)
	result, err := c.doValidate(ctx, png, description)
	if err != nil {
		c.logger.Warn("validation call failed, accepting diagram", slog.String("error", err.Error()))
		c.transition(StateError)
		return Outcome{State: StateError, Accepted: true}
	}

	result.Normalize()
	if result.Valid {
		if len(result.Issues) == 0 {
			c.transition(StateSuccess)
			return Outcome{State: StateSuccess, Accepted: true, Result: result}
		}
		c.transition(StateSuccessWithWarnings)
		return Outcome{State: StateSuccessWithWarnings, Accepted: true, Feedback: FormatFeedback(result), Result: result}
	}

	c.transition(StateFailed)
	c.attempts++
	if c.attempts < c.budget {
		c.logger.Info("validation failed, requesting regeneration",
			slog.String("cycle_id", c.ID), slog.Int("attempt", c.attempts), slog.Int("budget", c.budget))
		return Outcome{State: StateFailed, Retry: true, Feedback: FormatFeedback(result), Result: result}
	}

	// Budget exhausted: accept the diagram as-is and clear the counter.
	c.transition(StateSkipped)
	c.attempts = 0
	c.logger.Info("retry budget exhausted, accepting diagram with residual issues", slog.String("cycle_id", c.ID))
	return Outcome{State: StateSkipped, Accepted: true, Feedback: FormatFeedback(result), Result: result}
}

func (c *Cycle) doCapture(ctx context.Context) ([]byte, error) {
	if c.capture == nil {
		return nil, schema.NewError(schema.ErrCodeTransport, "no capture channel available")
	}
	return c.capture(ctx)
}

func (c *Cycle) doValidate(ctx context.Context, png []byte, description string) (*schema.ValidationResult, error) {
	vctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.validator.Validate(vctx, png, description)
}

// transition moves to the next state, enforcing the transition table.
// An illegal transition indicates a cycle bug; it is logged and the state
// forced, since the cycle must always terminate.
func (c *Cycle) transition(to CycleState) {
	if !isValidCycleTransition(c.state, to) {
		c.logger.Error("invalid cycle transition", slog.String("from", string(c.state)), slog.String("to", string(to)))
	}
	c.state = to
}

func isValidCycleTransition(from, to CycleState) bool {
	allowed, ok := ValidCycleTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}
