package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeTruncated         = "TRUNCATED"
	ErrCodeProtocolViolation = "PROTOCOL_VIOLATION"
	ErrCodeUnknownCell       = "UNKNOWN_CELL"
	ErrCodeDuplicateCell     = "DUPLICATE_CELL"
	ErrCodeInvalidPayload    = "INVALID_PAYLOAD"
	ErrCodeStructural        = "STRUCTURAL_VIOLATION"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeExportPending     = "EXPORT_PENDING"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeTransport         = "TRANSPORT_ERROR"
)

// BridgeError is the structured error type for all drawbridge operations.
type BridgeError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	CellID  string         `json:"cell_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *BridgeError) Error() string {
	if e.CellID != "" {
		return fmt.Sprintf("[%s] cell %s: %s", e.Code, e.CellID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *BridgeError) Unwrap() error {
	return e.Cause
}

// NewError creates a new BridgeError.
func NewError(code, message string) *BridgeError {
	return &BridgeError{Code: code, Message: message}
}

// NewErrorf creates a new BridgeError with a formatted message.
func NewErrorf(code, format string, args ...any) *BridgeError {
	return &BridgeError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCell attaches a cell ID to the error.
func (e *BridgeError) WithCell(cellID string) *BridgeError {
	e.CellID = cellID
	return e
}

// WithCause attaches an underlying cause.
func (e *BridgeError) WithCause(err error) *BridgeError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *BridgeError) WithDetails(details map[string]any) *BridgeError {
	e.Details = details
	return e
}
