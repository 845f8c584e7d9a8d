package httpapi

import (
	"errors"
	"net/http"

	"github.com/drawbridge-ai/drawbridge/pkg/schema"
)

// statusFor maps domain error codes onto HTTP statuses.
func statusFor(err error) int {
	var be *schema.BridgeError
	if !errors.As(err, &be) {
		return http.StatusInternalServerError
	}
	switch be.Code {
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeInvalidPayload, schema.ErrCodeProtocolViolation, schema.ErrCodeTruncated:
		return http.StatusBadRequest
	case schema.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
