package attest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorType is the classification of a failed remote call. It drives the
// retry and credential-invalidation policy.
type ErrorType string

const (
	// ErrorTypeNetwork covers transport failures: connection refused,
	// timeout, DNS failure, no response. Retry is safe; credentials stay.
	ErrorTypeNetwork ErrorType = "network_error"
	// ErrorTypeServer covers remote 5xx responses. Same retry policy as
	// network failures.
	ErrorTypeServer ErrorType = "server_error"
	// ErrorTypeQuota is the application-level credit-exhaustion code.
	// Terminal until the account changes; credentials stay.
	ErrorTypeQuota ErrorType = "insufficient_credits"
	// ErrorTypeAuth covers authentication/authorization failures, and is
	// the only class that invalidates stored credentials.
	ErrorTypeAuth ErrorType = "auth_error"
)

// quotaCode is the machine-readable code the service returns when the
// account is out of credits.
const quotaCode = "insufficient_credits"

// ErrNoToken is returned when an authenticated call is attempted without a
// stored credential. No request is sent; this is a precondition violation,
// not a network failure.
var ErrNoToken = errors.New("attest: no credential present")

// APIError is a classified failure of a remote call.
type APIError struct {
	Type       ErrorType
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("attest: %s (status %d): %s", e.Type, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("attest: %s: %s", e.Type, e.Message)
}

// Retryable reports whether a user-initiated retry can succeed without
// re-authentication.
func (e *APIError) Retryable() bool {
	return e.Type == ErrorTypeNetwork || e.Type == ErrorTypeServer
}

// AsAPIError unwraps err into an APIError if it is one.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// errorBody is the error envelope the service returns with failures.
type errorBody struct {
	ErrorCode string `json:"error_code"`
	Detail    string `json:"detail"`
}

// classifyTransport wraps a transport-level failure (including context
// deadline) as a network error.
func classifyTransport(err error) *APIError {
	return &APIError{Type: ErrorTypeNetwork, Message: err.Error()}
}

// classifyResponse maps a non-2xx response to an error class. The body's
// machine-readable code is the primary signal, the HTTP status secondary.
// Anything unrecognized defaults to the auth class: treating unknown
// failures as session-invalidating is a deliberate safety bias.
func classifyResponse(status int, body []byte) *APIError {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)

	apiErr := &APIError{StatusCode: status, Code: eb.ErrorCode, Message: eb.Detail}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}

	switch {
	case eb.ErrorCode == quotaCode:
		apiErr.Type = ErrorTypeQuota
	case status >= 500:
		apiErr.Type = ErrorTypeServer
	default:
		apiErr.Type = ErrorTypeAuth
	}
	return apiErr
}
