package unifiedllm

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind is the coarse failure contract shared by every provider.
type ErrorKind string

const (
	KindProvider      ErrorKind = "PROVIDER_ERROR"
	KindValidation    ErrorKind = "VALIDATION_ERROR"
	KindRateLimit     ErrorKind = "RATE_LIMIT_ERROR"
	KindSecurity      ErrorKind = "SECURITY_ERROR"
	KindTimeout       ErrorKind = "TIMEOUT_ERROR"
	KindConfiguration ErrorKind = "CONFIGURATION_ERROR"
	KindUnknown       ErrorKind = "UNKNOWN_ERROR"
)

// CodeCircuitOpen is the Error.Code of circuit breaker rejections.
const CodeCircuitOpen = "CIRCUIT_OPEN"

// ErrCircuitOpen is matched by errors.Is for calls rejected by an open breaker.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Error is the single externally visible error type. Callers branch on Kind
// or Category; Message is safe to show to end users and never contains the
// provider's raw text, which is kept in Metadata["original_message"].
type Error struct {
	Message    string         `json:"message"`
	Kind       ErrorKind      `json:"kind"`
	ProviderID string         `json:"provider_id,omitempty"`
	Code       string         `json:"code,omitempty"`
	Category   ErrorCategory  `json:"category,omitempty"`
	Severity   Severity       `json:"severity"`
	Retryable  bool           `json:"retryable"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Cause      error          `json:"-"`
}

func (e *Error) Error() string {
	if e.ProviderID != "" {
		return fmt.Sprintf("[%s] %s: %s", e.ProviderID, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// OriginalMessage returns the raw provider text retained for diagnostics.
func (e *Error) OriginalMessage() string {
	if s, ok := e.Metadata["original_message"].(string); ok {
		return s
	}
	return ""
}

// AsError extracts an *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable reports whether err is an *Error flagged retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// newCircuitOpenError builds the synthetic rejection returned by an open
// breaker. It is not run through the classifier.
func newCircuitOpenError(name string) *Error {
	return &Error{
		Message:    fmt.Sprintf("%s is temporarily unavailable, please try again later", ProviderDisplayName(name)),
		Kind:       KindProvider,
		ProviderID: name,
		Code:       CodeCircuitOpen,
		Severity:   SeverityHigh,
		Cause:      ErrCircuitOpen,
	}
}

// ProviderError is returned by adapters that learn an HTTP status from a
// provider without an SDK error type. The classifier reads StatusCode.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Cause      error
}

func (e *ProviderError) Error() string {
	status := http.StatusText(e.StatusCode)
	switch {
	case e.StatusCode == 0:
		return fmt.Sprintf("[%s] %s", e.Provider, e.Message)
	case status == "":
		return fmt.Sprintf("[%s] %s (status=%d)", e.Provider, e.Message, e.StatusCode)
	default:
		return fmt.Sprintf("[%s] %s (status=%d %s)", e.Provider, e.Message, e.StatusCode, status)
	}
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the provider's HTTP status code, or 0 if unknown.
func (e *ProviderError) HTTPStatus() int {
	return e.StatusCode
}
