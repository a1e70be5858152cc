package unifiedllm

import (
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

// ErrorMetadata carries the diagnostic detail of a processed failure.
type ErrorMetadata struct {
	ErrorName    string         `json:"error_name"`
	ErrorMessage string         `json:"error_message"`
	Stack        string         `json:"stack,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	TimestampUTC time.Time      `json:"timestamp_utc"`
}

// ProcessedError is the structured record of one classified failure. It is
// built fresh for every failure and not modified afterwards.
type ProcessedError struct {
	ID                string        `json:"id"`
	OriginalError     error         `json:"-"`
	Category          ErrorCategory `json:"category"`
	Severity          Severity      `json:"severity"`
	IsRetryable       bool          `json:"is_retryable"`
	RetryDelay        time.Duration `json:"retry_delay,omitempty"`
	UserMessage       string        `json:"user_message"`
	ProviderID        string        `json:"provider_id"`
	Metadata          ErrorMetadata `json:"metadata"`
	ExternalErrorType ErrorKind     `json:"external_error_type"`
}

// ProcessError classifies err for providerID and builds the envelope.
// callContext is copied into Metadata.Context.
func ProcessError(err error, providerID string, callContext map[string]any, retryable CategorySet) *ProcessedError {
	return buildProcessedError(defaultClassifier, err, providerID, callContext, retryable, time.Now())
}

func buildProcessedError(c *Classifier, err error, providerID string, callContext map[string]any, retryable CategorySet, now time.Time) *ProcessedError {
	err = CoerceError(err)
	category := c.Classify(err, providerID)

	var ctxCopy map[string]any
	if len(callContext) > 0 {
		ctxCopy = maps.Clone(callContext)
	}

	return &ProcessedError{
		ID:            uuid.New().String(),
		OriginalError: err,
		Category:      category,
		Severity:      SeverityFor(category),
		IsRetryable:   retryable.Contains(category),
		UserMessage:   UserMessageFor(category, providerID),
		ProviderID:    providerID,
		Metadata: ErrorMetadata{
			ErrorName:    fmt.Sprintf("%T", err),
			ErrorMessage: err.Error(),
			Stack:        stackOf(err),
			Context:      ctxCopy,
			TimestampUTC: now.UTC(),
		},
		ExternalErrorType: KindFor(category),
	}
}

// withRetryDelay returns a copy carrying the scheduled delay.
func (pe *ProcessedError) withRetryDelay(d time.Duration) *ProcessedError {
	cp := *pe
	cp.RetryDelay = d
	return &cp
}

// ToError converts the envelope into the externally visible error.
func (pe *ProcessedError) ToError() *Error {
	md := make(map[string]any, len(pe.Metadata.Context)+4)
	for k, v := range pe.Metadata.Context {
		md[k] = v
	}
	// Reserved keys win over call context.
	md["error_id"] = pe.ID
	md["original_message"] = pe.Metadata.ErrorMessage
	md["error_name"] = pe.Metadata.ErrorName
	md["timestamp"] = pe.Metadata.TimestampUTC
	return &Error{
		Message:    pe.UserMessage,
		Kind:       pe.ExternalErrorType,
		ProviderID: pe.ProviderID,
		Code:       string(pe.Category),
		Category:   pe.Category,
		Severity:   pe.Severity,
		Retryable:  pe.IsRetryable,
		Metadata:   md,
		Cause:      pe.OriginalError,
	}
}

// stackOf returns the verbose rendering of errors that carry one, such as
// errors built with a stack-capturing package. Plain errors yield "".
func stackOf(err error) string {
	if _, ok := err.(fmt.Formatter); !ok {
		return ""
	}
	verbose := fmt.Sprintf("%+v", err)
	if verbose == err.Error() {
		return ""
	}
	return verbose
}

var userMessageTemplates = map[ErrorCategory]string{
	CategoryNetwork:        "Unable to reach %s. Please check your network connection and try again.",
	CategoryAuthentication: "Authentication with %s failed. Please check your API key configuration.",
	CategoryRateLimit:      "%s is receiving too many requests right now. Please wait a moment and try again.",
	CategoryQuotaExceeded:  "Your %s usage quota has been exceeded. Please check your plan and billing details.",
	CategoryInvalidRequest: "The request sent to %s was invalid. Please review your input and try again.",
	CategoryModelError:     "The requested %s model is unavailable or could not process the request.",
	CategoryContentPolicy:  "The request was blocked by the %s content policy.",
	CategoryTimeout:        "The request to %s timed out. Please try again.",
	CategoryServerError:    "%s is experiencing service issues. Please try again later.",
	CategoryUnknown:        "An unexpected error occurred while communicating with %s.",
}

// UserMessageFor renders the end-user message for a category. Only the
// provider's display name is interpolated.
func UserMessageFor(category ErrorCategory, providerID string) string {
	tmpl, ok := userMessageTemplates[category]
	if !ok {
		tmpl = userMessageTemplates[CategoryUnknown]
	}
	return fmt.Sprintf(tmpl, ProviderDisplayName(providerID))
}
