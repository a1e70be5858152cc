package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/googleapis/gax-go/v2/apierror"
	"github.com/openai/openai-go"
	"google.golang.org/api/googleapi"
)

// ClassifyFunc inspects the lower-cased signal text of a failure and
// reports a category when it recognises the vendor's vocabulary.
type ClassifyFunc func(signal string) (ErrorCategory, bool)

// Generic signals, checked in order before any provider rule.
var (
	networkSignals = []string{"network", "connection", "timeout", "econnreset", "enotfound"}
	authSignals    = []string{"unauthorized", "authentication", "invalid api key", "forbidden"}
	rateSignals    = []string{"rate limit", "too many requests", "quota"}
	serverSignals  = []string{"internal server error", "service unavailable", "bad gateway"}
	contentSignals = []string{"content policy", "safety", "harmful", "blocked"}

	authCodes   = regexp.MustCompile(`\b(401|403)\b`)
	rateCodes   = regexp.MustCompile(`\b429\b`)
	serverCodes = regexp.MustCompile(`\b(500|502|503)\b`)

	// Anthropic answers 529 when its API is overloaded.
	overloadedCode = regexp.MustCompile(`\b529\b`)
)

// DefaultProviderRules returns a fresh copy of the built-in provider
// strategies, keyed by canonical provider id.
func DefaultProviderRules() map[string]ClassifyFunc {
	return map[string]ClassifyFunc{
		"openai":    classifyOpenAI,
		"anthropic": classifyAnthropic,
		"gemini":    classifyGemini,
	}
}

func classifyOpenAI(s string) (ErrorCategory, bool) {
	switch {
	case containsAny(s, "insufficient_quota", "billing"):
		return CategoryQuotaExceeded, true
	case containsAny(s, "context_length_exceeded", "maximum context length", "invalid_request_error", "invalid request"):
		return CategoryInvalidRequest, true
	case containsAny(s, "model_not_found", "does not exist", "deprecated model"):
		return CategoryModelError, true
	case containsAny(s, "overloaded", "server_error", "server had an error"):
		return CategoryServerError, true
	}
	return "", false
}

func classifyAnthropic(s string) (ErrorCategory, bool) {
	switch {
	case containsAny(s, "overloaded", "api_error") || overloadedCode.MatchString(s):
		return CategoryServerError, true
	case containsAny(s, "prompt is too long", "invalid_request_error", "invalid request"):
		return CategoryInvalidRequest, true
	case containsAny(s, "not_found_error", "model:"):
		return CategoryModelError, true
	case containsAny(s, "permission_error"):
		return CategoryAuthentication, true
	case containsAny(s, "billing", "credit balance"):
		return CategoryQuotaExceeded, true
	}
	return "", false
}

func classifyGemini(s string) (ErrorCategory, bool) {
	switch {
	case containsAny(s, "resource exhausted", "resource_exhausted", "resourceexhausted"):
		return CategoryRateLimit, true
	case containsAny(s, "deadline exceeded", "deadline_exceeded", "deadlineexceeded"):
		return CategoryTimeout, true
	case containsAny(s, "invalid argument", "invalid_argument", "invalidargument", "failed_precondition"):
		return CategoryInvalidRequest, true
	case containsAny(s, "is not found for api version", "not_found", "model not found"):
		return CategoryModelError, true
	case containsAny(s, "unavailable", "internal error"):
		return CategoryServerError, true
	case containsAny(s, "recitation", "prohibited_content"):
		return CategoryContentPolicy, true
	case containsAny(s, "permission_denied", "api key not valid", "unauthenticated"):
		return CategoryAuthentication, true
	}
	return "", false
}

// Classifier maps failures to categories. The zero value has no provider
// rules; use NewClassifier for the built-in set.
type Classifier struct {
	rules map[string]ClassifyFunc
}

// ClassifierOption configures a Classifier.
type ClassifierOption func(*Classifier)

// WithProviderRule adds or replaces the strategy for a provider id.
func WithProviderRule(providerID string, fn ClassifyFunc) ClassifierOption {
	return func(c *Classifier) {
		c.rules[CanonicalProviderID(providerID)] = fn
	}
}

// NewClassifier returns a classifier seeded with DefaultProviderRules.
func NewClassifier(opts ...ClassifierOption) *Classifier {
	c := &Classifier{rules: DefaultProviderRules()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var defaultClassifier = NewClassifier()

// Classify maps err to a category using the built-in rules.
func Classify(err error, providerID string) ErrorCategory {
	return defaultClassifier.Classify(err, providerID)
}

// Classify is total and deterministic for a given (message, provider) pair.
func (c *Classifier) Classify(err error, providerID string) ErrorCategory {
	s := signalText(CoerceError(err))
	if strings.TrimSpace(s) == "" {
		return CategoryUnknown
	}

	switch {
	case containsAny(s, networkSignals...):
		if strings.Contains(s, "timeout") {
			return CategoryTimeout
		}
		return CategoryNetwork
	case containsAny(s, authSignals...) || authCodes.MatchString(s):
		return CategoryAuthentication
	case containsAny(s, rateSignals...) || rateCodes.MatchString(s):
		if strings.Contains(s, "quota") {
			return CategoryQuotaExceeded
		}
		return CategoryRateLimit
	case containsAny(s, serverSignals...) || serverCodes.MatchString(s):
		return CategoryServerError
	case containsAny(s, contentSignals...):
		return CategoryContentPolicy
	}

	if c != nil {
		if rule, ok := c.rules[CanonicalProviderID(providerID)]; ok && rule != nil {
			if cat, ok := rule(s); ok {
				return cat
			}
		}
	}
	return CategoryUnknown
}

// CoerceError turns an arbitrary value, such as a recovered panic, into an
// error. nil becomes a synthetic "unknown error".
func CoerceError(v any) error {
	switch x := v.(type) {
	case nil:
		return errors.New("unknown error")
	case error:
		if isNilError(x) {
			return errors.New("unknown error")
		}
		return x
	case string:
		return errors.New(x)
	case fmt.Stringer:
		return errors.New(x.String())
	default:
		return fmt.Errorf("%v", x)
	}
}

// isNilError catches typed nil pointers stored in an error interface.
func isNilError(err error) (isNil bool) {
	defer func() {
		if recover() != nil {
			isNil = true
		}
	}()
	_ = err.Error()
	return false
}

// signalText is the lower-cased message plus the error's name.
func signalText(err error) string {
	return strings.ToLower(err.Error() + " " + errorName(err))
}

// errorName derives a name for err from its dynamic type, any HTTP status
// carried by a known SDK error, and timeout or network markers.
func errorName(err error) string {
	parts := []string{fmt.Sprintf("%T", err)}

	if code := statusCode(err); code > 0 {
		parts = append(parts, "http "+strconv.Itoa(code))
	}

	if errors.Is(err, context.DeadlineExceeded) {
		parts = append(parts, "timeout")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		parts = append(parts, "timeout")
	}
	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		parts = append(parts, "network")
	}
	return strings.Join(parts, " ")
}

// statusCode extracts an HTTP status from the SDK error types in use.
func statusCode(err error) int {
	var (
		pe  *ProviderError
		ae  *anthropic.Error
		oe  *openai.Error
		ge  *googleapi.Error
		gax *apierror.APIError
	)
	switch {
	case errors.As(err, &pe):
		return pe.StatusCode
	case errors.As(err, &ae):
		return ae.StatusCode
	case errors.As(err, &oe):
		return oe.StatusCode
	case errors.As(err, &ge):
		return ge.Code
	case errors.As(err, &gax):
		if code := gax.HTTPCode(); code > 0 {
			return code
		}
	}
	return 0
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
