package unifiedllm

import (
	"fmt"
	"strings"
)

// ErrorCategory is the closed classification of a failure's underlying cause.
type ErrorCategory string

const (
	CategoryNetwork        ErrorCategory = "network"
	CategoryAuthentication ErrorCategory = "authentication"
	CategoryRateLimit      ErrorCategory = "rate_limit"
	CategoryQuotaExceeded  ErrorCategory = "quota_exceeded"
	CategoryInvalidRequest ErrorCategory = "invalid_request"
	CategoryModelError     ErrorCategory = "model_error"
	CategoryContentPolicy  ErrorCategory = "content_policy"
	CategoryTimeout        ErrorCategory = "timeout"
	CategoryServerError    ErrorCategory = "server_error"
	CategoryUnknown        ErrorCategory = "unknown"
)

// Categories returns every ErrorCategory in declaration order.
func Categories() []ErrorCategory {
	return []ErrorCategory{
		CategoryNetwork,
		CategoryAuthentication,
		CategoryRateLimit,
		CategoryQuotaExceeded,
		CategoryInvalidRequest,
		CategoryModelError,
		CategoryContentPolicy,
		CategoryTimeout,
		CategoryServerError,
		CategoryUnknown,
	}
}

// Valid reports whether c is one of the known categories.
func (c ErrorCategory) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory parses a category name case-insensitively.
func ParseCategory(s string) (ErrorCategory, error) {
	c := ErrorCategory(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown error category %q", s)
	}
	return c, nil
}

// Severity is the operational priority tier of a category. Higher values
// need more attention; critical failures will not resolve by retrying.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name.
func (s *Severity) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "low":
		*s = SeverityLow
	case "medium":
		*s = SeverityMedium
	case "high":
		*s = SeverityHigh
	case "critical":
		*s = SeverityCritical
	default:
		return fmt.Errorf("unknown severity %q", text)
	}
	return nil
}

var severityByCategory = map[ErrorCategory]Severity{
	CategoryAuthentication: SeverityCritical,
	CategoryQuotaExceeded:  SeverityCritical,
	CategoryModelError:     SeverityHigh,
	CategoryContentPolicy:  SeverityHigh,
	CategoryRateLimit:      SeverityMedium,
	CategoryInvalidRequest: SeverityMedium,
	CategoryNetwork:        SeverityLow,
	CategoryTimeout:        SeverityLow,
	CategoryServerError:    SeverityLow,
	CategoryUnknown:        SeverityMedium,
}

// SeverityFor maps a category to its severity. Unmapped categories are medium.
func SeverityFor(c ErrorCategory) Severity {
	if s, ok := severityByCategory[c]; ok {
		return s
	}
	return SeverityMedium
}

var kindByCategory = map[ErrorCategory]ErrorKind{
	CategoryAuthentication: KindProvider,
	CategoryRateLimit:      KindRateLimit,
	CategoryQuotaExceeded:  KindRateLimit,
	CategoryInvalidRequest: KindValidation,
	CategoryContentPolicy:  KindSecurity,
	CategoryTimeout:        KindTimeout,
	CategoryNetwork:        KindProvider,
	CategoryServerError:    KindProvider,
	CategoryModelError:     KindProvider,
	CategoryUnknown:        KindUnknown,
}

// KindFor maps a category to the externally visible error kind.
func KindFor(c ErrorCategory) ErrorKind {
	if k, ok := kindByCategory[c]; ok {
		return k
	}
	return KindUnknown
}

// CategorySet is an immutable-by-convention set of categories.
type CategorySet map[ErrorCategory]struct{}

// NewCategorySet builds a set from the given categories.
func NewCategorySet(categories ...ErrorCategory) CategorySet {
	set := make(CategorySet, len(categories))
	for _, c := range categories {
		set[c] = struct{}{}
	}
	return set
}

// Contains reports whether c is in the set.
func (s CategorySet) Contains(c ErrorCategory) bool {
	_, ok := s[c]
	return ok
}

// Clone returns an independent copy of the set. A nil set stays nil.
func (s CategorySet) Clone() CategorySet {
	if s == nil {
		return nil
	}
	out := make(CategorySet, len(s))
	for c := range s {
		out[c] = struct{}{}
	}
	return out
}

// Slice returns the members in declaration order.
func (s CategorySet) Slice() []ErrorCategory {
	var out []ErrorCategory
	for _, c := range Categories() {
		if s.Contains(c) {
			out = append(out, c)
		}
	}
	return out
}
