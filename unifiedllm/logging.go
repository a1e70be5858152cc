package unifiedllm

import (
	"github.com/rs/zerolog"
)

// Logger is the structured logging hook used by executors and breakers.
// Implementations must not block; the retry loop calls them inline.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, err error, fields map[string]any)
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, map[string]any) {}
func (NopLogger) Info(string, map[string]any) {}
func (NopLogger) Warn(string, map[string]any) {}
func (NopLogger) Error(string, error, map[string]any) {}

// ZerologLogger adapts a zerolog.Logger. Pair it with a diode writer when
// the sink may be slow.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger wraps l.
func NewZerologLogger(l zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{log: l}
}

func (z *ZerologLogger) Debug(msg string, fields map[string]any) {
	z.log.Debug().Fields(fields).Msg(msg)
}

func (z *ZerologLogger) Info(msg string, fields map[string]any) {
	z.log.Info().Fields(fields).Msg(msg)
}

func (z *ZerologLogger) Warn(msg string, fields map[string]any) {
	z.log.Warn().Fields(fields).Msg(msg)
}

func (z *ZerologLogger) Error(msg string, err error, fields map[string]any) {
	z.log.Error().Err(err).Fields(fields).Msg(msg)
}

// logSafely runs fn and swallows any panic from a misbehaving Logger.
func logSafely(fn func()) {
	defer func() { _ = recover() }()
	fn()
}

// logProcessed logs a failure at the level implied by its severity:
// critical and high go to error, medium to warn, low to info.
func logProcessed(l Logger, msg string, pe *ProcessedError, extra map[string]any) {
	if l == nil {
		return
	}
	fields := make(map[string]any, len(pe.Metadata.Context)+len(extra)+7)
	for k, v := range pe.Metadata.Context {
		fields[k] = v
	}
	for k, v := range extra {
		fields[k] = v
	}
	fields["error_id"] = pe.ID
	fields["provider"] = pe.ProviderID
	fields["category"] = string(pe.Category)
	fields["severity"] = pe.Severity.String()
	fields["retryable"] = pe.IsRetryable
	fields["error_name"] = pe.Metadata.ErrorName
	fields["raw_message"] = pe.Metadata.ErrorMessage
	logSafely(func() {
		switch pe.Severity {
		case SeverityCritical, SeverityHigh:
			l.Error(msg, pe.OriginalError, fields)
		case SeverityMedium:
			l.Warn(msg, fields)
		default:
			l.Info(msg, fields)
		}
	})
}
