package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Common log attribute keys for consistent naming across the codebase.
const (
	KeyOperation    = "operation"
	KeyComponent    = "component"
	KeyAccount      = "account"
	KeySubscription = "subscription_id"
	KeyClientState  = "client_state"
	KeyResourceID   = "resource_id"
	KeyDuration     = "duration"
	KeyStatus       = "status"
	KeyError        = "error"
	KeyTraceID      = "trace_id"
)

// Status values for consistent logging. They match the metric label values
// used by the instrumentation package.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Log output formats accepted by NewLogger.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// NewLogger builds the process logger. Unknown levels fall back to info and
// unknown formats fall back to text.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, FormatJSON) {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a textual level to a slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithOperation returns a logger with the operation attribute set.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String(KeyOperation, operation))
}

// WithComponent returns a logger with the component attribute set.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String(KeyComponent, component))
}

// WithAccount returns a logger with the anonymized account attribute set.
func WithAccount(logger *slog.Logger, accountID string) *slog.Logger {
	return logger.With(Account(accountID))
}

// TraceID returns a slog attribute for the trace id of the current request.
func TraceID(traceID string) slog.Attr {
	return slog.String(KeyTraceID, traceID)
}

// Operation returns a slog attribute for the operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Account returns a slog attribute with the anonymized home account id.
func Account(accountID string) slog.Attr {
	return slog.String(KeyAccount, AnonymizeAccount(accountID))
}

// Subscription returns a slog attribute for a subscription id.
func Subscription(id string) slog.Attr {
	return slog.String(KeySubscription, id)
}

// ClientState returns a slog attribute with a masked client state.
func ClientState(state string) slog.Attr {
	return slog.String(KeyClientState, SanitizeToken(state))
}

// ResourceID returns a slog attribute for a Graph resource id.
func ResourceID(id string) slog.Attr {
	return slog.String(KeyResourceID, id)
}

// Status returns a slog attribute for the status.
func Status(status string) slog.Attr {
	return slog.String(KeyStatus, status)
}

// Err returns a slog attribute for an error.
// If err is nil, returns an empty Group attribute that will be omitted from output.
//
// Usage:
//
//	logger.Info("operation", logging.Err(err))  // Safe even if err is nil
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}

// AnonymizeAccount returns a hashed representation of a home account id.
// Account ids carry the user's object id and tenant id, so they are hashed to
// allow correlation of log entries without exposing them.
func AnonymizeAccount(accountID string) string {
	if accountID == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(accountID))
	return "account:" + hex.EncodeToString(hash[:8])
}

// SanitizeToken returns a masked version of a token for logging.
// It returns a length indicator without exposing any token content,
// as even partial token prefixes (like JWT headers) can aid attacks.
func SanitizeToken(token string) string {
	if token == "" {
		return "<empty>"
	}
	return fmt.Sprintf("[token:%d chars]", len(token))
}
