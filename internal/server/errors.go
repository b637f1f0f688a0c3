package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/teemow/inboxhook/internal/graph"
	"github.com/teemow/inboxhook/internal/identity"
	"github.com/teemow/inboxhook/internal/instrumentation"
	"github.com/teemow/inboxhook/internal/logging"
)

// Bodies of the plain text error responses.
const (
	bodyNoSession  = "Error"
	bodyAuthFailed = "Authentication failed"
)

// statusFor maps an error to the response status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, identity.ErrAuthentication), errors.Is(err, graph.ErrUnauthorised):
		return http.StatusUnauthorized
	case errors.Is(err, graph.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, graph.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs err and answers with the mapped status. Only the status
// text reaches the client.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := statusFor(err)
	if traceID := instrumentation.GetTraceID(r.Context()); traceID != "" {
		logger = logger.With(logging.TraceID(traceID))
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", slog.Int("status", status), logging.Err(err))
	} else {
		logger.Warn("request failed", slog.Int("status", status), logging.Err(err))
	}
	http.Error(w, http.StatusText(status), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
