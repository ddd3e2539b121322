package web

// errors.go provides unified error response handling for the web layer.
//
// Every error is logged with its technical detail and the request id, then
// mapped through core.MapError to a user-facing message and code. API
// routes get JSON; pages get an HTML error page.

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/JonMunkholm/openpdi/internal/core"
	"github.com/JonMunkholm/openpdi/internal/history"
	"github.com/JonMunkholm/openpdi/internal/logging"
	"github.com/JonMunkholm/openpdi/internal/service"
	"github.com/JonMunkholm/openpdi/internal/sink"
)

var (
	errRateLimited        = errors.New("rate limit exceeded")
	errUnknownDestination = errors.New("unknown export destination")
)

// errBadRequest marks malformed query or body input.
type errBadRequest struct{ msg string }

func (e errBadRequest) Error() string { return e.msg }

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// statusFor picks the HTTP status for err.
func statusFor(err error) int {
	var ce *core.ConfigurationError
	var br errBadRequest
	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrUnknownTopic):
		return http.StatusNotFound
	case errors.As(err, &ce):
		if ce.Kind == core.ConfigUnknownTopic {
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	case errors.Is(err, history.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrTooManyRuns):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrNoDestination), errors.Is(err, sink.ErrUnsupportedDSN),
		errors.Is(err, errUnknownDestination), errors.Is(err, sink.ErrOutsideRoot):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// respondError logs err and writes the mapped user message. A status of 0
// derives it from the error.
func respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	if status == 0 {
		status = statusFor(err)
	}
	msg := core.MapError(err)
	var br errBadRequest
	if errors.As(err, &br) {
		msg = core.UserMessage{Message: br.msg, Action: "Check the request parameters", Code: "REQ001"}
	}

	logger := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("request error", "status", status, "code", msg.Code, "error", err)
	} else {
		logger.Warn("request error", "status", status, "code", msg.Code, "error", err)
	}

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	if wantsJSON(r) {
		writeJSON(w, r, status, ErrorResponse{
			Error:   msg.Message,
			Message: msg.Message,
			Action:  msg.Action,
			Code:    msg.Code,
		})
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = errorPage(msg).Render(r.Context(), w)
}

// wantsJSON checks if the client prefers a JSON response. API routes and
// the health check always answer JSON.
func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/healthz" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// clientIP is the request's address without the port.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
