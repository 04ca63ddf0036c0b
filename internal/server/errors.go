package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/leapstack-labs/leapviz/internal/engine"
	"github.com/leapstack-labs/leapviz/pkg/client"
)

type errorBody struct {
	Error string `json:"error"`
}

// statusError carries an explicit status from the transport layer.
type statusError struct {
	status int
	msg    string
}

func (e *statusError) Error() string { return e.msg }

// statusFor maps err to an HTTP status and a client-facing message.
func statusFor(err error) (int, string) {
	var se *statusError
	if errors.As(err, &se) {
		return se.status, se.msg
	}
	return engine.Status(err)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		s.logger.Debug("request cancelled", "path", r.URL.Path)
		return
	}

	attrs := []any{"path", r.URL.Path, "status", status, "error", err, "request_id", RequestIDFromContext(r.Context())}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", attrs...)
	} else {
		s.logger.Debug("request rejected", attrs...)
	}
	writeJSON(w, status, errorBody{Error: msg})
}

type requestIDKey struct{}

// requestID echoes the caller's X-Request-ID or assigns a new one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(client.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(client.RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// RequestIDFromContext returns the request ID assigned by the server.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
