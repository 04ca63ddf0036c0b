package apierr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// StatusError reports an HTTP response with a non-success status.
// Transport clients return it so Classify can map the status.
type StatusError struct {
	Status    int
	Body      []byte
	RequestID string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Status)
}

// FromStatus maps an HTTP status (and optional structured body) to an Error.
// The mapping is total: every status yields exactly one kind.
func FromStatus(status int, body []byte, requestID string) *Error {
	kind, retryable := kindForStatus(status)

	message := messageFromBody(body)
	if message == "" {
		message = kind.Message()
	}

	return &Error{
		Kind:      kind,
		Message:   message,
		Status:    status,
		Retryable: retryable,
		Timestamp: now(),
		RequestID: requestID,
	}
}

func kindForStatus(status int) (Kind, bool) {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindValidation, false
	case http.StatusUnauthorized:
		return KindAuth, false
	case http.StatusForbidden:
		return KindForbidden, false
	case http.StatusNotFound:
		return KindNotFound, false
	case http.StatusRequestEntityTooLarge:
		return KindPayloadTooLarge, false
	case http.StatusUnsupportedMediaType:
		return KindUnsupportedMedia, false
	case http.StatusTooManyRequests:
		return KindRateLimited, true
	case http.StatusInternalServerError:
		return KindServer, true
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return KindUnavailable, true
	case http.StatusGatewayTimeout:
		return KindTimeout, true
	default:
		return KindUnknown, status >= 500
	}
}

// messageFromBody extracts a human message from a structured error body.
// It accepts {"error": "..."}, {"message": "..."} and {"detail": "..."}.
func messageFromBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
		Detail  any    `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	for _, v := range []any{payload.Error, payload.Message, payload.Detail} {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// Classify normalizes any error into an *Error.
//
// Already-classified errors are returned unchanged. A *StatusError is mapped
// by status. Errors without a response are a timeout when they carry a
// timeout signal and a network failure otherwise. Classify(nil) is nil.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		e := FromStatus(statusErr.Status, statusErr.Body, statusErr.RequestID)
		e.Err = err
		return e
	}

	kind := KindNetwork
	if isTimeout(err) {
		kind = KindTimeout
	}
	return &Error{
		Kind:      kind,
		Message:   kind.Message(),
		Retryable: true,
		Timestamp: now(),
		Err:       err,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
