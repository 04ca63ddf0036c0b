// Package apierr normalizes every failure the query-orchestration core can
// observe into a closed set of error kinds.
//
// The classifier is the only constructor of *Error values. Consumers switch
// on Kind instead of matching error strings:
//
//	var e *apierr.Error
//	if errors.As(err, &e) && e.Kind == apierr.KindRateLimited {
//	    // show countdown
//	}
package apierr

import (
	"fmt"
	"time"
)

// Kind is the closed taxonomy of client-visible failures.
type Kind string

// Error kinds. The set is closed: Classify and FromStatus never produce
// anything else.
const (
	KindNetwork          Kind = "network"
	KindTimeout          Kind = "timeout"
	KindValidation       Kind = "validation"
	KindAuth             Kind = "auth"
	KindForbidden        Kind = "forbidden"
	KindNotFound         Kind = "not_found"
	KindPayloadTooLarge  Kind = "payload_too_large"
	KindUnsupportedMedia Kind = "unsupported_media"
	KindRateLimited      Kind = "rate_limited"
	KindServer           Kind = "server"
	KindUnavailable      Kind = "unavailable"
	KindUnknown          Kind = "unknown"
)

// Kinds returns every kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindNetwork, KindTimeout, KindValidation, KindAuth, KindForbidden,
		KindNotFound, KindPayloadTooLarge, KindUnsupportedMedia,
		KindRateLimited, KindServer, KindUnavailable, KindUnknown,
	}
}

// kindInfo holds the fixed user-facing text and default retryability of a kind.
type kindInfo struct {
	retryable bool
	message   string
	remedy    string
}

var kindTable = map[Kind]kindInfo{
	KindNetwork: {true,
		"Could not reach the server.",
		"Check your connection and try again."},
	KindTimeout: {true,
		"The request took too long to complete.",
		"Try again, or ask a narrower question."},
	KindValidation: {false,
		"The request was not accepted.",
		"Rephrase the question or check the input and try again."},
	KindAuth: {false,
		"You are not signed in.",
		"Sign in again and retry."},
	KindForbidden: {false,
		"You do not have access to this resource.",
		"Ask the owner for access."},
	KindNotFound: {false,
		"The requested item does not exist.",
		"Refresh the list; it may have been deleted."},
	KindPayloadTooLarge: {false,
		"The file is too large.",
		"Use a smaller file."},
	KindUnsupportedMedia: {false,
		"The file type is not supported.",
		"Upload a CSV file."},
	KindRateLimited: {true,
		"Too many requests.",
		"Wait a moment and retry."},
	KindServer: {true,
		"The server hit an internal error.",
		"Try again shortly."},
	KindUnavailable: {true,
		"The service is temporarily unavailable.",
		"Try again in a few moments."},
	KindUnknown: {false,
		"Something went wrong.",
		"Try again; contact support if it persists."},
}

// Retryable reports the default retryability of the kind.
// KindUnknown is decided per status by FromStatus.
func (k Kind) Retryable() bool {
	return kindTable[k].retryable
}

// Message returns a plain-language description of the kind.
func (k Kind) Message() string {
	if info, ok := kindTable[k]; ok {
		return info.message
	}
	return kindTable[KindUnknown].message
}

// Remedy returns the suggested user action for the kind.
func (k Kind) Remedy() string {
	if info, ok := kindTable[k]; ok {
		return info.remedy
	}
	return kindTable[KindUnknown].remedy
}

// Phase names the stage of a user flow where an error surfaced.
type Phase string

// Flow phases.
const (
	PhaseUpload      Phase = "upload"
	PhaseTranslation Phase = "translation"
	PhaseExecution   Phase = "execution"
	PhaseSave        Phase = "save"
	PhaseLoad        Phase = "load"
)

// Error is a classified failure.
type Error struct {
	Kind      Kind
	Message   string
	Status    int // HTTP status, zero when no response was received
	Retryable bool
	Timestamp time.Time
	RequestID string
	Phase     Phase
	Err       error
}

func (e *Error) Error() string {
	var prefix string
	if e.Phase != "" {
		prefix = string(e.Phase) + ": "
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s%s (%s, status %d)", prefix, e.Message, e.Kind, e.Status)
	}
	return fmt.Sprintf("%s%s (%s)", prefix, e.Message, e.Kind)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Remedy returns the suggested user action for this error.
func (e *Error) Remedy() string {
	return e.Kind.Remedy()
}

// New creates an error of the given kind for failures detected on the
// client side (for example a missing precondition).
func New(kind Kind, message string) *Error {
	if _, ok := kindTable[kind]; !ok {
		kind = KindUnknown
	}
	if message == "" {
		message = kind.Message()
	}
	return &Error{
		Kind:      kind,
		Message:   message,
		Retryable: kind.Retryable(),
		Timestamp: now(),
	}
}

// WithPhase returns a copy of e tagged with phase. A nil e returns nil.
func WithPhase(e *Error, phase Phase) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Phase = phase
	return &cp
}

// now is replaced in tests.
var now = time.Now
