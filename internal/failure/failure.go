// Package failure defines the error taxonomy shared by the GAIA session
// controllers. Every error that crosses a controller boundary is a *Error
// carrying one Kind, so callers can branch with errors.Is against the Kind
// sentinels below.
package failure

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind string

const (
	KindConfig              Kind = "config"
	KindAuth                Kind = "auth"
	KindDevice              Kind = "device"
	KindClipTooShort        Kind = "clip_too_short"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindEmptyResponse       Kind = "empty_response"
	KindNotConnected        Kind = "not_connected"
	KindBusy                Kind = "busy"
	KindCancelled           Kind = "cancelled"
	KindInvalidInput        Kind = "invalid_input"
	KindUnknown             Kind = "unknown"
)

// Sentinels usable as errors.Is targets.
var (
	ErrConfig              = &Error{Kind: KindConfig}
	ErrAuth                = &Error{Kind: KindAuth}
	ErrDevice              = &Error{Kind: KindDevice}
	ErrClipTooShort        = &Error{Kind: KindClipTooShort}
	ErrUpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable}
	ErrEmptyResponse       = &Error{Kind: KindEmptyResponse}
	ErrNotConnected        = &Error{Kind: KindNotConnected}
	ErrBusy                = &Error{Kind: KindBusy}
	ErrCancelled           = &Error{Kind: KindCancelled}
	ErrInvalidInput        = &Error{Kind: KindInvalidInput}
)

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

// New builds a classified error.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so errors.Is(err, ErrAuth) works
// regardless of Op and Message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Retryable reports whether a fresh attempt by the user may succeed.
// Config, invalid input and clip-too-short failures need a change first.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindConfig, KindInvalidInput, KindClipTooShort:
		return false
	default:
		return true
	}
}

// KindOf returns the Kind of err. Context errors are mapped to cancelled
// (user or teardown) and upstream_unavailable (deadline), respectively.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindUpstreamUnavailable
	default:
		return KindUnknown
	}
}

// IsCancelled reports whether err stems from a deliberate cancellation.
func IsCancelled(err error) bool {
	return KindOf(err) == KindCancelled
}

// IsRetryable reports whether err is worth another user-initiated attempt.
func IsRetryable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Retryable()
	}
	return err != nil && !errors.Is(err, context.Canceled)
}

// FromContext converts a context error raised during op into a classified
// error. Deadlines surface as upstream_unavailable.
func FromContext(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindUpstreamUnavailable, Op: op, Message: "timed out", Err: err}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCancelled, Op: op, Err: err}
	default:
		return &Error{Kind: KindUnknown, Op: op, Err: err}
	}
}

// Describe renders err as the short string stored beside a controller's
// connection state.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		if fe.Message != "" {
			return fmt.Sprintf("%s: %s", fe.Kind, fe.Message)
		}
		if fe.Err != nil {
			return fmt.Sprintf("%s: %s", fe.Kind, fe.Err.Error())
		}
		return string(fe.Kind)
	}
	return err.Error()
}
