package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindAmbiguous    Kind = "ambiguous"
	KindTransport    Kind = "transport"
	KindUnauthorized Kind = "unauthorized"
	KindInvalid      Kind = "invalid"
)

// Error is the failure value returned by every gateway client.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, gateway.NotFound) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	NotFound     = &Error{Kind: KindNotFound}
	Ambiguous    = &Error{Kind: KindAmbiguous}
	Transport    = &Error{Kind: KindTransport}
	Unauthorized = &Error{Kind: KindUnauthorized}
	Invalid      = &Error{Kind: KindInvalid}
)

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Errorf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the kind of a gateway error. Anything that is not a gateway
// error counts as a transport failure.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return KindTransport
}

// Detail returns the underlying message without the op/kind prefix.
func Detail(err error) string {
	var gerr *Error
	if errors.As(err, &gerr) && gerr.Err != nil {
		return gerr.Err.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// KindForStatus maps a non-2xx HTTP status onto a gateway error kind.
func KindForStatus(status int) Kind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindUnauthorized
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindInvalid
	default:
		return KindTransport
	}
}

// FromRequestError wraps a failed round trip. Timeouts and cancellations are
// transport failures like any other network error.
func FromRequestError(op string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return New(KindTransport, op, fmt.Errorf("request timed out: %w", err))
	}
	return New(KindTransport, op, err)
}
