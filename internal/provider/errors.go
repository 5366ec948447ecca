package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a backend failure so callers can decide how to proceed.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindAuth
	KindConflict
	KindTransient
	KindQuota
	KindNotSupported
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindAuth:
		return "auth"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	case KindQuota:
		return "quota"
	case KindNotSupported:
		return "not supported"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

type kindError Kind

func (k kindError) Error() string { return "provider: " + Kind(k).String() }

var (
	ErrNotFound      error = kindError(KindNotFound)
	ErrAuth          error = kindError(KindAuth)
	ErrAlreadyExists error = kindError(KindConflict)
	ErrTransient     error = kindError(KindTransient)
	ErrQuota         error = kindError(KindQuota)
	ErrNotSupported  error = kindError(KindNotSupported)
	ErrTimeout       error = kindError(KindTimeout)
)

// Error is a classified backend failure.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %q: %s", e.Op, e.Path, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels, so errors.Is(err, ErrNotFound) works on wrapped errors.
func (e *Error) Is(target error) bool {
	k, ok := target.(kindError)
	return ok && Kind(k) == e.Kind
}

func NewError(kind Kind, op, path string, err error) error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// FromHTTPStatus classifies an HTTP error response. Returns nil for 2xx/3xx.
func FromHTTPStatus(op, path string, status int, body string) error {
	if status < 400 {
		return nil
	}
	var cause error
	if body != "" {
		cause = fmt.Errorf("http %d: %s", status, body)
	} else {
		cause = fmt.Errorf("http %d %s", status, http.StatusText(status))
	}

	kind := KindUnknown
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		kind = KindAuth
	case status == http.StatusNotFound, status == http.StatusGone:
		kind = KindNotFound
	case status == http.StatusMethodNotAllowed, status == http.StatusConflict, status == http.StatusPreconditionFailed:
		kind = KindConflict
	case status == http.StatusInsufficientStorage, status == http.StatusRequestEntityTooLarge:
		kind = KindQuota
	case status == http.StatusNotImplemented:
		kind = KindNotSupported
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		kind = KindTimeout
	case status == http.StatusLocked, status == http.StatusTooManyRequests, status >= 500:
		kind = KindTransient
	}
	return &Error{Kind: kind, Op: op, Path: path, Err: cause}
}

// KindOf returns the classification of err, inspecting wrapped errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	var k kindError
	if errors.As(err, &k) {
		return Kind(k)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindTransient
	}
	return KindUnknown
}

func IsAuth(err error) bool      { return KindOf(err) == KindAuth }
func IsNotFound(err error) bool  { return KindOf(err) == KindNotFound }
func IsConflict(err error) bool  { return KindOf(err) == KindConflict }
func IsTransient(err error) bool { k := KindOf(err); return k == KindTransient || k == KindTimeout }
func IsNotSupported(err error) bool {
	return KindOf(err) == KindNotSupported
}

// Describe renders err for people: what went wrong and what to check.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindAuth:
		return "authentication failed, check the backend credentials: " + err.Error()
	case KindNotFound:
		return "not found on the backend: " + err.Error()
	case KindConflict:
		return "conflicts with existing state on the backend: " + err.Error()
	case KindTransient:
		return "temporary backend failure, will retry on the next pass: " + err.Error()
	case KindQuota:
		return "backend storage quota exceeded: " + err.Error()
	case KindNotSupported:
		return "operation not supported by this backend: " + err.Error()
	case KindTimeout:
		return "backend timed out: " + err.Error()
	default:
		return err.Error()
	}
}
