package sources

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// FailKind decides how the retry policy treats a failed fetch.
type FailKind int

const (
	// FailTransient covers timeouts, connection resets and 5xx responses.
	FailTransient FailKind = iota
	// FailTerminal covers not-found and malformed payloads. Never retried.
	FailTerminal
	// FailAuth means the source wants a valid session. Never retried here,
	// surfaced for the auth layer to resolve.
	FailAuth
	// FailCancelled means the run was aborted.
	FailCancelled
)

func (k FailKind) String() string {
	switch k {
	case FailTransient:
		return "transient"
	case FailTerminal:
		return "terminal"
	case FailAuth:
		return "auth_required"
	case FailCancelled:
		return "cancelled"
	}
	return "unknown"
}

// FetchError is the single error type the engine reasons about.
type FetchError struct {
	Kind FailKind
	Op   string
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func Transient(op string, err error) error {
	return &FetchError{Kind: FailTransient, Op: op, Err: err}
}

func Terminal(op string, err error) error {
	return &FetchError{Kind: FailTerminal, Op: op, Err: err}
}

func AuthRequired(op string, err error) error {
	return &FetchError{Kind: FailAuth, Op: op, Err: err}
}

func Cancelled(op string, err error) error {
	return &FetchError{Kind: FailCancelled, Op: op, Err: err}
}

func kindOf(err error) (FailKind, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

// IsTransient reports whether a fetch failure is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if kind, ok := kindOf(err); ok {
		return kind == FailTransient
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func IsTerminal(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == FailTerminal
}

func IsAuthRequired(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == FailAuth
}

func IsCancelled(err error) bool {
	if kind, ok := kindOf(err); ok {
		return kind == FailCancelled
	}
	return errors.Is(err, context.Canceled)
}

// ClassifyStatus maps an HTTP response status onto the taxonomy.
// A nil return means the status is fine.
func ClassifyStatus(op string, status int) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return AuthRequired(op, fmt.Errorf("status %d", status))
	case status == http.StatusNotFound || status == http.StatusGone:
		return Terminal(op, fmt.Errorf("status %d", status))
	case status >= 500 || status == http.StatusTooManyRequests:
		return Transient(op, fmt.Errorf("status %d", status))
	default:
		return Terminal(op, fmt.Errorf("unexpected status %d", status))
	}
}

// WrapTransport classifies a transport-level error (no HTTP response).
func WrapTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled(op, err)
	}
	return Transient(op, err)
}
