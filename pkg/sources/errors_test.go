package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		want   FailKind
	}{
		{http.StatusInternalServerError, FailTransient},
		{http.StatusBadGateway, FailTransient},
		{http.StatusTooManyRequests, FailTransient},
		{http.StatusNotFound, FailTerminal},
		{http.StatusGone, FailTerminal},
		{http.StatusUnauthorized, FailAuth},
		{http.StatusForbidden, FailAuth},
		{http.StatusTeapot, FailTerminal},
	}

	for _, tc := range cases {
		err := ClassifyStatus("test", tc.status)
		if err == nil {
			t.Fatalf("ClassifyStatus(%d) = nil, want %v", tc.status, tc.want)
		}
		var fe *FetchError
		if !errors.As(err, &fe) {
			t.Fatalf("ClassifyStatus(%d) returned %T, want *FetchError", tc.status, err)
		}
		if fe.Kind != tc.want {
			t.Errorf("ClassifyStatus(%d) kind = %v, want %v", tc.status, fe.Kind, tc.want)
		}
	}

	if err := ClassifyStatus("test", http.StatusOK); err != nil {
		t.Errorf("ClassifyStatus(200) = %v, want nil", err)
	}
}

func TestPredicates(t *testing.T) {
	if !IsTransient(Transient("op", fmt.Errorf("boom"))) {
		t.Error("Transient error not detected")
	}
	if IsTransient(Terminal("op", fmt.Errorf("gone"))) {
		t.Error("Terminal error misclassified as transient")
	}
	if !IsTerminal(Terminal("op", nil)) {
		t.Error("Terminal error not detected")
	}
	if !IsAuthRequired(AuthRequired("op", fmt.Errorf("no session"))) {
		t.Error("AuthRequired error not detected")
	}
	if !IsAuthRequired(AuthRequired("op", nil)) {
		t.Error("AuthRequired error without a cause not detected")
	}
	if !IsCancelled(Cancelled("op", context.Canceled)) {
		t.Error("Cancelled error not detected")
	}
}

func TestAuthRequiredKeepsCause(t *testing.T) {
	cause := fmt.Errorf("login redirect")
	err := AuthRequired("fetch favorites", cause)
	if !errors.Is(err, cause) {
		t.Error("AuthRequired must preserve its cause")
	}
}

func TestPredicatesWrapped(t *testing.T) {
	wrapped := fmt.Errorf("during download: %w", Transient("op", fmt.Errorf("reset")))
	if !IsTransient(wrapped) {
		t.Error("Wrapped transient error not detected")
	}
}

func TestContextErrors(t *testing.T) {
	if !IsTransient(context.DeadlineExceeded) {
		t.Error("Deadline exceeded should be retryable")
	}
	if IsTransient(context.Canceled) {
		t.Error("Cancellation must not be retryable")
	}
	if !IsCancelled(context.Canceled) {
		t.Error("context.Canceled not detected as cancellation")
	}
}

func TestWrapTransport(t *testing.T) {
	err := WrapTransport("op", context.Canceled)
	if !IsCancelled(err) {
		t.Errorf("Cancellation lost in transport wrap: %v", err)
	}

	err = WrapTransport("op", fmt.Errorf("connection reset"))
	if !IsTransient(err) {
		t.Errorf("Transport error should be transient: %v", err)
	}

	if WrapTransport("op", nil) != nil {
		t.Error("WrapTransport(nil) should be nil")
	}
}
