package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestNetworkError(t *testing.T) {
	baseErr := errors.New("connection refused")

	t.Run("retriable error", func(t *testing.T) {
		err := NewNetworkError("dial", baseErr)

		if !err.IsRetriable() {
			t.Error("Expected error to be retriable")
		}

		if err.Error() != "dial: connection refused" {
			t.Errorf("Error message = %q, want %q", err.Error(), "dial: connection refused")
		}

		if !errors.Is(err, baseErr) {
			t.Error("Expected error to wrap baseErr")
		}
	})

	t.Run("fatal error", func(t *testing.T) {
		err := NewFatalNetworkError("login", baseErr)

		if err.IsRetriable() {
			t.Error("Expected error to not be retriable")
		}
	})

	t.Run("IsRetriable helper", func(t *testing.T) {
		retriable := NewNetworkError("read", baseErr)
		fatal := NewFatalNetworkError("login", baseErr)
		plain := errors.New("plain error")

		if !IsRetriable(fmt.Errorf("wrapped: %w", retriable)) {
			t.Error("IsRetriable should return true for wrapped retriable error")
		}

		if IsRetriable(fatal) {
			t.Error("IsRetriable should return false for fatal error")
		}

		if IsRetriable(plain) {
			t.Error("IsRetriable should return false for plain error")
		}
	})
}

func TestConfigError(t *testing.T) {
	baseErr := errors.New("missing value")
	err := &ConfigError{Field: "auth.app_key", Err: baseErr}

	if err.IsRetriable() {
		t.Error("ConfigError should never be retriable")
	}

	expected := "config error [auth.app_key]: missing value"
	if err.Error() != expected {
		t.Errorf("Error message = %q, want %q", err.Error(), expected)
	}
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		name      string
		err       *StatusError
		retriable bool
		session   bool
	}{
		{"timeout keeps connection", &StatusError{ID: 3, ErrorCode: "TIMEOUT"}, true, false},
		{"timeout closed connection", &StatusError{ID: 3, ErrorCode: "TIMEOUT", ConnectionClosed: true}, false, false},
		{"invalid session", &StatusError{ID: 1, ErrorCode: "INVALID_SESSION_INFORMATION"}, false, true},
		{"subscription limit", &StatusError{ID: 2, ErrorCode: "SUBSCRIPTION_LIMIT_EXCEEDED"}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetriable(tt.err); got != tt.retriable {
				t.Errorf("IsRetriable() = %v, want %v", got, tt.retriable)
			}
			if got := tt.err.IsSessionError(); got != tt.session {
				t.Errorf("IsSessionError() = %v, want %v", got, tt.session)
			}
		})
	}

	var se *StatusError
	wrapped := fmt.Errorf("subscribe: %w", &StatusError{ID: 7, ErrorCode: "INVALID_INPUT", ErrorMessage: "bad filter"})
	if !errors.As(wrapped, &se) || se.ID != 7 {
		t.Fatal("expected errors.As to find StatusError")
	}
	if se.Error() != "status failure [id=7]: INVALID_INPUT: bad filter" {
		t.Errorf("unexpected message %q", se.Error())
	}
}
