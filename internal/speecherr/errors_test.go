package speecherr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_IsMatchesCode(t *testing.T) {
	err := Timeout("turn %s timed out", "abc")

	if !errors.Is(err, ErrTimeout) {
		t.Error("Expected timeout error to match ErrTimeout")
	}
	if errors.Is(err, ErrConnectionLost) {
		t.Error("Expected timeout error to not match ErrConnectionLost")
	}

	wrapped := fmt.Errorf("recognize: %w", err)
	if !errors.Is(wrapped, ErrTimeout) {
		t.Error("Expected wrapped error to match ErrTimeout")
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := ConnectionFailed(cause, "failed to open connection")

	if !errors.Is(err, cause) {
		t.Error("Expected error to unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Expected message to include cause, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "ConnectionFailure") {
		t.Errorf("Expected message to include category, got %q", err.Error())
	}
}

func TestCodeAndCategoryOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     Code
		category Category
	}{
		{"nil", nil, "", NoError},
		{"foreign", errors.New("boom"), "", RuntimeError},
		{"auth", Authentication(nil, "bad key"), CodeAuthenticationFailed, AuthenticationFailure},
		{"service", Service(TooManyRequests, "throttled"), CodeServiceError, TooManyRequests},
		{"wrapped lost", fmt.Errorf("x: %w", ConnectionLost(nil, "gone")), CodeConnectionLost, ConnectionFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.code {
				t.Errorf("CodeOf = %q, want %q", got, tt.code)
			}
			if got := CategoryOf(tt.err); got != tt.category {
				t.Errorf("CategoryOf = %s, want %s", got, tt.category)
			}
		})
	}
}

func TestCanceled_Reason(t *testing.T) {
	err := Canceled("stopped by caller")
	if err.Reason != ReasonCanceledByUser {
		t.Errorf("Expected reason CanceledByUser, got %s", err.Reason)
	}
	if !errors.Is(err, ErrCanceled) {
		t.Error("Expected canceled error to match ErrCanceled")
	}
}
