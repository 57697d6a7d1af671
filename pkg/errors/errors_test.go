package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"temporary app error", NewTemporaryError("boom"), true},
		{"timeout app error", NewTimeoutError("slow"), true},
		{"wrapped rate limited", fmt.Errorf("call: %w", NewRateLimitedError("slow down")), true},
		{"not found", NewNotFoundError("missing"), false},
		{"unauthorized", NewUnauthorizedError("token expired"), false},
		{"bare sentinel", ErrServiceUnavailable, true},
		{"circuit open", ErrCircuitOpen, true},
		{"plain error", errors.New("other"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{NewInvalidInputError("bad qty"), http.StatusBadRequest},
		{NewOrderWindowClosedError(), http.StatusConflict},
		{fmt.Errorf("wrap: %w", ErrNotFound), http.StatusNotFound},
		{ErrCircuitOpen, http.StatusServiceUnavailable},
		{errors.New("unknown"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := StatusCode(tt.err); got != tt.want {
			t.Errorf("StatusCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestStaleTransitionError(t *testing.T) {
	err := NewStaleTransitionError("o-1", "approved", "submitted")

	if !errors.Is(err, ErrStaleTransition) {
		t.Fatalf("expected ErrStaleTransition, got %v", err)
	}

	if err.Context["order_id"] != "o-1" {
		t.Errorf("expected order_id context, got %v", err.Context)
	}

	if IsRetryable(err) {
		t.Error("stale transitions must not be retried")
	}
}
