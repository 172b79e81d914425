package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"with description", ErrInvalidGrant("code expired"), "invalid_grant: code expired"},
		{"without description", ErrInvalidGrant(""), "invalid_grant"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		err        *Error
		wantCode   string
		wantStatus int
	}{
		{ErrInvalidRequest("x"), ErrorCodeInvalidRequest, http.StatusBadRequest},
		{ErrInvalidClient("x"), ErrorCodeInvalidClient, http.StatusBadRequest},
		{ErrInvalidGrant("x"), ErrorCodeInvalidGrant, http.StatusBadRequest},
		{ErrInvalidScope("x"), ErrorCodeInvalidScope, http.StatusBadRequest},
		{ErrInvalidToken("x"), ErrorCodeInvalidToken, http.StatusUnauthorized},
		{ErrInvalidRedirectURI("x"), ErrorCodeInvalidRedirectURI, http.StatusBadRequest},
		{ErrInvalidClientMetadata("x"), ErrorCodeInvalidClientMetadata, http.StatusBadRequest},
		{ErrUnsupportedGrantType("x"), ErrorCodeUnsupportedGrantType, http.StatusBadRequest},
		{ErrUnsupportedResponseType("x"), ErrorCodeUnsupportedResponseType, http.StatusBadRequest},
		{ErrAccessDenied("x"), ErrorCodeAccessDenied, http.StatusForbidden},
		{ErrRateLimitExceeded("x"), ErrorCodeRateLimitExceeded, http.StatusTooManyRequests},
		{ErrServerError("x"), ErrorCodeServerError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.wantCode)
			}
			if tt.err.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", tt.err.Status, tt.wantStatus)
			}
			if tt.err.Description != "x" {
				t.Errorf("Description = %q, want %q", tt.err.Description, "x")
			}
		})
	}
}

func TestAsError(t *testing.T) {
	t.Run("oauth error", func(t *testing.T) {
		orig := ErrInvalidScope("bad scope")
		if got := AsError(orig); got != orig {
			t.Errorf("AsError() = %v, want the original error", got)
		}
	})

	t.Run("wrapped oauth error", func(t *testing.T) {
		orig := ErrInvalidGrant("gone")
		if got := AsError(fmt.Errorf("exchange: %w", orig)); got != orig {
			t.Errorf("AsError() = %v, want the wrapped error", got)
		}
	})

	t.Run("plain error", func(t *testing.T) {
		got := AsError(errors.New("disk on fire"))
		if got.Code != ErrorCodeServerError || got.Status != http.StatusInternalServerError {
			t.Errorf("AsError() = %+v, want server_error 500", got)
		}
		if got.Description == "disk on fire" {
			t.Error("internal error text must not leak to clients")
		}
	})
}
