// Package domain defines the core domain models for SeqMesh.
package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DomainError
		expected string
	}{
		{
			name:     "error without details",
			err:      NewDomainError("SM-TEST-1000", "test message"),
			expected: "[SM-TEST-1000] test message",
		},
		{
			name:     "error with details",
			err:      NewDomainError("SM-TEST-1001", "test message").WithDetails("extra info"),
			expected: "[SM-TEST-1001] test message: extra info",
		},
		{
			name:     "error with cause",
			err:      NewDomainError("SM-TEST-1002", "test message").WithCause(errors.New("boom")),
			expected: "[SM-TEST-1002] test message: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDomainError_Is(t *testing.T) {
	err1 := NewDomainError("SM-TEST-1000", "message 1")
	err2 := NewDomainError("SM-TEST-1000", "message 2") // Same code, different message
	err3 := NewDomainError("SM-TEST-1001", "message 1") // Different code

	if !errors.Is(err1, err2) {
		t.Error("errors.Is should return true for same error code")
	}
	if errors.Is(err1, err3) {
		t.Error("errors.Is should return false for different error code")
	}
	if errors.Is(err1, fmt.Errorf("some error")) {
		t.Error("errors.Is should return false for non-DomainError")
	}
}

func TestDomainError_WrappedSentinel(t *testing.T) {
	err := fmt.Errorf("counter get: %w", ErrStoreUnavailable.WithCause(context.DeadlineExceeded))

	if !errors.Is(err, ErrStoreUnavailable) {
		t.Error("wrapped sentinel should match")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("cause should be reachable through the chain")
	}
	if got := GetErrorCode(err); got != "SM-STORE-5030" {
		t.Errorf("GetErrorCode() = %q, want SM-STORE-5030", got)
	}
}

func TestDomainError_WithDetails(t *testing.T) {
	original := NewDomainError("SM-TEST-1000", "original message")
	withDetails := original.WithDetails("additional details")

	if original.Details != "" {
		t.Error("WithDetails should not modify original error")
	}
	if withDetails.Details != "additional details" {
		t.Errorf("Details = %q, want %q", withDetails.Details, "additional details")
	}
	if withDetails.Code != original.Code {
		t.Error("WithDetails should preserve the code")
	}
}

func TestIsUnavailable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unavailable", ErrStoreUnavailable, true},
		{"not leader", ErrNotLeader.WithDetails("10.0.0.1:7379"), true},
		{"wrapped", fmt.Errorf("x: %w", ErrStoreUnavailable), true},
		{"corrupt", ErrCorruptStore, false},
		{"plain", errors.New("nope"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUnavailable(tt.err); got != tt.want {
				t.Errorf("IsUnavailable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLookupError(t *testing.T) {
	for _, sentinel := range []*DomainError{
		ErrStoreUnavailable, ErrCorruptStore, ErrNotLeader,
		ErrConfiguration, ErrInvalidArgument, ErrSeqNumOutOfRange,
	} {
		got, ok := LookupError(sentinel.Code)
		if !ok || got != sentinel {
			t.Errorf("LookupError(%q) = %v, %v", sentinel.Code, got, ok)
		}
	}

	if _, ok := LookupError("SM-NOPE-0000"); ok {
		t.Error("unknown code should not resolve")
	}
}

func TestIsDomainError(t *testing.T) {
	err := ErrCorruptStore.WithDetails("creation time missing")

	if !IsDomainError(err, "") {
		t.Error("IsDomainError(err, \"\") should be true")
	}
	if !IsDomainError(err, ErrCorruptStore.Code) {
		t.Error("IsDomainError should match code")
	}
	if IsDomainError(err, ErrStoreUnavailable.Code) {
		t.Error("IsDomainError should not match other code")
	}
	if IsDomainError(errors.New("x"), "") {
		t.Error("plain error is not a DomainError")
	}
}
