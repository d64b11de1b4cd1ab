package faults

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestFaultError(t *testing.T) {
	f := PermissionDenied("cannot rename channel", errors.New("403")).
		WithResource("voice:123").
		WithOperation("rename")

	msg := f.Error()
	for _, want := range []string{"permission_denied", "cannot rename channel", "voice:123", "rename", "403"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestFaultUnwrap(t *testing.T) {
	inner := errors.New("connection reset")
	f := Unreachable("probe failed", inner)

	if !errors.Is(f, inner) {
		t.Error("errors.Is should find the wrapped error")
	}

	wrapped := fmt.Errorf("reconcile: %w", f)
	var got *Fault
	if !errors.As(wrapped, &got) {
		t.Fatal("errors.As should find the fault through wrapping")
	}
	if got.Kind != KindUnreachable {
		t.Errorf("kind = %q, want %q", got.Kind, KindUnreachable)
	}
}

func TestKindPredicates(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		want  bool
	}{
		{"not found", NotFound("gone", nil), IsNotFound, true},
		{"duplicate", DuplicateKey("exists", nil), IsDuplicateKey, true},
		{"unreachable", Unreachable("down", nil), IsUnreachable, true},
		{"permission", PermissionDenied("denied", nil), IsPermissionDenied, true},
		{"rate limited", RateLimited("throttled", nil), IsRateLimited, true},
		{"wrapped", fmt.Errorf("outer: %w", RateLimited("throttled", nil)), IsRateLimited, true},
		{"plain error", errors.New("boom"), IsRateLimited, false},
		{"nil", nil, IsNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.check(tt.err); got != tt.want {
				t.Errorf("predicate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(RateLimited("x", nil)); got != KindRateLimited {
		t.Errorf("KindOf = %q, want %q", got, KindRateLimited)
	}
	if got := KindOf(errors.New("plain")); got != KindUnexpected {
		t.Errorf("KindOf(plain) = %q, want %q", got, KindUnexpected)
	}
}
