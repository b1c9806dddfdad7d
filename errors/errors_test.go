package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestMutationError_Error(t *testing.T) {
	err := NewWithComponent(OpSubmit, "engine", fmt.Errorf("boom"))
	want := "submit operation failed in engine component: boom"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}

	err2 := NewTransient(OpExecute, fmt.Errorf("timeout"))
	want2 := "execute operation failed [TRANSIENT]: timeout"
	if err2.Error() != want2 {
		t.Fatalf("got %q, want %q", err2.Error(), want2)
	}
}

func TestMutationError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := NewTerminal(OpExecute, cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the cause")
	}
}

func TestKindPredicates(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
		conflict  bool
		misuse    bool
	}{
		{"transient", NewTransient(OpExecute, fmt.Errorf("x")), true, false, false},
		{"terminal", NewTerminal(OpExecute, fmt.Errorf("x")), false, false, false},
		{"conflict", NewConflict(OpExecute, fmt.Errorf("x")), false, true, false},
		{"misuse", NewMisuse(OpResolve, fmt.Errorf("x")), false, false, true},
		{"plain", fmt.Errorf("x"), false, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if IsRetryable(tc.err) != tc.retryable {
				t.Errorf("IsRetryable = %v, want %v", IsRetryable(tc.err), tc.retryable)
			}
			if IsConflict(tc.err) != tc.conflict {
				t.Errorf("IsConflict = %v, want %v", IsConflict(tc.err), tc.conflict)
			}
			if IsMisuse(tc.err) != tc.misuse {
				t.Errorf("IsMisuse = %v, want %v", IsMisuse(tc.err), tc.misuse)
			}
		})
	}
}

func TestKindOf_WrappedChain(t *testing.T) {
	inner := NewConflict(OpExecute, fmt.Errorf("version mismatch"))
	outer := fmt.Errorf("while reconciling: %w", inner)
	if KindOf(outer) != KindConflict {
		t.Fatalf("expected conflict kind through wrap, got %q", KindOf(outer))
	}
}

func TestWrapOpComponent(t *testing.T) {
	if WrapOpComponent(nil, OpJournal, "sqlite") != nil {
		t.Fatal("wrapping nil must return nil")
	}

	inner := NewTransient(OpExecute, fmt.Errorf("flaky"))
	wrapped := WrapOpComponent(inner, OpJournal, "sqlite")
	if !IsRetryable(wrapped) {
		t.Fatal("wrap must preserve the kind of the cause")
	}

	var me *MutationError
	if !errors.As(wrapped, &me) || me.Component != "sqlite" {
		t.Fatalf("expected sqlite component, got %+v", me)
	}
}
