package database

import (
	"errors"
	"fmt"
	"testing"
)

func TestSnapshotHasData(t *testing.T) {
	tests := []struct {
		name     string
		snapshot *Snapshot
		expected bool
	}{
		{"nil snapshot", nil, false},
		{"missing namespace", &Snapshot{Exists: false}, false},
		{"empty namespace", &Snapshot{Exists: true}, false},
		{"views only", &Snapshot{Exists: true, Views: []View{{Name: "v"}}}, false},
		{"one table", &Snapshot{Exists: true, Tables: []Table{{Name: "users"}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.snapshot.HasData(); got != tt.expected {
				t.Errorf("HasData() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestWrapClassifiesErrors(t *testing.T) {
	base := errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")
	err := Wrap(KindConnection, "open target", base)

	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	if errors.Is(err, ErrIntrospection) {
		t.Fatalf("connection error must not match ErrIntrospection")
	}
	if !errors.Is(err, base) {
		t.Fatalf("wrapped error lost its cause")
	}
	if got := err.Error(); got != "open target: "+base.Error() {
		t.Errorf("unexpected message %q", got)
	}
	if KindOf(err) != KindConnection {
		t.Errorf("KindOf = %v, want %v", KindOf(err), KindConnection)
	}
}

func TestWrapKeepsExistingKind(t *testing.T) {
	inner := Wrap(KindIntrospection, "query tables", errors.New("relation does not exist"))
	outer := Wrap(KindSandbox, "introspect sandbox", inner)

	if KindOf(outer) != KindIntrospection {
		t.Errorf("KindOf = %v, want %v", KindOf(outer), KindIntrospection)
	}
	if Wrap(KindInput, "noop", nil) != nil {
		t.Errorf("Wrap(nil) should return nil")
	}
}

func TestPolicyErrors(t *testing.T) {
	for _, err := range []error{ErrRemoteResetForbidden, ErrResetNotPermitted} {
		wrapped := fmt.Errorf("decide: %w", err)
		if !errors.Is(wrapped, ErrPolicy) {
			t.Errorf("%v should match ErrPolicy", err)
		}
		if KindOf(wrapped) != KindPolicy {
			t.Errorf("KindOf(%v) = %v, want PolicyViolation", err, KindOf(wrapped))
		}
	}

	if got := PolicyReason(fmt.Errorf("x: %w", ErrRemoteResetForbidden)); got != "RemoteResetForbidden" {
		t.Errorf("PolicyReason = %q", got)
	}
	if got := PolicyReason(ErrResetNotPermitted); got != "ResetNotPermitted" {
		t.Errorf("PolicyReason = %q", got)
	}
	if errors.Is(ErrRemoteResetForbidden, ErrResetNotPermitted) {
		t.Errorf("policy reasons must be distinct")
	}
}

func TestStatementErrorUnwraps(t *testing.T) {
	cause := errors.New(`syntax error at or near "TABEL"`)
	err := &StatementError{Offset: 12, Statement: "CREATE TABEL x ()", Err: cause}

	if !errors.Is(err, cause) {
		t.Fatal("StatementError should unwrap to its cause")
	}
	var se *StatementError
	if !errors.As(Wrap(KindSandbox, "populate", err), &se) || se.Offset != 12 {
		t.Fatal("StatementError should survive Wrap")
	}
}
