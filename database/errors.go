package database

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a reconciliation failure
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindInput covers a missing script directory or connection descriptor
	KindInput
	// KindConnection means the target could not be reached
	KindConnection
	// KindIntrospection means a catalog query failed
	KindIntrospection
	// KindSandbox means a sandbox namespace could not be created or populated
	KindSandbox
	// KindPolicy is a deliberate refusal the user can act on
	KindPolicy
)

// Sentinel errors for each kind. Use errors.Is to classify any error
// returned by this module.
var (
	ErrInput         = errors.New("input error")
	ErrConnection    = errors.New("connection error")
	ErrIntrospection = errors.New("introspection error")
	ErrSandbox       = errors.New("sandbox error")
	ErrPolicy        = errors.New("policy violation")

	// ErrNoNamespace is returned by Engine.Open when the target store does
	// not exist yet. It is a state, not a failure.
	ErrNoNamespace = errors.New("namespace not found")
)

// Policy violations. Both match ErrPolicy.
var (
	ErrRemoteResetForbidden = &policyError{
		reason: "RemoteResetForbidden",
		msg:    "schema drift detected on a remote target and no migration script was provided",
	}
	ErrResetNotPermitted = &policyError{
		reason: "ResetNotPermitted",
		msg:    "schema drift detected and resetting the local target was not permitted",
	}
)

type policyError struct {
	reason string
	msg    string
}

func (e *policyError) Error() string { return e.msg }

func (e *policyError) Is(target error) bool { return target == ErrPolicy }

// Reason returns the stable identifier of the violation
func (e *policyError) Reason() string { return e.reason }

func (k ErrorKind) String() string {
	switch k {
	case KindInput:
		return "InputError"
	case KindConnection:
		return "ConnectionError"
	case KindIntrospection:
		return "IntrospectionError"
	case KindSandbox:
		return "SandboxError"
	case KindPolicy:
		return "PolicyViolation"
	default:
		return "Error"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindInput:
		return ErrInput
	case KindConnection:
		return ErrConnection
	case KindIntrospection:
		return ErrIntrospection
	case KindSandbox:
		return ErrSandbox
	case KindPolicy:
		return ErrPolicy
	default:
		return nil
	}
}

// Error is a classified failure wrapped with the operation that produced it
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// Wrap classifies err as kind and records op. It returns nil for a nil err
// and leaves an already classified error's kind untouched.
func Wrap(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Kind: existing.Kind, Op: op, Err: err}
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrapf is Wrap with a formatted operation
func Wrapf(kind ErrorKind, err error, format string, args ...interface{}) error {
	return Wrap(kind, fmt.Sprintf(format, args...), err)
}

// KindOf returns the kind of the outermost classified error in err's chain
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrPolicy) {
		return KindPolicy
	}
	return KindUnknown
}

// PolicyReason returns the violation identifier if err is a policy violation
func PolicyReason(err error) string {
	var pe *policyError
	if errors.As(err, &pe) {
		return pe.Reason()
	}
	return ""
}

// StatementError reports which statement of a script failed to execute
type StatementError struct {
	// Offset is the byte offset of the statement in the executed script, or
	// -1 when the engine cannot tell.
	Offset    int
	Statement string
	Err       error
}

func (e *StatementError) Error() string {
	if e.Statement == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v\nStatement: %s", e.Err, e.Statement)
}

func (e *StatementError) Unwrap() error { return e.Err }
