package engine

import (
	"errors"
	"fmt"
)

// ErrDuplicateWorkflow signals that a non-terminal workflow with the same
// fingerprint already exists for the workflow kind.
var ErrDuplicateWorkflow = errors.New("duplicate workflow")

// ErrUnroutable marks messages that can never be routed (unknown workflow or
// step kind, missing step record). The worker terminates these instead of
// letting the broker redeliver them forever.
var ErrUnroutable = errors.New("unroutable message")

// ErrorClass partitions expected handler failures for retry decisions.
type ErrorClass int

const (
	// ClassValidation is bad input to a step. Permanent, never retried.
	ClassValidation ErrorClass = iota
	// ClassTransient covers infrastructure failures (unreachable RPC node,
	// underpriced submission). Retried via the backoff loop up to the cap.
	ClassTransient
	// ClassPermanent is an expected but unrecoverable failure. Skips retry
	// and goes straight to the failed transition.
	ClassPermanent
)

func (c ErrorClass) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassTransient:
		return "transient"
	default:
		return "permanent"
	}
}

// HandlerError is the typed result handlers return for all expected failure
// modes. Anything else escaping a handler is treated as unexpected and left
// to the worker boundary.
type HandlerError struct {
	Class ErrorClass
	Err   error
	Debug map[string]any
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("step handler %s error: %v", e.Class, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

func ValidationError(err error, debug map[string]any) *HandlerError {
	return &HandlerError{Class: ClassValidation, Err: err, Debug: debug}
}

func TransientError(err error, debug map[string]any) *HandlerError {
	return &HandlerError{Class: ClassTransient, Err: err, Debug: debug}
}

func PermanentError(err error, debug map[string]any) *HandlerError {
	return &HandlerError{Class: ClassPermanent, Err: err, Debug: debug}
}
