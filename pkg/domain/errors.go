package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the sidecar's packages. Callers match them
// with errors.Is; richer context travels in an *Error wrapper.
var (
	ErrConfigInvalid = errors.New("invalid configuration")
	ErrRouteNotFound = errors.New("route not found")
	ErrPolicyEval    = errors.New("policy evaluation failed")
)

// Error attaches a machine-readable code and structured details to one of
// the sentinels. Unwrap keeps errors.Is matching intact.
type Error struct {
	Err     error
	Code    string
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	msg := e.Err.Error()
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Code)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}
