package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorRendering(t *testing.T) {
	err := &Error{
		Err:     ErrPolicyEval,
		Code:    "publish_gate_eval",
		Message: "rego runtime failure",
	}

	assert.Equal(t, "policy evaluation failed: rego runtime failure [publish_gate_eval]", err.Error())
}

func TestErrorBareSentinel(t *testing.T) {
	err := &Error{Err: ErrRouteNotFound}
	assert.Equal(t, "route not found", err.Error())
}

func TestErrorMatchesSentinel(t *testing.T) {
	var err error = &Error{
		Err:     ErrRouteNotFound,
		Code:    "route_miss",
		Details: map[string]any{"authority": "unknown.svc"},
	}

	require.ErrorIs(t, err, ErrRouteNotFound)

	wrapped := fmt.Errorf("resolving: %w", err)
	var derr *Error
	require.True(t, errors.As(wrapped, &derr))
	assert.Equal(t, "route_miss", derr.Code)
	assert.Equal(t, "unknown.svc", derr.Details["authority"])
}
