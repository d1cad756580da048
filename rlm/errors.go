package rlm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSessionClosed is returned by calls on a session after Close.
var ErrSessionClosed = errors.New("session is closed")

// ProtocolError reports tool results that do not match the pending batch.
// The session is left paused and unchanged.
type ProtocolError struct {
	Reason     string   `json:"reason"`
	Missing    []string `json:"missing,omitempty"`
	Unexpected []string `json:"unexpected,omitempty"`
}

func (e *ProtocolError) Error() string {
	var b strings.Builder
	b.WriteString("tool-call protocol error: ")
	b.WriteString(e.Reason)
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, " (missing results for %s)", strings.Join(e.Missing, ", "))
	}
	if len(e.Unexpected) > 0 {
		fmt.Fprintf(&b, " (unexpected results for %s)", strings.Join(e.Unexpected, ", "))
	}
	return b.String()
}

// ModelInvocationError wraps a failed model request. It ends the session.
type ModelInvocationError struct {
	Iteration int
	Err       error
}

func (e *ModelInvocationError) Error() string {
	return fmt.Sprintf("model invocation failed at iteration %d: %v", e.Iteration, e.Err)
}

func (e *ModelInvocationError) Unwrap() error {
	return e.Err
}
