package engine

import (
	"errors"
	"fmt"
)

// TurnState is the lifecycle state of a turn.
type TurnState string

const (
	StateInit        TurnState = "init"
	StateStreaming   TurnState = "streaming"
	StateToolPending TurnState = "tool_pending"
	StateExecuting   TurnState = "executing"

	// StateDone is the normal terminal state, including turns that hit the
	// round ceiling: those end with a synthetic notice, not an error.
	StateDone TurnState = "done"

	// StateAborted means the turn was cancelled by the user, superseded by
	// a newer turn, or timed out. Partial output is committed.
	StateAborted TurnState = "aborted"

	// StateError means the provider stream failed terminally. The partial
	// output plus an error-marked notice is committed.
	StateError TurnState = "error"
)

// Terminal reports whether the state ends the turn.
func (s TurnState) Terminal() bool {
	return s == StateDone || s == StateAborted || s == StateError
}

var (
	// ErrNoAdapter means no adapter is registered for the requested
	// provider.
	ErrNoAdapter = errors.New("no adapter for provider")

	// ErrSuperseded marks a turn cancelled because a newer turn started on
	// the same conversation.
	ErrSuperseded = errors.New("superseded by a newer turn")
)

// TurnError wraps a turn failure with the state and round it occurred in.
type TurnError struct {
	State TurnState
	Round int
	Cause error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn failed in state %s (round %d): %v", e.State, e.Round, e.Cause)
}

func (e *TurnError) Unwrap() error { return e.Cause }

// DepthLimitNotice is the synthetic text appended when the round ceiling is
// reached while the model is still requesting tools.
const DepthLimitNotice = "Tool call limit reached. Let me answer with what I have so far."

// errorMarker prefixes the assistant-visible notice committed on a terminal
// provider failure, so clients can render it distinctly.
const errorMarker = "⚠"
