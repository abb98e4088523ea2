package models

import (
	"encoding/json"
	"time"
)

// ToolCallStatus tracks a tool call through its lifecycle. Transitions are
// monotonic: pending → running → completed | error.
type ToolCallStatus string

const (
	ToolCallPending   ToolCallStatus = "pending"
	ToolCallRunning   ToolCallStatus = "running"
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallError     ToolCallStatus = "error"
)

var statusRank = map[ToolCallStatus]int{
	ToolCallPending:   0,
	ToolCallRunning:   1,
	ToolCallCompleted: 2,
	ToolCallError:     2,
}

// CanAdvanceTo reports whether moving to next would keep the status monotonic.
func (s ToolCallStatus) CanAdvanceTo(next ToolCallStatus) bool {
	return statusRank[next] > statusRank[s]
}

// Terminal reports whether the status is settled.
func (s ToolCallStatus) Terminal() bool {
	return s == ToolCallCompleted || s == ToolCallError
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID string `json:"id"`

	// Name is the provider-visible name, possibly carrying a routing prefix
	// (e.g. "mcp__linear__create_issue"). Replaying a prior round must echo
	// this exact name; some vendors reject anything else.
	Name string `json:"name"`

	// BareName is the logical tool name with any routing prefix stripped.
	// Ceilings and dispatch key off this.
	BareName string `json:"bare_name"`

	Input  json.RawMessage `json:"input"`
	Status ToolCallStatus  `json:"status"`

	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	Result *ToolExecutionResult `json:"result,omitempty"`
}

// Settle records the result and advances the status, refusing to move
// backwards from a terminal state.
func (tc *ToolCall) Settle(res *ToolExecutionResult) {
	if tc.Status.Terminal() {
		return
	}
	tc.Result = res
	tc.FinishedAt = time.Now()
	if res != nil && res.IsError {
		tc.Status = ToolCallError
		return
	}
	tc.Status = ToolCallCompleted
}

// ToolExecutionResult is the settled outcome of one tool call.
type ToolExecutionResult struct {
	// Content is the model-ready formatted text.
	Content string `json:"content"`

	// Structured optionally carries the raw backend payload for callers that
	// render richer results than the formatted text.
	Structured json.RawMessage `json:"structured,omitempty"`

	IsError bool `json:"is_error,omitempty"`

	// ReplaySignature is provider replay metadata: an opaque token (for
	// example a signed reasoning blob) that must be echoed verbatim when the
	// call and its result are replayed in the next round's request.
	ReplaySignature string `json:"replay_signature,omitempty"`
}
