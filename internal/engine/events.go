package engine

import (
	"github.com/quillchat/quill/pkg/models"
)

// EventKind tags a TurnEvent variant.
type EventKind string

const (
	// EventContentDelta carries an increment of assistant text.
	EventContentDelta EventKind = "content_delta"

	// EventReasoningDelta carries an increment of the reasoning stream.
	EventReasoningDelta EventKind = "reasoning_delta"

	// EventToolCall announces a single pending tool call.
	EventToolCall EventKind = "tool_call"

	// EventToolCallBatch announces a simultaneous batch of pending calls.
	EventToolCallBatch EventKind = "tool_call_batch"

	// EventToolUpdate reports a call's status change, including settlement.
	EventToolUpdate EventKind = "tool_update"

	// EventStatus carries a short transient progress string. An empty
	// Status clears whatever the client is showing.
	EventStatus EventKind = "status"

	// EventArtifact announces a completed artifact.
	EventArtifact EventKind = "artifact"

	// EventUsage reports one round's token counts.
	EventUsage EventKind = "usage"

	// EventError reports the turn's terminal error. EventEnd still follows.
	EventError EventKind = "error"

	// EventEnd is the explicit end marker. It is always the last event on
	// the channel and carries the turn's committed result.
	EventEnd EventKind = "end"
)

// TurnEvent is one frame of the outbound turn stream. Consumers switch on
// Kind and may skip kinds they do not understand; the stream stays readable
// as kinds are added.
type TurnEvent struct {
	Kind EventKind `json:"kind"`

	// Delta is the payload for content and reasoning deltas.
	Delta string `json:"delta,omitempty"`

	// ToolCall is the payload for single announcements and updates.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// ToolCalls is the payload for batch announcements.
	ToolCalls []*models.ToolCall `json:"tool_calls,omitempty"`

	// Status is a short human-readable progress string.
	Status string `json:"status,omitempty"`

	// Artifact is the payload for artifact announcements.
	Artifact *models.Artifact `json:"artifact,omitempty"`

	// Usage is the payload for usage events.
	Usage *models.Usage `json:"usage,omitempty"`

	// Err is the payload for error events.
	Err error `json:"-"`

	// Result is the payload for the end marker.
	Result *TurnResult `json:"result,omitempty"`
}

// TurnResult is the committed outcome of a turn.
type TurnResult struct {
	// State is the terminal state the turn ended in.
	State TurnState `json:"state"`

	// Message is the committed assistant message, partial if the turn was
	// cancelled mid-stream.
	Message models.ChatMessage `json:"message"`

	// Artifacts is the conversation's full artifact list after the turn.
	Artifacts []models.Artifact `json:"artifacts,omitempty"`

	// Usage aggregates token counts across all rounds.
	Usage models.Usage `json:"usage"`

	// Rounds is how many completion rounds ran.
	Rounds int `json:"rounds"`
}
