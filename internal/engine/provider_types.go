// Package engine drives one conversation turn: it streams model output
// through a provider adapter, accumulates typed content blocks, executes the
// tool calls the model requests, and loops until the model stops calling
// tools or a ceiling intervenes.
package engine

import (
	"context"

	"github.com/quillchat/quill/internal/tools"
	"github.com/quillchat/quill/pkg/models"
)

// ProviderAdapter streams one completion round from a model vendor,
// normalized to StreamChunk. Implementations return a channel that is closed
// when the round ends; a failed round delivers a final chunk with Err set.
type ProviderAdapter interface {
	// Name identifies the adapter for logging and error reporting.
	Name() string

	// Stream opens one completion round. The returned channel is owned by
	// the adapter and closed when the round ends or ctx is cancelled.
	Stream(ctx context.Context, req *StreamRequest) (<-chan *StreamChunk, error)
}

// StreamRequest is the normalized request for one completion round.
//
// Messages carry the full transcript, including the records of earlier
// rounds in this turn: an assistant message whose blocks contain settled
// tool calls is serialized by each adapter as the vendor's call and result
// message pair, echoing the original provider-visible names.
type StreamRequest struct {
	Model    string
	System   string
	Messages []models.ChatMessage

	// Tools are the declarations offered for this round, already filtered
	// by the per-tool ceiling.
	Tools []*tools.Declaration

	MaxTokens int

	// EnableReasoning asks the vendor for an explicit reasoning stream
	// where the model family supports one.
	EnableReasoning       bool
	ReasoningBudgetTokens int
}

// StreamChunk is one normalized unit of provider output. Exactly one payload
// field is populated per chunk.
//
// Adapters buffer tool calls while the round streams and emit them settled
// into shape at end of round: a lone call arrives as ToolCall, two or more
// as one ToolCalls chunk, so the caller can tell the recursive single-call
// case from the concurrent batch case without heuristics.
type StreamChunk struct {
	// ContentDelta is an increment of user-visible text.
	ContentDelta string

	// ReasoningDelta is an increment of the model's reasoning stream.
	ReasoningDelta string

	// ToolCall is a single tool invocation request.
	ToolCall *models.ToolCall

	// ToolCalls is a simultaneous batch of two or more invocation requests.
	ToolCalls []*models.ToolCall

	// ReplaySignature accompanies tool calls on vendors that require an
	// opaque token to be echoed when the calls are replayed next round.
	ReplaySignature string

	// Usage reports the round's token counts, at most once per round.
	Usage *models.Usage

	// Err terminates the round. No further chunks follow it.
	Err error
}
