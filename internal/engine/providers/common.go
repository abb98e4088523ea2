// Package providers implements the vendor streaming adapters. Each adapter
// opens one completion round against its API, normalizes the vendor's event
// stream into engine.StreamChunk, and serializes replayed transcript rounds
// back into the vendor's call and result message shapes.
//
// Adapters do not retry the round itself. A round that dies mid-stream has
// already delivered text the user saw; silently replaying it would duplicate
// that output. Retry belongs to the caller, which knows what already
// streamed.
package providers

import (
	"context"
	"strings"

	"github.com/quillchat/quill/internal/engine"
	"github.com/quillchat/quill/internal/tools"
	"github.com/quillchat/quill/pkg/models"
)

// send delivers a chunk unless the turn is already gone.
func send(ctx context.Context, out chan<- *engine.StreamChunk, chunk *engine.StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// callBuffer collects the round's tool calls so they can be emitted settled
// into shape at end of round: one ToolCall for the lone-call case, one
// ToolCalls batch for two or more.
type callBuffer struct {
	calls []*models.ToolCall
	sig   string
}

func (b *callBuffer) add(tc *models.ToolCall) {
	if tc == nil || tc.ID == "" || tc.Name == "" {
		return
	}
	tc.BareName = tools.BareName(tc.Name)
	tc.Status = models.ToolCallPending
	b.calls = append(b.calls, tc)
}

func (b *callBuffer) flush(ctx context.Context, out chan<- *engine.StreamChunk) bool {
	defer func() { b.calls = nil }()
	switch len(b.calls) {
	case 0:
		return true
	case 1:
		return send(ctx, out, &engine.StreamChunk{ToolCall: b.calls[0], ReplaySignature: b.sig})
	default:
		return send(ctx, out, &engine.StreamChunk{ToolCalls: b.calls, ReplaySignature: b.sig})
	}
}

// settledCalls returns the tool calls recorded in an assistant message's
// blocks, in block order.
func settledCalls(msg models.ChatMessage) []*models.ToolCall {
	var calls []*models.ToolCall
	for _, b := range msg.Blocks {
		if b.Kind == models.BlockToolCall && b.ToolCall != nil {
			calls = append(calls, b.ToolCall)
		}
	}
	return calls
}

// replaySignature returns the signature recorded with a replayed round's
// results, if the originating vendor issued one.
func replaySignature(calls []*models.ToolCall) string {
	for _, tc := range calls {
		if tc.Result != nil && tc.Result.ReplaySignature != "" {
			return tc.Result.ReplaySignature
		}
	}
	return ""
}

// reasoningText returns the concatenated reasoning blocks of a message.
func reasoningText(msg models.ChatMessage) string {
	var text string
	for _, b := range msg.Blocks {
		if b.Kind == models.BlockReasoning {
			text += b.Text
		}
	}
	return text
}

// resultContent returns the model-ready text for a settled call, with a
// placeholder for calls that somehow settled without a result.
func resultContent(tc *models.ToolCall) (content string, isError bool) {
	if tc.Result == nil {
		return "(no result)", true
	}
	return tc.Result.Content, tc.Result.IsError
}

// imageAttachment reports whether att should be inlined as a vendor image
// part.
func imageAttachment(att models.Attachment) bool {
	return att.Type == "image" || strings.HasPrefix(att.MimeType, "image/")
}

// parseDataURL splits a data: URL into its media type and base64 payload.
func parseDataURL(raw string) (mediaType, payload string, ok bool) {
	if !strings.HasPrefix(raw, "data:") {
		return "", "", false
	}
	meta, payload, found := strings.Cut(raw[len("data:"):], ",")
	if !found || payload == "" {
		return "", "", false
	}
	mediaType = meta
	if i := strings.IndexByte(meta, ';'); i >= 0 {
		mediaType = meta[:i]
	}
	if mediaType == "" {
		mediaType = "image/jpeg"
	}
	return mediaType, payload, true
}
