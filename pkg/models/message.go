// Package models defines the shared vocabulary of the engine: messages,
// content blocks, tool calls, artifacts, and usage accounting. Everything
// above the provider adapters speaks in these types.
package models

import (
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// BlockKind tags a content block variant.
type BlockKind string

const (
	BlockText      BlockKind = "text"
	BlockReasoning BlockKind = "reasoning"
	BlockToolCall  BlockKind = "tool_call"
	BlockArtifact  BlockKind = "artifact"
)

// ContentBlock is one typed unit of assistant output, kept in strict arrival
// order. Exactly one payload field is populated, selected by Kind.
type ContentBlock struct {
	Kind BlockKind `json:"kind"`

	// Text carries the payload for text and reasoning blocks.
	Text string `json:"text,omitempty"`

	// ToolCall carries the payload for tool_call blocks. It is updated in
	// place as the call settles; the block itself never moves.
	ToolCall *ToolCall `json:"tool_call,omitempty"`

	// ArtifactID references the artifact for artifact blocks.
	ArtifactID string `json:"artifact_id,omitempty"`
}

// ChatMessage is one message in a conversation. Messages are immutable once
// committed; a conversation only ever appends.
type ChatMessage struct {
	ID          string         `json:"id"`
	Role        Role           `json:"role"`
	Content     string         `json:"content"`
	Blocks      []ContentBlock `json:"blocks,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Attachment represents a file or image attached to a message.
type Attachment struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // image, document
	URL      string `json:"url"`  // https URL or base64 data URL
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Conversation holds the committed state handed back to the caller after a
// turn: the ordered message list and the artifact list.
type Conversation struct {
	ID        string        `json:"id"`
	Title     string        `json:"title,omitempty"`
	Messages  []ChatMessage `json:"messages"`
	Artifacts []Artifact    `json:"artifacts,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// LastAssistantIndex returns the index of the last assistant message, or -1.
func (c *Conversation) LastAssistantIndex() int {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleAssistant {
			return i
		}
	}
	return -1
}

// Usage reports token counts for one provider round. A turn aggregates the
// usage of all its rounds.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates another round's usage.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}
