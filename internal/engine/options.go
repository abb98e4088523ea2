package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/quillchat/quill/pkg/models"
)

// Committer persists the outcome of a turn. Both methods are called once
// when the turn settles normally and once more if it is cancelled mid-way,
// with whatever partial state had accumulated.
type Committer interface {
	// PersistConversation appends the committed assistant message.
	PersistConversation(ctx context.Context, conversationID string, msg models.ChatMessage) error

	// PersistArtifacts replaces the conversation's artifact list.
	PersistArtifacts(ctx context.Context, conversationID string, artifacts []models.Artifact) error
}

// Options configures engine behavior.
type Options struct {
	// MaxRounds limits completion rounds per turn. When the model is still
	// requesting tools at the ceiling, the turn ends with a synthetic
	// notice instead of executing them.
	MaxRounds int

	// MaxWallTime bounds a whole turn. Zero means no timeout.
	MaxWallTime time.Duration

	// MaxTokens is the per-round output token budget passed to providers.
	MaxTokens int

	// EventBuffer sizes the outbound event channel.
	EventBuffer int

	// Committer receives the settled turn. Nil disables persistence.
	Committer Committer

	// Logger receives engine diagnostics.
	Logger *slog.Logger
}

// DefaultOptions returns the baseline engine options.
func DefaultOptions() Options {
	return Options{
		MaxRounds:   10,
		MaxWallTime: 10 * time.Minute,
		MaxTokens:   8192,
		EventBuffer: 64,
		Logger:      slog.Default(),
	}
}

func sanitizeOptions(opts Options) Options {
	def := DefaultOptions()
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = def.MaxRounds
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = def.MaxTokens
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = def.EventBuffer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}
