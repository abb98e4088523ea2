// Package capabilities defines the narrow interfaces through which the tool
// executor reaches its backends: web search, drive search, memory search,
// document search, and prefixed external tool servers. Implementations in
// this package talk HTTP; tests substitute fakes.
package capabilities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// SearchResult is one hit from a search-class backend.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// DriveDoc is one document hit from the user's drive.
type DriveDoc struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
	Snippet  string `json:"snippet,omitempty"`
}

// MemoryHit is one prior-conversation hit from memory search.
type MemoryHit struct {
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`
	Snippet        string `json:"snippet"`
	UpdatedAt      string `json:"updated_at,omitempty"`
}

// Searcher performs web search.
type Searcher interface {
	Search(ctx context.Context, query string, count int) ([]SearchResult, error)
}

// DriveSearcher searches the user's cloud drive. Implementations refresh
// OAuth tokens as a side effect and report refreshed tokens through the
// configured callback.
type DriveSearcher interface {
	SearchDrive(ctx context.Context, query string, count int) ([]DriveDoc, error)
}

// MemorySearcher searches prior conversations. The current conversation is
// excluded so a turn never retrieves its own half-written history.
type MemorySearcher interface {
	SearchMemory(ctx context.Context, query, excludeConversationID string) ([]MemoryHit, error)
}

// DocumentSearcher searches within the documents attached to a conversation.
type DocumentSearcher interface {
	SearchDocuments(ctx context.Context, conversationID, query string) ([]SearchResult, error)
}

// ExternalCaller invokes a tool on an external server, addressed by the
// routing information recovered from a prefixed tool name.
type ExternalCaller interface {
	CallExternal(ctx context.Context, source, serverID, tool string, params json.RawMessage) (content string, isError bool, err error)
}

// TokenSink receives OAuth tokens refreshed as a side effect of a drive
// call, so the caller can persist them.
type TokenSink func(*oauth2.Token)

// Set bundles the capability backends handed to the tool executor. Nil
// members disable the corresponding tools.
type Set struct {
	Search    Searcher
	Drive     DriveSearcher
	Memory    MemorySearcher
	Documents DocumentSearcher
	External  ExternalCaller
}

// StatusError is a backend failure that carries the HTTP status, letting the
// executor distinguish client errors (not retried) from transient ones.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Body)
}

// ClientError reports whether err is a 4xx backend response.
func ClientError(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Status >= 400 && se.Status < 500
}
