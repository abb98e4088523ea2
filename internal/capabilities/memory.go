package capabilities

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MemoryConfig configures the conversation memory search client.
type MemoryConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key,omitempty"`
	Timeout time.Duration
}

// MemoryClient implements MemorySearcher against a memory search API.
type MemoryClient struct {
	cfg    MemoryConfig
	client *http.Client
}

func NewMemoryClient(cfg MemoryConfig) *MemoryClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &MemoryClient{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type memorySearchRequest struct {
	Query   string `json:"query"`
	Exclude string `json:"exclude_conversation_id,omitempty"`
}

type memorySearchResponse struct {
	Hits []MemoryHit `json:"hits"`
}

// SearchMemory queries prior conversations, excluding the one in flight.
func (c *MemoryClient) SearchMemory(ctx context.Context, query, excludeConversationID string) ([]MemoryHit, error) {
	payload, err := json.Marshal(memorySearchRequest{Query: query, Exclude: excludeConversationID})
	if err != nil {
		return nil, fmt.Errorf("encode memory request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/memory/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build memory request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("memory request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read memory response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Status: resp.StatusCode, Body: truncate(string(body), 200)}
	}

	var parsed memorySearchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode memory response: %w", err)
	}

	// Server-side exclusion is best effort; filter again locally.
	hits := parsed.Hits[:0]
	for _, h := range parsed.Hits {
		if h.ConversationID == excludeConversationID {
			continue
		}
		hits = append(hits, h)
	}
	return hits, nil
}
