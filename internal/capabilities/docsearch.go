package capabilities

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DocumentConfig configures the attached-document search client.
type DocumentConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key,omitempty"`
	Timeout time.Duration
}

// DocumentClient implements DocumentSearcher against a document index API.
type DocumentClient struct {
	cfg    DocumentConfig
	client *http.Client
}

func NewDocumentClient(cfg DocumentConfig) *DocumentClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &DocumentClient{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type documentSearchResponse struct {
	Chunks []struct {
		DocumentTitle string `json:"document_title"`
		DocumentURL   string `json:"document_url"`
		Text          string `json:"text"`
	} `json:"chunks"`
}

// SearchDocuments queries the documents attached to a conversation.
func (c *DocumentClient) SearchDocuments(ctx context.Context, conversationID, query string) ([]SearchResult, error) {
	u := fmt.Sprintf("%s/conversations/%s/documents/search?q=%s",
		c.cfg.BaseURL, url.PathEscape(conversationID), url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build document request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("document request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read document response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Status: resp.StatusCode, Body: truncate(string(body), 200)}
	}

	var parsed documentSearchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode document response: %w", err)
	}

	results := make([]SearchResult, 0, len(parsed.Chunks))
	for _, ch := range parsed.Chunks {
		results = append(results, SearchResult{Title: ch.DocumentTitle, URL: ch.DocumentURL, Snippet: ch.Text})
	}
	return results, nil
}
