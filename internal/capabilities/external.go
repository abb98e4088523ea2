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

// ExternalConfig configures the external tool-server gateway client.
type ExternalConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key,omitempty"`
	Timeout time.Duration
}

// ExternalClient implements ExternalCaller by forwarding invocations to a
// tool-server gateway, addressed by source and server id.
type ExternalClient struct {
	cfg    ExternalConfig
	client *http.Client
}

func NewExternalClient(cfg ExternalConfig) *ExternalClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &ExternalClient{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type externalCallRequest struct {
	Source   string          `json:"source"`
	ServerID string          `json:"server_id"`
	Tool     string          `json:"tool"`
	Params   json.RawMessage `json:"params"`
}

type externalCallResponse struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}

// CallExternal invokes one tool on the addressed server. A tool-level
// failure comes back as (content, true, nil); only transport and protocol
// failures return a non-nil error.
func (c *ExternalClient) CallExternal(ctx context.Context, source, serverID, tool string, params json.RawMessage) (string, bool, error) {
	payload, err := json.Marshal(externalCallRequest{Source: source, ServerID: serverID, Tool: tool, Params: params})
	if err != nil {
		return "", false, fmt.Errorf("encode external call: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/tools/call", bytes.NewReader(payload))
	if err != nil {
		return "", false, fmt.Errorf("build external call: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("external call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", false, fmt.Errorf("read external response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, &StatusError{Status: resp.StatusCode, Body: truncate(string(body), 200)}
	}

	var parsed externalCallResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", false, fmt.Errorf("decode external response: %w", err)
	}
	return parsed.Content, parsed.IsError, nil
}
