package capabilities

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
)

// DriveConfig configures the drive search client.
type DriveConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout time.Duration
}

// DriveClient implements DriveSearcher against a drive search API using an
// oauth2 token source. The token source refreshes expired tokens
// transparently; every refreshed token is reported through the sink so the
// caller can persist it.
type DriveClient struct {
	cfg    DriveConfig
	source oauth2.TokenSource
	sink   TokenSink
	client *http.Client

	last *oauth2.Token
}

// NewDriveClient builds the client. sink may be nil.
func NewDriveClient(cfg DriveConfig, source oauth2.TokenSource, sink TokenSink) *DriveClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &DriveClient{
		cfg:    cfg,
		source: source,
		sink:   sink,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type driveSearchResponse struct {
	Files []struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		WebLink  string `json:"web_link"`
		MimeType string `json:"mime_type"`
		Snippet  string `json:"snippet"`
	} `json:"files"`
}

// SearchDrive queries the drive API for documents matching query.
func (c *DriveClient) SearchDrive(ctx context.Context, query string, count int) ([]DriveDoc, error) {
	if count <= 0 {
		count = 10
	}
	token, err := c.source.Token()
	if err != nil {
		return nil, fmt.Errorf("drive token: %w", err)
	}
	if c.sink != nil && (c.last == nil || c.last.AccessToken != token.AccessToken) {
		c.sink(token)
	}
	c.last = token

	u := fmt.Sprintf("%s/files/search?q=%s&limit=%d", c.cfg.BaseURL, url.QueryEscape(query), count)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build drive request: %w", err)
	}
	token.SetAuthHeader(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("drive request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read drive response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Status: resp.StatusCode, Body: truncate(string(body), 200)}
	}

	var parsed driveSearchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode drive response: %w", err)
	}

	docs := make([]DriveDoc, 0, len(parsed.Files))
	for _, f := range parsed.Files {
		docs = append(docs, DriveDoc{
			ID:       f.ID,
			Title:    f.Name,
			URL:      f.WebLink,
			MimeType: f.MimeType,
			Snippet:  f.Snippet,
		})
	}
	return docs, nil
}
