package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"

	"github.com/quillchat/quill/internal/engine"
	"github.com/quillchat/quill/internal/engine/toolconv"
	"github.com/quillchat/quill/pkg/models"
)

// OllamaAdapter streams completions from a local Ollama daemon. The wire
// format is newline-delimited JSON over plain HTTP; tool definitions reuse
// the OpenAI function shape, which Ollama accepts as-is.
type OllamaAdapter struct {
	client       *http.Client
	baseURL      string
	defaultModel string
}

// OllamaConfig configures the Ollama adapter.
type OllamaConfig struct {
	// BaseURL defaults to http://localhost:11434.
	BaseURL string

	// DefaultModel is used when the request leaves Model empty.
	DefaultModel string

	// Timeout bounds the whole HTTP exchange. Defaults to 2 minutes.
	Timeout time.Duration
}

// NewOllamaAdapter builds the adapter.
func NewOllamaAdapter(cfg OllamaConfig) *OllamaAdapter {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &OllamaAdapter{
		client:       &http.Client{Timeout: timeout},
		baseURL:      baseURL,
		defaultModel: strings.TrimSpace(cfg.DefaultModel),
	}
}

// Name identifies the adapter.
func (a *OllamaAdapter) Name() string { return "ollama" }

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Tools    []openai.Tool       `json:"tools,omitempty"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaToolCall struct {
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Stream opens one completion round.
func (a *OllamaAdapter) Stream(ctx context.Context, req *engine.StreamRequest) (<-chan *engine.StreamChunk, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = a.defaultModel
	}
	if model == "" {
		return nil, NewAdapterError("ollama", "", errors.New("model is required"))
	}

	payload := ollamaChatRequest{
		Model:    model,
		Stream:   true,
		Messages: a.convertMessages(req.Messages, req.System),
	}
	if len(req.Tools) > 0 {
		payload.Tools = toolconv.ToOpenAI(req.Tools)
	}
	if req.MaxTokens > 0 {
		payload.Options = map[string]any{"num_predict": req.MaxTokens}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewAdapterError("ollama", model, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, NewAdapterError("ollama", model, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, NewAdapterError("ollama", model, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, NewAdapterError("ollama", model,
			fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))).
			WithStatus(resp.StatusCode)
	}

	out := make(chan *engine.StreamChunk)
	go a.streamResponse(ctx, model, resp.Body, out)
	return out, nil
}

func (a *OllamaAdapter) streamResponse(ctx context.Context, model string, body io.ReadCloser, out chan<- *engine.StreamChunk) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var buf callBuffer
	seen := map[string]struct{}{}
	var produced bool
	var malformed int

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !gjson.Valid(line) {
			// Individual garbled frames are skippable; only a stream that
			// never yields anything usable fails the round.
			malformed++
			continue
		}

		frame := gjson.Parse(line)
		if errMsg := frame.Get("error").String(); errMsg != "" {
			send(ctx, out, &engine.StreamChunk{Err: NewAdapterError("ollama", model, errors.New(errMsg))})
			return
		}

		if content := frame.Get("message.content").String(); content != "" {
			produced = true
			if !send(ctx, out, &engine.StreamChunk{ContentDelta: content}) {
				return
			}
		}

		for _, call := range frame.Get("message.tool_calls").Array() {
			name := strings.TrimSpace(call.Get("function.name").String())
			if name == "" {
				continue
			}
			id := strings.TrimSpace(call.Get("id").String())
			if id == "" {
				id = uuid.NewString()
			}
			// Some model builds repeat the same call on the final frame.
			key := id + "\x00" + name
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}

			input := json.RawMessage(`{}`)
			if args := call.Get("function.arguments"); args.Exists() && args.Raw != "" {
				input = json.RawMessage(args.Raw)
			}
			buf.add(&models.ToolCall{ID: id, Name: name, Input: input})
			produced = true
		}

		if frame.Get("done").Bool() {
			if !buf.flush(ctx, out) {
				return
			}
			send(ctx, out, &engine.StreamChunk{Usage: &models.Usage{
				InputTokens:  int(frame.Get("prompt_eval_count").Int()),
				OutputTokens: int(frame.Get("eval_count").Int()),
			}})
			return
		}
	}

	if err := scanner.Err(); err != nil {
		send(ctx, out, &engine.StreamChunk{Err: NewAdapterError("ollama", model, err)})
		return
	}
	if malformed > 0 && !produced {
		send(ctx, out, &engine.StreamChunk{Err: NewAdapterError("ollama", model,
			fmt.Errorf("stream contained only malformed lines (%d)", malformed))})
	}
}

// convertMessages serializes the transcript into Ollama's chat shape, which
// follows OpenAI's: assistant round records carry tool_calls, and each
// settled result follows as a tool-role message named after its tool.
func (a *OllamaAdapter) convertMessages(messages []models.ChatMessage, system string) []ollamaChatMessage {
	result := make([]ollamaChatMessage, 0, len(messages)+1)

	if system = strings.TrimSpace(system); system != "" {
		result = append(result, ollamaChatMessage{Role: "system", Content: system})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleAssistant:
			m := ollamaChatMessage{Role: "assistant", Content: msg.Content}
			calls := settledCalls(msg)
			for _, tc := range calls {
				args := tc.Input
				if len(args) == 0 {
					args = json.RawMessage(`{}`)
				}
				m.ToolCalls = append(m.ToolCalls, ollamaToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: ollamaToolFunction{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
			result = append(result, m)

			for _, tc := range calls {
				text, _ := resultContent(tc)
				result = append(result, ollamaChatMessage{
					Role:     "tool",
					Content:  text,
					ToolName: tc.Name,
				})
			}

		case models.RoleUser:
			result = append(result, ollamaChatMessage{Role: "user", Content: msg.Content})
		}
	}

	return result
}
