package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/quillchat/quill/internal/engine"
	"github.com/quillchat/quill/internal/engine/toolconv"
	"github.com/quillchat/quill/pkg/models"
)

// AnthropicAdapter streams completions from Anthropic's Messages API.
//
// Claude streams content as typed SSE blocks. Text and thinking deltas pass
// through as they arrive; tool_use blocks accumulate their input JSON across
// delta events and join the round's call buffer at content_block_stop. When
// extended thinking is on, the signature_delta token is captured and carried
// on the tool call chunk so the next round can echo it.
type AnthropicAdapter struct {
	client       anthropic.Client
	defaultModel string
}

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	// APIKey is required.
	APIKey string

	// BaseURL overrides the API endpoint, for proxies and test servers.
	BaseURL string

	// DefaultModel is used when the request leaves Model empty.
	DefaultModel string
}

// NewAnthropicAdapter builds the adapter.
func NewAnthropicAdapter(cfg AnthropicConfig) (*AnthropicAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicAdapter{
		client:       anthropic.NewClient(options...),
		defaultModel: cfg.DefaultModel,
	}, nil
}

// Name identifies the adapter.
func (a *AnthropicAdapter) Name() string { return "anthropic" }

// Stream opens one completion round.
func (a *AnthropicAdapter) Stream(ctx context.Context, req *engine.StreamRequest) (<-chan *engine.StreamChunk, error) {
	model := req.Model
	if model == "" {
		model = a.defaultModel
	}

	messages, err := a.convertMessages(req.Messages)
	if err != nil {
		return nil, NewAdapterError("anthropic", model, err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(req.MaxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		converted, err := toolconv.ToAnthropic(req.Tools)
		if err != nil {
			return nil, NewAdapterError("anthropic", model, err)
		}
		params.Tools = converted
	}
	if req.EnableReasoning {
		budget := int64(req.ReasoningBudgetTokens)
		if budget < 1024 {
			budget = 10000
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}

	out := make(chan *engine.StreamChunk)
	go a.processStream(ctx, model, params, out)
	return out, nil
}

func (a *AnthropicAdapter) processStream(ctx context.Context, model string, params anthropic.MessageNewParams, out chan<- *engine.StreamChunk) {
	defer close(out)

	stream := a.client.Messages.NewStreaming(ctx, params)

	var buf callBuffer
	var currentCall *models.ToolCall
	var currentInput strings.Builder
	var usage models.Usage

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				usage.InputTokens = int(start.Message.Usage.InputTokens)
			}

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentCall = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					if !send(ctx, out, &engine.StreamChunk{ContentDelta: delta.Text}) {
						return
					}
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					if !send(ctx, out, &engine.StreamChunk{ReasoningDelta: delta.Thinking}) {
						return
					}
				}
			case "signature_delta":
				if delta.Signature != "" {
					buf.sig = delta.Signature
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentInput.WriteString(delta.PartialJSON)
				}
			}

		case "content_block_stop":
			if currentCall != nil {
				currentCall.Input = json.RawMessage(currentInput.String())
				buf.add(currentCall)
				currentCall = nil
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(delta.Usage.OutputTokens)
			}

		case "message_stop":
			if !buf.flush(ctx, out) {
				return
			}
			send(ctx, out, &engine.StreamChunk{Usage: &usage})
			return

		case "error":
			send(ctx, out, &engine.StreamChunk{Err: NewAdapterError("anthropic", model, errors.New("anthropic stream error"))})
			return
		}
	}

	if err := stream.Err(); err != nil {
		send(ctx, out, &engine.StreamChunk{Err: a.wrapError(err, model)})
	}
}

// convertMessages serializes the transcript into Anthropic's alternating
// message shape. An assistant round record becomes the assistant message
// (text, thinking, tool_use blocks) followed by one user message carrying
// the tool_result blocks.
func (a *AnthropicAdapter) convertMessages(messages []models.ChatMessage) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		if msg.Role != models.RoleAssistant {
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, att := range msg.Attachments {
				if img, ok := anthropicImageBlock(att); ok {
					blocks = append(blocks, img)
				}
			}
			if len(blocks) == 0 {
				continue
			}
			result = append(result, anthropic.NewUserMessage(blocks...))
			continue
		}

		calls := settledCalls(msg)
		sig := replaySignature(calls)

		var content []anthropic.ContentBlockParamUnion
		if sig != "" {
			// Rounds produced under extended thinking must replay the
			// thinking block with its signature or the API rejects the
			// request.
			if thinking := reasoningText(msg); thinking != "" {
				content = append(content, anthropic.NewThinkingBlock(sig, thinking))
			}
		}
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tc := range calls {
			var input map[string]any
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input for %s: %w", tc.Name, err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}
		result = append(result, anthropic.NewAssistantMessage(content...))

		if len(calls) > 0 {
			var results []anthropic.ContentBlockParamUnion
			for _, tc := range calls {
				text, isError := resultContent(tc)
				results = append(results, anthropic.NewToolResultBlock(tc.ID, text, isError))
			}
			result = append(result, anthropic.NewUserMessage(results...))
		}
	}

	return result, nil
}

// anthropicImageBlock renders an image attachment as a vendor part: data
// URLs become base64 source blocks, anything else is passed by URL.
func anthropicImageBlock(att models.Attachment) (anthropic.ContentBlockParamUnion, bool) {
	if !imageAttachment(att) {
		return anthropic.ContentBlockParamUnion{}, false
	}
	if mediaType, data, ok := parseDataURL(att.URL); ok {
		return anthropic.NewImageBlockBase64(mediaType, data), true
	}
	if att.URL != "" {
		return anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: att.URL}), true
	}
	return anthropic.ContentBlockParamUnion{}, false
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (a *AnthropicAdapter) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	var ae *AdapterError
	if errors.As(err, &ae) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		wrapped := &AdapterError{
			Provider: "anthropic",
			Model:    model,
			Cause:    err,
			Reason:   ReasonUnknown,
		}
		wrapped = wrapped.WithStatus(apiErr.StatusCode)

		requestID := apiErr.RequestID
		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				if payload.Error.Message != "" {
					wrapped = wrapped.WithMessage(payload.Error.Message)
				}
				if payload.Error.Type != "" {
					wrapped = wrapped.WithCode(payload.Error.Type)
				}
				if payload.RequestID != "" {
					requestID = payload.RequestID
				}
			}
		}
		if wrapped.Message == "" {
			wrapped.Message = "anthropic request failed"
		}
		if requestID != "" {
			wrapped = wrapped.WithRequestID(requestID)
		}
		return wrapped
	}

	return NewAdapterError("anthropic", model, err)
}
