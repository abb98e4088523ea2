package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"regexp"

	openai "github.com/sashabaranov/go-openai"

	"github.com/quillchat/quill/internal/engine"
	"github.com/quillchat/quill/internal/engine/toolconv"
	"github.com/quillchat/quill/pkg/models"
)

// reasoningModelPattern matches the model families that refuse max_tokens
// and take max_completion_tokens instead.
var reasoningModelPattern = regexp.MustCompile(`^(o[134](-|$)|gpt-5)`)

// OpenAIAdapter streams completions from OpenAI's chat completions API.
//
// Unlike Anthropic, tool calls arrive fragmented: the ID and name come in
// the first delta for an index, and the argument JSON streams across later
// deltas. Fragments accumulate per index until finish_reason reports the
// calls complete.
type OpenAIAdapter struct {
	client       *openai.Client
	defaultModel string
}

// OpenAIConfig configures the OpenAI adapter.
type OpenAIConfig struct {
	// APIKey is required.
	APIKey string

	// BaseURL overrides the API endpoint. OpenAI-compatible gateways reuse
	// this adapter by pointing BaseURL at themselves.
	BaseURL string

	// DefaultModel is used when the request leaves Model empty.
	DefaultModel string
}

// NewOpenAIAdapter builds the adapter.
func NewOpenAIAdapter(cfg OpenAIConfig) (*OpenAIAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIAdapter{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
	}, nil
}

// Name identifies the adapter.
func (a *OpenAIAdapter) Name() string { return "openai" }

// Stream opens one completion round.
func (a *OpenAIAdapter) Stream(ctx context.Context, req *engine.StreamRequest) (<-chan *engine.StreamChunk, error) {
	model := req.Model
	if model == "" {
		model = a.defaultModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: a.convertMessages(req.Messages, req.System),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		if reasoningModelPattern.MatchString(model) {
			chatReq.MaxCompletionTokens = req.MaxTokens
		} else {
			chatReq.MaxTokens = req.MaxTokens
		}
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toolconv.ToOpenAI(req.Tools)
	}

	stream, err := a.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, a.wrapError(err, model)
	}

	out := make(chan *engine.StreamChunk)
	go a.processStream(ctx, model, stream, out)
	return out, nil
}

func (a *OpenAIAdapter) processStream(ctx context.Context, model string, stream *openai.ChatCompletionStream, out chan<- *engine.StreamChunk) {
	defer close(out)
	defer stream.Close()

	// Fragments keyed by the index OpenAI uses to interleave parallel calls.
	partials := make(map[int]*models.ToolCall)
	order := []int{}
	var buf callBuffer
	var usage *models.Usage

	flush := func() bool {
		for _, i := range order {
			buf.add(partials[i])
		}
		partials = make(map[int]*models.ToolCall)
		order = order[:0]
		return buf.flush(ctx, out)
	}

	for {
		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !flush() {
					return
				}
				if usage != nil {
					send(ctx, out, &engine.StreamChunk{Usage: usage})
				}
				return
			}
			send(ctx, out, &engine.StreamChunk{Err: a.wrapError(err, model)})
			return
		}

		// The usage frame arrives with an empty choice list after the final
		// content chunk.
		if response.Usage != nil {
			usage = &models.Usage{
				InputTokens:  response.Usage.PromptTokens,
				OutputTokens: response.Usage.CompletionTokens,
			}
		}
		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]

		if choice.Delta.Content != "" {
			if !send(ctx, out, &engine.StreamChunk{ContentDelta: choice.Delta.Content}) {
				return
			}
		}
		if choice.Delta.ReasoningContent != "" {
			if !send(ctx, out, &engine.StreamChunk{ReasoningDelta: choice.Delta.ReasoningContent}) {
				return
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if partials[index] == nil {
				partials[index] = &models.ToolCall{}
				order = append(order, index)
			}
			partial := partials[index]
			if tc.ID != "" {
				partial.ID = tc.ID
			}
			if tc.Function.Name != "" {
				partial.Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				partial.Input = json.RawMessage(string(partial.Input) + tc.Function.Arguments)
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			if !flush() {
				return
			}
		}
	}
}

// convertMessages serializes the transcript into OpenAI's message shape: the
// system prompt leads, assistant round records carry their tool_calls, and
// each settled result follows as its own tool-role message.
func (a *OpenAIAdapter) convertMessages(messages []models.ChatMessage, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			calls := settledCalls(msg)
			for _, tc := range calls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			result = append(result, oaiMsg)

			for _, tc := range calls {
				text, _ := resultContent(tc)
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    text,
					ToolCallID: tc.ID,
				})
			}

		case models.RoleUser:
			result = append(result, a.userMessage(msg))
		}
	}

	return result
}

func (a *OpenAIAdapter) userMessage(msg models.ChatMessage) openai.ChatCompletionMessage {
	oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}

	var images []models.Attachment
	for _, att := range msg.Attachments {
		if att.Type == "image" {
			images = append(images, att)
		}
	}
	if len(images) == 0 {
		oaiMsg.Content = msg.Content
		return oaiMsg
	}

	parts := make([]openai.ChatMessagePart, 0, len(images)+1)
	if msg.Content != "" {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: msg.Content,
		})
	}
	for _, att := range images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    att.URL,
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}
	oaiMsg.MultiContent = parts
	return oaiMsg
}

func (a *OpenAIAdapter) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	var ae *AdapterError
	if errors.As(err, &ae) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		wrapped := &AdapterError{
			Provider: "openai",
			Model:    model,
			Cause:    err,
			Reason:   ReasonUnknown,
			Message:  apiErr.Message,
		}
		wrapped = wrapped.WithStatus(apiErr.HTTPStatusCode)
		if code, ok := apiErr.Code.(string); ok && code != "" {
			wrapped = wrapped.WithCode(code)
		}
		if apiErr.Type != "" && wrapped.Reason == ReasonUnknown {
			wrapped = wrapped.WithCode(apiErr.Type)
		}
		return wrapped
	}

	return NewAdapterError("openai", model, err)
}
