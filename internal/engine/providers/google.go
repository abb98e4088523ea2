package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/quillchat/quill/internal/engine"
	"github.com/quillchat/quill/internal/engine/toolconv"
	"github.com/quillchat/quill/pkg/models"
)

// GoogleAdapter streams completions from the Gemini API.
//
// Gemini delivers whole function calls as parts rather than fragmenting
// them, and it issues no call IDs, so the adapter mints one per call. On
// replay, results are matched by function name, which is what the API keys
// responses off anyway.
type GoogleAdapter struct {
	client       *genai.Client
	defaultModel string
}

// GoogleConfig configures the Gemini adapter.
type GoogleConfig struct {
	// APIKey is required.
	APIKey string

	// DefaultModel is used when the request leaves Model empty.
	DefaultModel string
}

// NewGoogleAdapter builds the adapter.
func NewGoogleAdapter(ctx context.Context, cfg GoogleConfig) (*GoogleAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}

	return &GoogleAdapter{client: client, defaultModel: cfg.DefaultModel}, nil
}

// Name identifies the adapter.
func (a *GoogleAdapter) Name() string { return "google" }

// Stream opens one completion round.
func (a *GoogleAdapter) Stream(ctx context.Context, req *engine.StreamRequest) (<-chan *engine.StreamChunk, error) {
	model := req.Model
	if model == "" {
		model = a.defaultModel
	}

	contents := a.convertMessages(req.Messages)
	config := a.buildConfig(req)

	out := make(chan *engine.StreamChunk)
	go func() {
		defer close(out)

		var buf callBuffer
		var usage *models.Usage

		for resp, err := range a.client.Models.GenerateContentStream(ctx, model, contents, config) {
			if err != nil {
				send(ctx, out, &engine.StreamChunk{Err: NewAdapterError("google", model, err)})
				return
			}
			if resp == nil {
				continue
			}

			if resp.UsageMetadata != nil {
				usage = &models.Usage{
					InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
					OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				}
			}

			for _, candidate := range resp.Candidates {
				if candidate == nil || candidate.Content == nil {
					continue
				}
				for _, part := range candidate.Content.Parts {
					if part == nil {
						continue
					}
					if part.Text != "" {
						chunk := &engine.StreamChunk{ContentDelta: part.Text}
						if part.Thought {
							chunk = &engine.StreamChunk{ReasoningDelta: part.Text}
						}
						if !send(ctx, out, chunk) {
							return
						}
					}
					if part.FunctionCall != nil {
						args, err := json.Marshal(part.FunctionCall.Args)
						if err != nil {
							args = []byte("{}")
						}
						buf.add(&models.ToolCall{
							ID:    uuid.NewString(),
							Name:  part.FunctionCall.Name,
							Input: args,
						})
					}
				}
			}
		}

		if !buf.flush(ctx, out) {
			return
		}
		if usage != nil {
			send(ctx, out, &engine.StreamChunk{Usage: usage})
		}
	}()

	return out, nil
}

// convertMessages serializes the transcript into Gemini content. Assistant
// round records become a model-role content with function call parts,
// followed by a user-role content with the function responses.
func (a *GoogleAdapter) convertMessages(messages []models.ChatMessage) []*genai.Content {
	var result []*genai.Content

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleUser:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, att := range msg.Attachments {
				if part := geminiImagePart(att); part != nil {
					parts = append(parts, part)
				}
			}
			if len(parts) == 0 {
				continue
			}
			result = append(result, &genai.Content{
				Role:  genai.RoleUser,
				Parts: parts,
			})

		case models.RoleAssistant:
			content := &genai.Content{Role: genai.RoleModel}
			if msg.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
			}

			calls := settledCalls(msg)
			for _, tc := range calls {
				var args map[string]any
				if err := json.Unmarshal(tc.Input, &args); err != nil {
					args = map[string]any{}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args},
				})
			}
			if len(content.Parts) > 0 {
				result = append(result, content)
			}

			if len(calls) > 0 {
				responses := &genai.Content{Role: genai.RoleUser}
				for _, tc := range calls {
					text, isError := resultContent(tc)
					var response map[string]any
					if err := json.Unmarshal([]byte(text), &response); err != nil {
						response = map[string]any{"result": text, "error": isError}
					}
					responses.Parts = append(responses.Parts, &genai.Part{
						FunctionResponse: &genai.FunctionResponse{
							Name:     tc.Name,
							Response: response,
						},
					})
				}
				result = append(result, responses)
			}
		}
	}

	return result
}

// geminiImagePart renders an image attachment: data URLs become inline
// blobs, remote URLs ride as file data.
func geminiImagePart(att models.Attachment) *genai.Part {
	if !imageAttachment(att) {
		return nil
	}
	if mediaType, payload, ok := parseDataURL(att.URL); ok {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil
		}
		return &genai.Part{InlineData: &genai.Blob{Data: data, MIMEType: mediaType}}
	}
	if att.URL == "" {
		return nil
	}
	mimeType := att.MimeType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return &genai.Part{FileData: &genai.FileData{FileURI: att.URL, MIMEType: mimeType}}
}

func (a *GoogleAdapter) buildConfig(req *engine.StreamRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		// #nosec G115 -- bounded by min above
		config.MaxOutputTokens = int32(maxTokens)
	}
	if len(req.Tools) > 0 {
		config.Tools = toolconv.ToGemini(req.Tools)
	}
	if req.EnableReasoning {
		thinking := &genai.ThinkingConfig{IncludeThoughts: true}
		if req.ReasoningBudgetTokens > 0 {
			budget := min(req.ReasoningBudgetTokens, math.MaxInt32)
			// #nosec G115 -- bounded by min above
			b := int32(budget)
			thinking.ThinkingBudget = &b
		}
		config.ThinkingConfig = thinking
	}

	return config
}
