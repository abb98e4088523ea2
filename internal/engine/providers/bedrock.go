package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/quillchat/quill/internal/engine"
	"github.com/quillchat/quill/internal/engine/toolconv"
	"github.com/quillchat/quill/pkg/models"
)

// BedrockAdapter streams completions from AWS Bedrock's ConverseStream API.
// Authentication runs through the AWS credential chain unless explicit keys
// are configured.
type BedrockAdapter struct {
	client       *bedrockruntime.Client
	defaultModel string
}

// BedrockConfig configures the Bedrock adapter.
type BedrockConfig struct {
	// Region defaults to us-east-1.
	Region string

	// AccessKeyID and SecretAccessKey set explicit credentials. Leave empty
	// to use the default chain (env, IAM role, SSO).
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// DefaultModel is used when the request leaves Model empty.
	DefaultModel string
}

// NewBedrockAdapter builds the adapter.
func NewBedrockAdapter(ctx context.Context, cfg BedrockConfig) (*BedrockAdapter, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-sonnet-20240229-v1:0"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			cfg.SessionToken,
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	return &BedrockAdapter{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
	}, nil
}

// Name identifies the adapter.
func (a *BedrockAdapter) Name() string { return "bedrock" }

// Stream opens one completion round.
func (a *BedrockAdapter) Stream(ctx context.Context, req *engine.StreamRequest) (<-chan *engine.StreamChunk, error) {
	model := req.Model
	if model == "" {
		model = a.defaultModel
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: a.convertMessages(req.Messages),
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.System},
		}
	}
	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		input.InferenceConfig = &types.InferenceConfiguration{
			// #nosec G115 -- bounded by min above
			MaxTokens: aws.Int32(int32(maxTokens)),
		}
	}
	if len(req.Tools) > 0 {
		input.ToolConfig = toolconv.ToBedrock(req.Tools)
	}

	stream, err := a.client.ConverseStream(ctx, input)
	if err != nil {
		return nil, NewAdapterError("bedrock", model, err)
	}

	out := make(chan *engine.StreamChunk)
	go a.processStream(ctx, model, stream, out)
	return out, nil
}

// bedrockRound is the mutable per-round state threaded through handleEvent.
type bedrockRound struct {
	buf          callBuffer
	currentCall  *models.ToolCall
	currentInput strings.Builder
	usage        *models.Usage
}

func (a *BedrockAdapter) processStream(ctx context.Context, model string, stream *bedrockruntime.ConverseStreamOutput, out chan<- *engine.StreamChunk) {
	defer close(out)

	eventStream := stream.GetStream()
	defer eventStream.Close()

	var round bedrockRound
	for event := range eventStream.Events() {
		if !a.handleEvent(ctx, event, &round, out) {
			return
		}
	}

	if err := eventStream.Err(); err != nil {
		send(ctx, out, &engine.StreamChunk{Err: NewAdapterError("bedrock", model, err)})
		return
	}
	if !round.buf.flush(ctx, out) {
		return
	}
	if round.usage != nil {
		send(ctx, out, &engine.StreamChunk{Usage: round.usage})
	}
}

// handleEvent folds one ConverseStream event into the round. It returns
// false when the turn is gone and streaming should stop.
func (a *BedrockAdapter) handleEvent(ctx context.Context, event types.ConverseStreamOutput, round *bedrockRound, out chan<- *engine.StreamChunk) bool {
	switch ev := event.(type) {
	case *types.ConverseStreamOutputMemberContentBlockStart:
		if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
			round.currentCall = &models.ToolCall{
				ID:   aws.ToString(toolUse.Value.ToolUseId),
				Name: aws.ToString(toolUse.Value.Name),
			}
			round.currentInput.Reset()
		}

	case *types.ConverseStreamOutputMemberContentBlockDelta:
		switch delta := ev.Value.Delta.(type) {
		case *types.ContentBlockDeltaMemberText:
			if delta.Value != "" {
				return send(ctx, out, &engine.StreamChunk{ContentDelta: delta.Value})
			}
		case *types.ContentBlockDeltaMemberReasoningContent:
			if text, ok := delta.Value.(*types.ReasoningContentBlockDeltaMemberText); ok && text.Value != "" {
				return send(ctx, out, &engine.StreamChunk{ReasoningDelta: text.Value})
			}
		case *types.ContentBlockDeltaMemberToolUse:
			if delta.Value.Input != nil {
				round.currentInput.WriteString(*delta.Value.Input)
			}
		}

	case *types.ConverseStreamOutputMemberContentBlockStop:
		if round.currentCall != nil {
			round.currentCall.Input = json.RawMessage(round.currentInput.String())
			round.buf.add(round.currentCall)
			round.currentCall = nil
		}

	case *types.ConverseStreamOutputMemberMetadata:
		if ev.Value.Usage != nil {
			round.usage = &models.Usage{
				InputTokens:  int(aws.ToInt32(ev.Value.Usage.InputTokens)),
				OutputTokens: int(aws.ToInt32(ev.Value.Usage.OutputTokens)),
			}
		}

	case *types.ConverseStreamOutputMemberMessageStop:
		// Metadata can trail message_stop, so keep draining and flush
		// when the event stream closes.
	}
	return true
}

// convertMessages serializes the transcript into Bedrock's Converse message
// shape: assistant round records carry toolUse blocks, and a following user
// message carries the toolResult blocks.
func (a *BedrockAdapter) convertMessages(messages []models.ChatMessage) []types.Message {
	result := make([]types.Message, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleUser:
			var content []types.ContentBlock
			if msg.Content != "" {
				content = append(content, &types.ContentBlockMemberText{Value: msg.Content})
			}
			for _, att := range msg.Attachments {
				if img, ok := bedrockImageBlock(att); ok {
					content = append(content, img)
				}
			}
			if len(content) == 0 {
				continue
			}
			result = append(result, types.Message{
				Role:    types.ConversationRoleUser,
				Content: content,
			})

		case models.RoleAssistant:
			var content []types.ContentBlock
			if msg.Content != "" {
				content = append(content, &types.ContentBlockMemberText{Value: msg.Content})
			}

			calls := settledCalls(msg)
			for _, tc := range calls {
				var inputDoc any
				if err := json.Unmarshal(tc.Input, &inputDoc); err != nil {
					inputDoc = map[string]any{}
				}
				content = append(content, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(tc.ID),
						Name:      aws.String(tc.Name),
						Input:     document.NewLazyDocument(inputDoc),
					},
				})
			}
			if len(content) > 0 {
				result = append(result, types.Message{
					Role:    types.ConversationRoleAssistant,
					Content: content,
				})
			}

			if len(calls) > 0 {
				var results []types.ContentBlock
				for _, tc := range calls {
					text, isError := resultContent(tc)
					status := types.ToolResultStatusSuccess
					if isError {
						status = types.ToolResultStatusError
					}
					results = append(results, &types.ContentBlockMemberToolResult{
						Value: types.ToolResultBlock{
							ToolUseId: aws.String(tc.ID),
							Status:    status,
							Content: []types.ToolResultContentBlock{
								&types.ToolResultContentBlockMemberText{Value: text},
							},
						},
					})
				}
				result = append(result, types.Message{
					Role:    types.ConversationRoleUser,
					Content: results,
				})
			}
		}
	}

	return result
}

// bedrockImageBlock renders an image attachment as a Converse image block.
// Converse only accepts raw bytes, so data URLs are decoded and anything
// without an inline payload is dropped.
func bedrockImageBlock(att models.Attachment) (types.ContentBlock, bool) {
	if !imageAttachment(att) {
		return nil, false
	}
	mediaType, payload, ok := parseDataURL(att.URL)
	if !ok {
		return nil, false
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, false
	}
	format, ok := bedrockImageFormat(mediaType)
	if !ok {
		return nil, false
	}
	return &types.ContentBlockMemberImage{
		Value: types.ImageBlock{
			Format: format,
			Source: &types.ImageSourceMemberBytes{Value: data},
		},
	}, true
}

func bedrockImageFormat(mediaType string) (types.ImageFormat, bool) {
	switch strings.ToLower(mediaType) {
	case "image/png":
		return types.ImageFormatPng, true
	case "image/jpeg", "image/jpg":
		return types.ImageFormatJpeg, true
	case "image/gif":
		return types.ImageFormatGif, true
	case "image/webp":
		return types.ImageFormatWebp, true
	}
	return "", false
}
