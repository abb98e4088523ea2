package toolconv

import (
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/quillchat/quill/internal/tools"
)

// ToBedrock converts declarations to a Bedrock Converse tool configuration.
func ToBedrock(decls []*tools.Declaration) *types.ToolConfiguration {
	if len(decls) == 0 {
		return nil
	}
	bedrockTools := make([]types.Tool, len(decls))

	for i, d := range decls {
		var schema any
		if err := json.Unmarshal(d.Schema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}

		bedrockTools[i] = &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(d.Prefixed()),
				Description: aws.String(d.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		}
	}

	return &types.ToolConfiguration{Tools: bedrockTools}
}
