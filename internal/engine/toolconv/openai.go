package toolconv

import (
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"

	"github.com/quillchat/quill/internal/tools"
)

// ToOpenAI converts declarations to OpenAI function definitions. A schema
// that fails to parse degrades to an empty object schema rather than sinking
// the whole request.
func ToOpenAI(decls []*tools.Declaration) []openai.Tool {
	result := make([]openai.Tool, len(decls))
	for i, d := range decls {
		var schemaMap map[string]any
		if err := json.Unmarshal(d.Schema, &schemaMap); err != nil {
			schemaMap = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}

		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Prefixed(),
				Description: d.Description,
				Parameters:  schemaMap,
			},
		}
	}
	return result
}
