package toolconv

import (
	"encoding/json"
	"strings"

	"google.golang.org/genai"

	"github.com/quillchat/quill/internal/tools"
)

// ToGemini converts declarations to Gemini function declarations. Gemini
// takes a typed schema rather than raw JSON Schema, so the bytes are
// re-parsed into its Schema tree.
func ToGemini(decls []*tools.Declaration) []*genai.Tool {
	if len(decls) == 0 {
		return nil
	}

	declarations := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, d := range decls {
		var schemaMap map[string]any
		if err := json.Unmarshal(d.Schema, &schemaMap); err != nil {
			continue
		}

		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        d.Prefixed(),
			Description: d.Description,
			Parameters:  geminiSchema(schemaMap),
		})
	}

	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

func geminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}

	schema := &genai.Schema{}

	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = geminiSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = geminiSchema(items)
	}

	return schema
}
