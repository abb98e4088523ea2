// Package toolconv renders canonical tool declarations into each vendor's
// wire format. Declarations carry self-contained JSON schemas, so every
// renderer works from the same bytes.
package toolconv

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/quillchat/quill/internal/tools"
)

// ToAnthropic converts declarations to Anthropic tool definitions.
func ToAnthropic(decls []*tools.Declaration) ([]anthropic.ToolUnionParam, error) {
	if len(decls) == 0 {
		return nil, nil
	}
	result := make([]anthropic.ToolUnionParam, 0, len(decls))
	for _, d := range decls {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(d.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", d.Prefixed(), err)
		}

		param := anthropic.ToolUnionParamOfTool(schema, d.Prefixed())
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", d.Prefixed())
		}
		param.OfTool.Description = anthropic.String(d.Description)
		result = append(result, param)
	}
	return result, nil
}
