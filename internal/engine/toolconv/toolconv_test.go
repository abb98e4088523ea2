package toolconv

import (
	"encoding/json"
	"testing"

	"google.golang.org/genai"

	"github.com/quillchat/quill/internal/tools"
)

func decl(name string, schema string) *tools.Declaration {
	return &tools.Declaration{
		Identity:    tools.Builtin(name),
		Description: "test tool",
		Schema:      json.RawMessage(schema),
		Class:       tools.ClassSearch,
	}
}

func TestToOpenAIPreservesSchema(t *testing.T) {
	decls := []*tools.Declaration{decl("web_search", `{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`)}
	out := ToOpenAI(decls)
	if len(out) != 1 {
		t.Fatalf("tools = %d", len(out))
	}
	if out[0].Function.Name != "web_search" {
		t.Fatalf("name = %q", out[0].Function.Name)
	}
	params, ok := out[0].Function.Parameters.(map[string]any)
	if !ok {
		t.Fatalf("parameters type %T", out[0].Function.Parameters)
	}
	if params["type"] != "object" {
		t.Fatalf("params = %v", params)
	}
}

func TestToOpenAIDegradesBadSchema(t *testing.T) {
	out := ToOpenAI([]*tools.Declaration{decl("broken", `{not json`)})
	params := out[0].Function.Parameters.(map[string]any)
	if params["type"] != "object" {
		t.Fatalf("params = %v", params)
	}
}

func TestToGeminiSchemaTree(t *testing.T) {
	decls := []*tools.Declaration{decl("create_artifact", `{
		"type":"object",
		"properties":{
			"type":{"type":"string","enum":["code","document"]},
			"tags":{"type":"array","items":{"type":"string"}}
		},
		"required":["type"]
	}`)}

	out := ToGemini(decls)
	if len(out) != 1 || len(out[0].FunctionDeclarations) != 1 {
		t.Fatalf("tools = %+v", out)
	}
	fd := out[0].FunctionDeclarations[0]
	if fd.Name != "create_artifact" {
		t.Fatalf("name = %q", fd.Name)
	}
	if fd.Parameters.Type != genai.TypeObject {
		t.Fatalf("type = %v", fd.Parameters.Type)
	}
	typeProp := fd.Parameters.Properties["type"]
	if typeProp == nil || len(typeProp.Enum) != 2 {
		t.Fatalf("enum = %+v", typeProp)
	}
	tagsProp := fd.Parameters.Properties["tags"]
	if tagsProp == nil || tagsProp.Items == nil || tagsProp.Items.Type != genai.TypeString {
		t.Fatalf("items = %+v", tagsProp)
	}
	if len(fd.Parameters.Required) != 1 || fd.Parameters.Required[0] != "type" {
		t.Fatalf("required = %v", fd.Parameters.Required)
	}
}

func TestToAnthropicRejectsBadSchema(t *testing.T) {
	if _, err := ToAnthropic([]*tools.Declaration{decl("broken", `{not json`)}); err == nil {
		t.Fatal("expected error for malformed schema")
	}
}
