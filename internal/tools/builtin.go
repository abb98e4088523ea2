package tools

// Builtin tool declarations. Parameter structs double as the schema source;
// SchemaFor reflects them into self-contained JSON schemas.

// WebSearchParams are the parameters of the web_search tool.
type WebSearchParams struct {
	Query       string `json:"query" jsonschema:"required" jsonschema_description:"The search query"`
	ResultCount int    `json:"result_count,omitempty" jsonschema:"minimum=1,maximum=20" jsonschema_description:"Number of results to return (default 5)"`
}

// DriveSearchParams are the parameters of the drive_search tool.
type DriveSearchParams struct {
	Query       string `json:"query" jsonschema:"required" jsonschema_description:"Text to search for in the user's drive"`
	ResultCount int    `json:"result_count,omitempty" jsonschema:"minimum=1,maximum=20" jsonschema_description:"Number of documents to return (default 10)"`
}

// MemorySearchParams are the parameters of the memory_search tool.
type MemorySearchParams struct {
	Query string `json:"query" jsonschema:"required" jsonschema_description:"What to look for in past conversations"`
}

// DocumentSearchParams are the parameters of the document_search tool.
type DocumentSearchParams struct {
	Query string `json:"query" jsonschema:"required" jsonschema_description:"Text to search for in the attached documents"`
}

// CreateArtifactParams are the parameters of the create_artifact tool.
type CreateArtifactParams struct {
	ID       string `json:"id,omitempty" jsonschema_description:"Stable identifier; generated when omitted"`
	Type     string `json:"type" jsonschema:"required,enum=code,enum=document,enum=html,enum=svg,enum=mermaid,enum=react" jsonschema_description:"Artifact type"`
	Title    string `json:"title" jsonschema:"required" jsonschema_description:"Human-readable title"`
	Content  string `json:"content" jsonschema:"required" jsonschema_description:"Full artifact content"`
	Language string `json:"language,omitempty" jsonschema_description:"Language for code artifacts"`
}

// UpdateArtifactParams are the parameters of the update_artifact tool.
type UpdateArtifactParams struct {
	ID      string `json:"id" jsonschema:"required" jsonschema_description:"Identifier of the artifact to update"`
	Content string `json:"content" jsonschema:"required" jsonschema_description:"Replacement content; the prior content is versioned"`
	Title   string `json:"title,omitempty" jsonschema_description:"New title, if it changes"`
}

// ReadArtifactParams are the parameters of the read_artifact tool.
type ReadArtifactParams struct {
	ID string `json:"id" jsonschema:"required" jsonschema_description:"Identifier of the artifact to read"`
}

type builtinSpec struct {
	name        string
	description string
	class       Class
	params      any
}

var builtins = []builtinSpec{
	{
		name:        "web_search",
		description: "Search the web and return titles, URLs, and snippets for the top results.",
		class:       ClassSearch,
		params:      WebSearchParams{},
	},
	{
		name:        "drive_search",
		description: "Search the user's cloud drive for documents matching a query.",
		class:       ClassSearch,
		params:      DriveSearchParams{},
	},
	{
		name:        "memory_search",
		description: "Search the user's past conversations. The current conversation is never included.",
		class:       ClassSearch,
		params:      MemorySearchParams{},
	},
	{
		name:        "document_search",
		description: "Search within the documents attached to this conversation.",
		class:       ClassSearch,
		params:      DocumentSearchParams{},
	},
	{
		name:        "create_artifact",
		description: "Create a new artifact: a standalone document, code file, or diagram shown beside the chat.",
		class:       ClassArtifact,
		params:      CreateArtifactParams{},
	},
	{
		name:        "update_artifact",
		description: "Replace an artifact's content. The previous content is kept as a version.",
		class:       ClassArtifact,
		params:      UpdateArtifactParams{},
	},
	{
		name:        "read_artifact",
		description: "Read the current content of an artifact.",
		class:       ClassArtifact,
		params:      ReadArtifactParams{},
	},
}

// RegisterBuiltins adds every builtin declaration to the registry.
func RegisterBuiltins(r *Registry) error {
	for _, b := range builtins {
		err := r.Register(&Declaration{
			Identity:    Builtin(b.name),
			Description: b.description,
			Schema:      SchemaFor(b.params),
			Class:       b.class,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// RegisterExternal adds one external tool under its prefixed name.
func (r *Registry) RegisterExternal(source Source, serverID, name, description string, schema []byte) error {
	return r.Register(&Declaration{
		Identity:    External(source, serverID, name),
		Description: description,
		Schema:      schema,
		Class:       ClassExternal,
	})
}
