package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
)

// Class groups tools by execution behavior. Search-class calls are retried
// on transient backend failures; artifact-class calls run locally against
// the turn's working set and are exempt from the per-tool ceiling;
// external-class calls get one attempt with an absolute timeout.
type Class string

const (
	ClassSearch   Class = "search"
	ClassArtifact Class = "artifact"
	ClassExternal Class = "external"
)

// Declaration is the canonical record for one tool: its identity, the
// description and parameter schema shown to the model, and its execution
// class.
type Declaration struct {
	Identity    Identity        `json:"identity"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
	Class       Class           `json:"class"`
}

// Prefixed returns the provider-visible name.
func (d *Declaration) Prefixed() string { return d.Identity.Prefixed() }

// DefaultToolCeiling is how many times one logical tool may run within a
// turn before its declaration is withheld from subsequent rounds.
const DefaultToolCeiling = 3

// Registry holds the declarations offered to the model. Builtin tools are
// registered at startup; external tools join per conversation as their
// servers connect.
type Registry struct {
	mu      sync.RWMutex
	decls   map[string]*Declaration
	order   []string
	ceiling int
}

// NewRegistry creates an empty registry with the default per-tool ceiling.
func NewRegistry() *Registry {
	return &Registry{
		decls:   make(map[string]*Declaration),
		ceiling: DefaultToolCeiling,
	}
}

// Register adds a declaration, rejecting invalid identities and collisions
// on the provider-visible name.
func (r *Registry) Register(d *Declaration) error {
	if err := d.Identity.Validate(); err != nil {
		return err
	}
	if len(d.Schema) == 0 {
		d.Schema = json.RawMessage(`{"type":"object"}`)
	}
	name := d.Prefixed()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.decls[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.decls[name] = d
	r.order = append(r.order, name)
	return nil
}

// Get looks a declaration up by its provider-visible name.
func (r *Registry) Get(prefixed string) (*Declaration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.decls[prefixed]
	return d, ok
}

// All returns every declaration in registration order.
func (r *Registry) All() []*Declaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Declaration, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.decls[name])
	}
	return out
}

// ForRound returns the declarations to offer for the next round, withholding
// any logical tool whose invocation count has reached the ceiling. Artifact
// tools are always offered; cutting the model off mid-edit strands a
// half-updated document.
func (r *Registry) ForRound(counts map[string]int) []*Declaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Declaration, 0, len(r.order))
	for _, name := range r.order {
		d := r.decls[name]
		if d.Class != ClassArtifact && counts[d.Identity.Name] >= r.ceiling {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Ceiling returns the per-tool invocation ceiling.
func (r *Registry) Ceiling() int { return r.ceiling }

// reflector is shared schema-generation config: inline everything so the
// schema is self-contained for every provider.
var reflector = jsonschema.Reflector{
	DoNotReference: true,
	ExpandedStruct: true,
}

// SchemaFor reflects a parameter struct into a self-contained JSON schema.
func SchemaFor(v any) json.RawMessage {
	schema := reflector.Reflect(v)
	raw, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return raw
}
