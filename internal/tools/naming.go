// Package tools holds the tool declaration registry, the prefixed naming
// convention for externally served tools, and the executor that settles tool
// calls against their backends.
//
// Provider-visible names follow a reversible convention:
//   - Builtin tools:    <tool>                       (e.g. web_search)
//   - MCP tools:        mcp__<server>__<tool>        (e.g. mcp__linear__create_issue)
//   - Connector tools:  connector__<server>__<tool>  (e.g. connector__jira__search)
//
// Only alphanumerics and underscores appear in the encoded name, so every
// provider accepts it, and Parse recovers the routing information without a
// lookup table.
package tools

import (
	"fmt"
	"regexp"
	"strings"
)

// Source identifies where a tool is served from.
type Source string

const (
	SourceBuiltin   Source = "builtin"
	SourceMCP       Source = "mcp"
	SourceConnector Source = "connector"
)

const (
	mcpPrefix       = "mcp__"
	connectorPrefix = "connector__"
	sep             = "__"

	// MaxNameLength bounds encoded names; providers reject longer ones.
	MaxNameLength = 64
)

var safeNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Identity is the decoded form of a provider-visible tool name.
type Identity struct {
	// Source is where the tool is served from.
	Source Source `json:"source"`

	// ServerID addresses the external server. Empty for builtin tools.
	ServerID string `json:"server_id,omitempty"`

	// Name is the bare tool name within its server. Ceilings and dispatch
	// key off this.
	Name string `json:"name"`
}

// Builtin returns the identity of a locally served tool.
func Builtin(name string) Identity {
	return Identity{Source: SourceBuiltin, Name: name}
}

// External returns the identity of a tool on an external server.
func External(source Source, serverID, name string) Identity {
	return Identity{Source: source, ServerID: serverID, Name: name}
}

// Prefixed encodes the identity into the provider-visible name.
func (id Identity) Prefixed() string {
	switch id.Source {
	case SourceMCP:
		return mcpPrefix + id.ServerID + sep + id.Name
	case SourceConnector:
		return connectorPrefix + id.ServerID + sep + id.Name
	default:
		return id.Name
	}
}

// Validate checks that the encoded name is provider-safe.
func (id Identity) Validate() error {
	if id.Name == "" {
		return fmt.Errorf("tool name is empty")
	}
	encoded := id.Prefixed()
	if len(encoded) > MaxNameLength {
		return fmt.Errorf("tool name %q exceeds %d characters", encoded, MaxNameLength)
	}
	if !safeNamePattern.MatchString(encoded) {
		return fmt.Errorf("tool name %q contains invalid characters", encoded)
	}
	if id.Source != SourceBuiltin && id.ServerID == "" {
		return fmt.Errorf("external tool %q has no server id", id.Name)
	}
	return nil
}

// Parse decodes a provider-visible name back into its identity. Names
// without a recognized prefix are builtin; a prefixed name with a malformed
// remainder is rejected rather than silently treated as builtin.
func Parse(encoded string) (Identity, error) {
	switch {
	case strings.HasPrefix(encoded, mcpPrefix):
		return parseExternal(SourceMCP, strings.TrimPrefix(encoded, mcpPrefix), encoded)
	case strings.HasPrefix(encoded, connectorPrefix):
		return parseExternal(SourceConnector, strings.TrimPrefix(encoded, connectorPrefix), encoded)
	default:
		if encoded == "" {
			return Identity{}, fmt.Errorf("empty tool name")
		}
		return Builtin(encoded), nil
	}
}

func parseExternal(source Source, rest, encoded string) (Identity, error) {
	parts := strings.SplitN(rest, sep, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Identity{}, fmt.Errorf("malformed %s tool name: %q", source, encoded)
	}
	return External(source, parts[0], parts[1]), nil
}

// BareName returns the logical tool name for an encoded name, falling back
// to the encoded form if it does not parse.
func BareName(encoded string) string {
	id, err := Parse(encoded)
	if err != nil {
		return encoded
	}
	return id.Name
}
