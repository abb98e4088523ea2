package models

import (
	"fmt"
	"time"
)

// ArtifactType is the closed enumeration of artifact document types.
type ArtifactType string

const (
	ArtifactCode     ArtifactType = "code"
	ArtifactDocument ArtifactType = "document"
	ArtifactHTML     ArtifactType = "html"
	ArtifactSVG      ArtifactType = "svg"
	ArtifactMermaid  ArtifactType = "mermaid"
	ArtifactReact    ArtifactType = "react"
)

// ValidArtifactType reports whether t is a member of the closed enumeration.
func ValidArtifactType(t ArtifactType) bool {
	switch t {
	case ArtifactCode, ArtifactDocument, ArtifactHTML, ArtifactSVG, ArtifactMermaid, ArtifactReact:
		return true
	}
	return false
}

// ArtifactVersion is one superseded snapshot of an artifact's content.
type ArtifactVersion struct {
	Content   string    `json:"content"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Artifact is a named, versioned, richly typed document the assistant can
// create, update, and read, distinct from chat text.
type Artifact struct {
	ID       string       `json:"id"`
	Type     ArtifactType `json:"type"`
	Title    string       `json:"title"`
	Content  string       `json:"content"`
	Language string       `json:"language,omitempty"`

	// Versions holds prior content snapshots, oldest first. Updating always
	// appends the pre-update content here before replacing it; versions are
	// never deleted.
	Versions []ArtifactVersion `json:"versions,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Update snapshots the current content into the version list and replaces it.
func (a *Artifact) Update(content, title string) {
	a.Versions = append(a.Versions, ArtifactVersion{
		Content:   a.Content,
		Title:     a.Title,
		CreatedAt: a.UpdatedAt,
	})
	a.Content = content
	if title != "" {
		a.Title = title
	}
	a.UpdatedAt = time.Now()
}

// Validate checks the fields a freshly created artifact must carry.
func (a *Artifact) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("artifact id is required")
	}
	if !ValidArtifactType(a.Type) {
		return fmt.Errorf("invalid artifact type: %q", a.Type)
	}
	if a.Title == "" {
		return fmt.Errorf("artifact title is required")
	}
	return nil
}
