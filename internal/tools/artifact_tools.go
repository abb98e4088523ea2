package tools

import (
	"encoding/json"
	"fmt"

	"github.com/quillchat/quill/internal/artifacts"
	"github.com/quillchat/quill/pkg/models"
)

// Artifact tool handlers. These run synchronously against the turn's working
// set; no backend is involved, so they never retry and never time out.

func executeCreateArtifact(store *artifacts.Store, input json.RawMessage) (*models.ToolExecutionResult, error) {
	var p CreateArtifactParams
	if err := json.Unmarshal(input, &p); err != nil {
		return nil, fmt.Errorf("decode create_artifact params: %w", err)
	}
	a, err := store.Create(&models.Artifact{
		ID:       p.ID,
		Type:     models.ArtifactType(p.Type),
		Title:    p.Title,
		Content:  p.Content,
		Language: p.Language,
	})
	if err != nil {
		return nil, err
	}
	structured, _ := json.Marshal(a)
	return &models.ToolExecutionResult{
		Content:    fmt.Sprintf("Created artifact %q (%s, %d bytes).", a.ID, a.Type, len(a.Content)),
		Structured: structured,
	}, nil
}

func executeUpdateArtifact(store *artifacts.Store, input json.RawMessage) (*models.ToolExecutionResult, error) {
	var p UpdateArtifactParams
	if err := json.Unmarshal(input, &p); err != nil {
		return nil, fmt.Errorf("decode update_artifact params: %w", err)
	}
	a, err := store.Update(p.ID, p.Content, p.Title)
	if err != nil {
		return nil, err
	}
	structured, _ := json.Marshal(a)
	return &models.ToolExecutionResult{
		Content:    fmt.Sprintf("Updated artifact %q to version %d.", a.ID, len(a.Versions)+1),
		Structured: structured,
	}, nil
}

func executeReadArtifact(store *artifacts.Store, input json.RawMessage) (*models.ToolExecutionResult, error) {
	var p ReadArtifactParams
	if err := json.Unmarshal(input, &p); err != nil {
		return nil, fmt.Errorf("decode read_artifact params: %w", err)
	}
	a, err := store.Get(p.ID)
	if err != nil {
		return nil, err
	}
	return &models.ToolExecutionResult{
		Content: fmt.Sprintf("Artifact %q (%s): %s\n\n%s", a.ID, a.Type, a.Title, a.Content),
	}, nil
}
