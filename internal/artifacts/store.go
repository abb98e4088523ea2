// Package artifacts holds the artifact working set of a single turn.
//
// A store starts from the conversation's committed artifact list and layers
// the turn's pending creations and updates on top. Nothing touches the
// committed view until the turn settles and the caller persists Snapshot.
package artifacts

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quillchat/quill/pkg/models"
)

// Store is the turn-scoped artifact working set. It is safe for concurrent
// use; batched artifact tool calls may touch it from multiple goroutines.
type Store struct {
	mu    sync.Mutex
	byID  map[string]*models.Artifact
	order []string
}

// NewStore seeds the working set with the committed artifacts of the
// conversation. The inputs are deep-copied; the caller's slice stays
// untouched if the turn is aborted.
func NewStore(committed []models.Artifact) *Store {
	s := &Store{byID: make(map[string]*models.Artifact, len(committed))}
	for i := range committed {
		a := committed[i]
		a.Versions = append([]models.ArtifactVersion(nil), a.Versions...)
		s.byID[a.ID] = &a
		s.order = append(s.order, a.ID)
	}
	return s
}

// Create registers a new artifact. Creating an identifier that already
// exists is treated as an update so that a model re-emitting a create for a
// known artifact versions it instead of clobbering history.
func (s *Store) Create(a *models.Artifact) (*models.Artifact, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byID[a.ID]; ok {
		existing.Update(a.Content, a.Title)
		return existing, nil
	}
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	s.byID[a.ID] = a
	s.order = append(s.order, a.ID)
	return a, nil
}

// Update replaces an artifact's content, snapshotting the prior content into
// its version list first.
func (s *Store) Update(id, content, title string) (*models.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("artifact %q not found", id)
	}
	a.Update(content, title)
	return a, nil
}

// Get returns the artifact with the given id, or an error.
func (s *Store) Get(id string) (*models.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("artifact %q not found", id)
	}
	return a, nil
}

// Snapshot returns the full working set in creation order, committed
// artifacts first. The result is a deep copy safe to hand to persistence.
func (s *Store) Snapshot() []models.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Artifact, 0, len(s.order))
	for _, id := range s.order {
		a := *s.byID[id]
		a.Versions = append([]models.ArtifactVersion(nil), a.Versions...)
		out = append(out, a)
	}
	return out
}

// IDs returns the identifiers in the working set, sorted, for logging.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := append([]string(nil), s.order...)
	sort.Strings(ids)
	return ids
}
