package artifacts

import (
	"testing"

	"github.com/quillchat/quill/pkg/models"
)

func TestCreateAndGet(t *testing.T) {
	s := NewStore(nil)
	a, err := s.Create(&models.Artifact{ID: "readme", Type: models.ArtifactDocument, Title: "Readme", Content: "v1"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.Get("readme")
	if err != nil {
		t.Fatal(err)
	}
	if got != a || got.Content != "v1" {
		t.Fatalf("got %+v", got)
	}
}

func TestCreateAssignsID(t *testing.T) {
	s := NewStore(nil)
	a, err := s.Create(&models.Artifact{Type: models.ArtifactCode, Title: "Gen", Content: "x", Language: "go"})
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == "" {
		t.Fatal("expected generated id")
	}
}

func TestCreateRejectsInvalidType(t *testing.T) {
	s := NewStore(nil)
	if _, err := s.Create(&models.Artifact{ID: "x", Type: "banana", Title: "X"}); err == nil {
		t.Fatal("expected error for invalid type")
	}
}

func TestUpdateAppendsVersion(t *testing.T) {
	s := NewStore(nil)
	if _, err := s.Create(&models.Artifact{ID: "doc", Type: models.ArtifactDocument, Title: "Doc", Content: "first"}); err != nil {
		t.Fatal(err)
	}
	a, err := s.Update("doc", "second", "")
	if err != nil {
		t.Fatal(err)
	}
	if a.Content != "second" {
		t.Fatalf("content = %q", a.Content)
	}
	if len(a.Versions) != 1 || a.Versions[0].Content != "first" {
		t.Fatalf("versions = %+v", a.Versions)
	}
	if _, err := s.Update("doc", "third", ""); err != nil {
		t.Fatal(err)
	}
	if len(a.Versions) != 2 || a.Versions[1].Content != "second" {
		t.Fatalf("versions = %+v", a.Versions)
	}
}

func TestUpdateMissingArtifact(t *testing.T) {
	s := NewStore(nil)
	if _, err := s.Update("ghost", "x", ""); err == nil {
		t.Fatal("expected error")
	}
}

func TestCreateExistingIDVersions(t *testing.T) {
	s := NewStore([]models.Artifact{{ID: "doc", Type: models.ArtifactDocument, Title: "Doc", Content: "orig"}})
	a, err := s.Create(&models.Artifact{ID: "doc", Type: models.ArtifactDocument, Title: "Doc v2", Content: "new"})
	if err != nil {
		t.Fatal(err)
	}
	if a.Content != "new" || a.Title != "Doc v2" {
		t.Fatalf("got %+v", a)
	}
	if len(a.Versions) != 1 || a.Versions[0].Content != "orig" {
		t.Fatalf("versions = %+v", a.Versions)
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	committed := []models.Artifact{{ID: "a", Type: models.ArtifactCode, Title: "A", Content: "1", Language: "go"}}
	s := NewStore(committed)
	if _, err := s.Update("a", "2", ""); err != nil {
		t.Fatal(err)
	}
	if committed[0].Content != "1" {
		t.Fatal("committed slice was mutated")
	}
	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].Content != "2" {
		t.Fatalf("snapshot = %+v", snap)
	}
	snap[0].Content = "tampered"
	got, _ := s.Get("a")
	if got.Content != "2" {
		t.Fatal("snapshot shares state with store")
	}
}

func TestSnapshotPreservesOrder(t *testing.T) {
	s := NewStore([]models.Artifact{{ID: "first", Type: models.ArtifactSVG, Title: "F"}})
	if _, err := s.Create(&models.Artifact{ID: "second", Type: models.ArtifactHTML, Title: "S"}); err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	if len(snap) != 2 || snap[0].ID != "first" || snap[1].ID != "second" {
		t.Fatalf("snapshot order = %+v", snap)
	}
}
