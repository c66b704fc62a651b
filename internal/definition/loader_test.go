package definition

import (
	"path/filepath"
	"testing"

	"github.com/pitabwire/bugtriage/model"
)

func TestLoader_LoadFile(t *testing.T) {
	l := NewLoader()
	doc, err := l.LoadFile("testdata/workflows/review.yaml")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	s := doc.Schema
	if s.Name != "review" {
		t.Errorf("Name = %q, want review", s.Name)
	}
	if s.InitialStepID != "draft" {
		t.Errorf("InitialStepID = %q, want draft", s.InitialStepID)
	}
	if len(s.Steps) != 3 {
		t.Fatalf("Steps = %d, want 3", len(s.Steps))
	}
	approve, ok := s.Step("approve")
	if !ok {
		t.Fatal("step approve missing")
	}
	if !approve.Config.RequiresNote {
		t.Error("approve.Config.RequiresNote = false, want true")
	}
	if len(approve.Config.ValidationRules) != 1 || approve.Config.ValidationRules[0].Type != model.RuleMinLength {
		t.Errorf("approve rules = %+v", approve.Config.ValidationRules)
	}
	done, _ := s.Step("done")
	if !done.Terminal() {
		t.Error("done should be terminal")
	}

	if len(s.Transitions) != 3 {
		t.Fatalf("Transitions = %d, want 3", len(s.Transitions))
	}
	conds := s.Transitions[1].Conditions
	if len(conds) != 2 {
		t.Fatalf("Conditions = %d, want 2", len(conds))
	}
	if n, ok := conds[0].Value.AsNumber(); !ok || n != 3 {
		t.Errorf("Conditions[0].Value = %v, want 3", conds[0].Value)
	}
	if !conds[1].Logic.IsOr() {
		t.Errorf("Conditions[1].Logic = %q, want Or", conds[1].Logic)
	}

	if doc.Checksum == "" {
		t.Error("Checksum should not be empty")
	}
	if doc.SourceFile != "testdata/workflows/review.yaml" {
		t.Errorf("SourceFile = %q", doc.SourceFile)
	}
}

func TestLoader_LoadFile_notFound(t *testing.T) {
	l := NewLoader()
	if _, err := l.LoadFile("testdata/nonexistent.yaml"); err == nil {
		t.Fatal("LoadFile() with missing file should return error")
	}
}

func TestLoader_LoadFile_invalidYaml(t *testing.T) {
	l := NewLoader()
	if _, err := l.LoadFile("testdata/invalid/bad.yaml"); err == nil {
		t.Fatal("LoadFile() with invalid YAML should return error")
	}
}

func TestLoader_LoadAll_skipsNonYaml(t *testing.T) {
	l := NewLoader()
	docs, err := l.LoadAll([]string{"testdata/workflows"})
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("LoadAll() = %d docs, want 1", len(docs))
	}
}

func TestLoader_LoadAll_missingDir(t *testing.T) {
	l := NewLoader()
	if _, err := l.LoadAll([]string{"testdata/does-not-exist"}); err == nil {
		t.Fatal("LoadAll() with missing directory should return error")
	}
}

func TestSchemaFiles(t *testing.T) {
	paths, err := SchemaFiles([]string{"testdata/workflows", "testdata/invalid"})
	if err != nil {
		t.Fatalf("SchemaFiles() error = %v", err)
	}
	want := []string{
		filepath.Join("testdata", "workflows", "review.yaml"),
		filepath.Join("testdata", "invalid", "bad.yaml"),
	}
	if len(paths) != len(want) {
		t.Fatalf("SchemaFiles() = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("paths[%d] = %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestLoader_Parse_checksumChangesWithContent(t *testing.T) {
	l := NewLoader()
	a, err := l.Parse([]byte("name: a\n"), "a")
	if err != nil {
		t.Fatal(err)
	}
	b, err := l.Parse([]byte("name: b\n"), "b")
	if err != nil {
		t.Fatal(err)
	}
	if a.Checksum == b.Checksum {
		t.Error("different documents should have different checksums")
	}
}
