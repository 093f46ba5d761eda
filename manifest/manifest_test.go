package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func validManifest() *Manifest {
	return &Manifest{
		ID:             "test-plugin",
		Name:           "Test Plugin",
		Version:        "1.2.3",
		APIVersion:     "2",
		MinCoreVersion: "2.0.0",
	}
}

func TestManifestValidate(t *testing.T) {
	t.Parallel()

	if err := validManifest().Validate(); err != nil {
		t.Fatalf("valid manifest rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Manifest)
	}{
		{"missing id", func(m *Manifest) { m.ID = "" }},
		{"uppercase id", func(m *Manifest) { m.ID = "TestPlugin" }},
		{"id trailing hyphen", func(m *Manifest) { m.ID = "test-" }},
		{"missing name", func(m *Manifest) { m.Name = "" }},
		{"missing version", func(m *Manifest) { m.Version = "" }},
		{"bad version", func(m *Manifest) { m.Version = "one.two.three" }},
		{"missing api version", func(m *Manifest) { m.APIVersion = "" }},
		{"missing min core version", func(m *Manifest) { m.MinCoreVersion = "" }},
		{"bad max core version", func(m *Manifest) { m.MaxCoreVersion = "not-semver" }},
		{"inverted window", func(m *Manifest) { m.MaxCoreVersion = "1.0.0" }},
		{"frontend without entry", func(m *Manifest) { m.Frontend = &Frontend{} }},
		{"duplicate component", func(m *Manifest) {
			m.Frontend = &Frontend{Entry: "bundle.js", Components: []string{"A", "A"}}
		}},
		{"dependency without constraint", func(m *Manifest) {
			m.Dependencies = []Dependency{{ID: "other"}}
		}},
		{"dependency bad constraint", func(m *Manifest) {
			m.Dependencies = []Dependency{{ID: "other", Constraint: ">=x"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validManifest()
			tt.mutate(m)
			if err := m.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestCompatibleWith(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		min     string
		max     string
		api     string
		core    string
		wantErr bool
	}{
		{"inside window", "2.0.0", "2.99.99", "2", "2.3.0", false},
		{"open upper bound", "2.0.0", "", "2", "9.0.0", false},
		{"core at min", "2.3.0", "", "2", "2.3.0", false},
		{"core below min", "2.4.0", "", "2", "2.3.0", true},
		{"core above max", "2.0.0", "2.2.0", "2", "2.3.0", true},
		{"wrong api version", "2.0.0", "", "1", "2.3.0", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validManifest()
			m.MinCoreVersion = tt.min
			m.MaxCoreVersion = tt.max
			m.APIVersion = tt.api
			err := m.CompatibleWith(tt.core, "2")
			if tt.wantErr && err == nil {
				t.Error("expected incompatibility error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected compatible, got %v", err)
			}
		})
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "plugin.yaml")
	content := []byte(`id: sample
name: Sample
version: 0.1.0
api_version: "2"
min_core_version: 2.0.0
frontend:
  entry: bundle.js
  components:
    - SamplePanel
dependencies:
  - id: counter
    constraint: ">=1.0.0"
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if m.ID != "sample" || m.Frontend == nil || len(m.Frontend.Components) != 1 {
		t.Errorf("unexpected manifest: %+v", m)
	}
	if len(m.Dependencies) != 1 || m.Dependencies[0].Constraint != ">=1.0.0" {
		t.Errorf("unexpected dependencies: %+v", m.Dependencies)
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "plugin.json")
	content := []byte(`{"id":"sample","name":"Sample","version":"0.1.0","api_version":"2","min_core_version":"2.0.0"}`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.ID != "sample" || m.APIVersion != "2" {
		t.Errorf("unexpected manifest: %+v", m)
	}
}
