package migration

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
)

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"002_add_index.sql": "CREATE INDEX idx_w ON widgets (name);",
		"001_initial.sql":   "CREATE TABLE widgets (id INTEGER PRIMARY KEY);",
		"notes.txt":         "ignored",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	migs, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(migs) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migs))
	}
	if migs[0].Version != 1 || migs[0].Name != "initial" {
		t.Errorf("unexpected first migration: %+v", migs[0])
	}
	if migs[1].Version != 2 || migs[1].Name != "add_index" {
		t.Errorf("unexpected second migration: %+v", migs[1])
	}
	if migs[0].SQL != files["001_initial.sql"] {
		t.Errorf("unexpected SQL: %q", migs[0].SQL)
	}
}

func TestLoadDirMissingIsEmpty(t *testing.T) {
	migs, err := LoadDir(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if migs != nil {
		t.Errorf("expected nil, got %+v", migs)
	}
}

func TestLoadFS(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/001_initial.sql": {Data: []byte("CREATE TABLE t (id INTEGER);")},
		"migrations/003_later.sql":   {Data: []byte("ALTER TABLE t ADD COLUMN b TEXT;")},
	}
	migs, err := LoadFS(fsys, "migrations")
	if err != nil {
		t.Fatalf("LoadFS: %v", err)
	}
	if len(migs) != 2 || migs[0].Version != 1 || migs[1].Version != 3 {
		t.Errorf("unexpected migrations: %+v", migs)
	}
}

func TestLoadFSRejectsDuplicateVersions(t *testing.T) {
	fsys := fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"001_b.sql": {Data: []byte("SELECT 2;")},
	}
	if _, err := LoadFS(fsys, "."); err == nil {
		t.Fatal("expected duplicate version error")
	}
}

func TestParseFilename(t *testing.T) {
	tests := []struct {
		in      string
		version int
		name    string
		wantErr bool
	}{
		{"001_initial.sql", 1, "initial", false},
		{"12_add_column.sql", 12, "add_column", false},
		{"005_multi_word_name.sql", 5, "multi_word_name", false},
		{"initial.sql", 0, "", true},
		{"abc_initial.sql", 0, "", true},
		{"000_zero.sql", 0, "", true},
		{"001_.sql", 0, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			version, name, err := parseFilename(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseFilename(%q): %v", tt.in, err)
			}
			if version != tt.version || name != tt.name {
				t.Errorf("got (%d, %q), want (%d, %q)", version, name, tt.version, tt.name)
			}
		})
	}
}
