package migration

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/timewarden/pluginhost/sdk"
)

// LoadDir reads version-prefixed SQL scripts from a directory. Files must be
// named like "001_initial.sql" — a numeric version prefix, an underscore, a
// name, and a .sql extension. The returned migrations are sorted ascending
// by version; duplicate versions are an error. A missing directory yields an
// empty list.
func LoadDir(dir string) ([]sdk.Migration, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}
	return LoadFS(os.DirFS(dir), ".")
}

// LoadFS is LoadDir over an fs.FS, for plugins that embed their migration
// scripts.
func LoadFS(fsys fs.FS, dir string) ([]sdk.Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	var migrations []sdk.Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, name, err := parseFilename(entry.Name())
		if err != nil {
			return nil, fmt.Errorf("migration file %s: %w", entry.Name(), err)
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		migrations = append(migrations, sdk.Migration{
			Version: version,
			Name:    name,
			SQL:     string(data),
		})
	}

	return sortMigrations(migrations)
}

// parseFilename splits "001_initial.sql" into version 1 and name "initial".
func parseFilename(filename string) (int, string, error) {
	base := strings.TrimSuffix(filename, ".sql")
	prefix, name, ok := strings.Cut(base, "_")
	if !ok || name == "" {
		return 0, "", fmt.Errorf("expected NNN_name.sql")
	}
	version, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, "", fmt.Errorf("invalid version prefix %q: %w", prefix, err)
	}
	if version <= 0 {
		return 0, "", fmt.Errorf("version prefix must be positive, got %d", version)
	}
	return version, name, nil
}
