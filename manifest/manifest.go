// Package manifest parses and validates plugin manifests: the static
// descriptor shipped next to a plugin that declares its identity, API
// generation, core-version compatibility window, entry points, and optional
// frontend surface. Compatibility checking is a pure comparison — the host
// refuses incompatible plugins, it never negotiates.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Backend declares how the host locates the plugin's executable part.
type Backend struct {
	Library    string `json:"library" yaml:"library"`
	EntryPoint string `json:"entry_point" yaml:"entry_point"`
}

// SettingsTab declares a settings page the plugin's frontend contributes.
type SettingsTab struct {
	Name  string `json:"name" yaml:"name"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
}

// Frontend declares an optional UI bundle, the components it exports, and
// any settings tabs it contributes.
type Frontend struct {
	Entry        string        `json:"entry" yaml:"entry"`
	Components   []string      `json:"components,omitempty" yaml:"components,omitempty"`
	SettingsTabs []SettingsTab `json:"settings_tabs,omitempty" yaml:"settings_tabs,omitempty"`
}

// Dependency declares a versioned dependency on another plugin.
type Dependency struct {
	ID         string `json:"id" yaml:"id"`
	Constraint string `json:"constraint" yaml:"constraint"` // semver constraint, e.g. ">=1.0.0", "^2.1.0"
}

// Manifest is a plugin's static descriptor, read from plugin.yaml (or
// plugin.json) in the plugin's directory. Immutable after load.
type Manifest struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Author      string `json:"author,omitempty" yaml:"author,omitempty"`
	License     string `json:"license,omitempty" yaml:"license,omitempty"`

	// APIVersion is the plugin API generation this plugin was built against.
	APIVersion string `json:"api_version" yaml:"api_version"`

	// MinCoreVersion and MaxCoreVersion bound the host versions this plugin
	// accepts. MaxCoreVersion may be empty for an open upper bound.
	MinCoreVersion string `json:"min_core_version" yaml:"min_core_version"`
	MaxCoreVersion string `json:"max_core_version,omitempty" yaml:"max_core_version,omitempty"`

	Backend      *Backend     `json:"backend,omitempty" yaml:"backend,omitempty"`
	Frontend     *Frontend    `json:"frontend,omitempty" yaml:"frontend,omitempty"`
	Targets      []string     `json:"targets,omitempty" yaml:"targets,omitempty"`
	Dependencies []Dependency `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

var pluginIDRe = regexp.MustCompile(`^[a-z][a-z0-9-]*[a-z0-9]$`)

func isValidPluginID(id string) bool {
	if len(id) < 2 {
		return len(id) == 1 && id[0] >= 'a' && id[0] <= 'z'
	}
	return pluginIDRe.MatchString(id)
}

// Validate checks that the manifest has all required fields, a well-formed
// plugin ID, and valid semver in every version field and constraint.
func (m *Manifest) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("manifest: id is required")
	}
	if !isValidPluginID(m.ID) {
		return fmt.Errorf("manifest: id %q must be lowercase alphanumeric with hyphens", m.ID)
	}
	if m.Name == "" {
		return fmt.Errorf("manifest: name is required")
	}
	if m.Version == "" {
		return fmt.Errorf("manifest: version is required")
	}
	if _, err := ParseSemver(m.Version); err != nil {
		return fmt.Errorf("manifest: invalid version %q: %w", m.Version, err)
	}
	if m.APIVersion == "" {
		return fmt.Errorf("manifest: api_version is required")
	}
	if m.MinCoreVersion == "" {
		return fmt.Errorf("manifest: min_core_version is required")
	}
	min, err := ParseSemver(m.MinCoreVersion)
	if err != nil {
		return fmt.Errorf("manifest: invalid min_core_version %q: %w", m.MinCoreVersion, err)
	}
	if m.MaxCoreVersion != "" {
		max, err := ParseSemver(m.MaxCoreVersion)
		if err != nil {
			return fmt.Errorf("manifest: invalid max_core_version %q: %w", m.MaxCoreVersion, err)
		}
		if max.Compare(min) < 0 {
			return fmt.Errorf("manifest: max_core_version %s is below min_core_version %s", m.MaxCoreVersion, m.MinCoreVersion)
		}
	}
	if m.Frontend != nil {
		if m.Frontend.Entry == "" {
			return fmt.Errorf("manifest: frontend entry is required when frontend is declared")
		}
		seen := make(map[string]bool, len(m.Frontend.Components))
		for _, c := range m.Frontend.Components {
			if c == "" {
				return fmt.Errorf("manifest: frontend component name must not be empty")
			}
			if seen[c] {
				return fmt.Errorf("manifest: duplicate frontend component %q", c)
			}
			seen[c] = true
		}
		seenTabs := make(map[string]bool, len(m.Frontend.SettingsTabs))
		for _, tab := range m.Frontend.SettingsTabs {
			if tab.Name == "" {
				return fmt.Errorf("manifest: settings tab name must not be empty")
			}
			if seenTabs[tab.Name] {
				return fmt.Errorf("manifest: duplicate settings tab %q", tab.Name)
			}
			seenTabs[tab.Name] = true
		}
	}
	for _, dep := range m.Dependencies {
		if dep.ID == "" {
			return fmt.Errorf("manifest: dependency id is required")
		}
		if dep.Constraint == "" {
			return fmt.Errorf("manifest: dependency %q constraint is required", dep.ID)
		}
		if _, err := ParseConstraint(dep.Constraint); err != nil {
			return fmt.Errorf("manifest: dependency %q has invalid constraint %q: %w", dep.ID, dep.Constraint, err)
		}
	}
	return nil
}

// CompatibleWith reports whether this plugin may be loaded by a host running
// the given core version and speaking the given API version. The check is a
// pure comparison; the returned error names the first violated bound.
func (m *Manifest) CompatibleWith(coreVersion, apiVersion string) error {
	if m.APIVersion != apiVersion {
		return fmt.Errorf("plugin %s declares api_version %s, host speaks %s", m.ID, m.APIVersion, apiVersion)
	}
	core, err := ParseSemver(coreVersion)
	if err != nil {
		return fmt.Errorf("invalid host core version %q: %w", coreVersion, err)
	}
	min, err := ParseSemver(m.MinCoreVersion)
	if err != nil {
		return fmt.Errorf("plugin %s: invalid min_core_version: %w", m.ID, err)
	}
	if core.Compare(min) < 0 {
		return fmt.Errorf("plugin %s requires core >= %s, host is %s", m.ID, m.MinCoreVersion, coreVersion)
	}
	if m.MaxCoreVersion != "" {
		max, err := ParseSemver(m.MaxCoreVersion)
		if err != nil {
			return fmt.Errorf("plugin %s: invalid max_core_version: %w", m.ID, err)
		}
		if core.Compare(max) > 0 {
			return fmt.Errorf("plugin %s requires core <= %s, host is %s", m.ID, m.MaxCoreVersion, coreVersion)
		}
	}
	return nil
}

// Load reads a manifest from a YAML or JSON file, chosen by extension.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		var m Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse manifest: %w", err)
		}
		return &m, nil
	}
	return Decode(data)
}

// Decode parses a YAML manifest.
func Decode(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}
