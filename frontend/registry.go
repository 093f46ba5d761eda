// Package frontend tracks the UI surface plugins contribute: named
// components and settings tabs declared in their manifests, backed by the
// bundle payloads the host serves to its UI shell.
package frontend

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/timewarden/pluginhost/manifest"
)

// Component is one mountable UI component contributed by a plugin.
type Component struct {
	Plugin string `json:"plugin"`
	Name   string `json:"name"`
}

// SettingsTab is one settings page contributed by a plugin.
type SettingsTab struct {
	Plugin string `json:"plugin"`
	Name   string `json:"name"`
	Label  string `json:"label"`
}

// Registry is the registration surface offered to plugin frontends. Names
// are unique across plugins so the UI shell can mount by name alone.
type Registry struct {
	mu         sync.RWMutex
	components map[string]Component
	tabs       map[string]SettingsTab
}

// NewRegistry creates an empty frontend registry.
func NewRegistry() *Registry {
	return &Registry{
		components: make(map[string]Component),
		tabs:       make(map[string]SettingsTab),
	}
}

// RegisterComponent registers a named component for a plugin. Name
// collisions fail.
func (r *Registry) RegisterComponent(pluginID, name string) error {
	if name == "" {
		return fmt.Errorf("component name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.components[name]; ok {
		return fmt.Errorf("component %q is already registered by plugin %q", name, existing.Plugin)
	}
	r.components[name] = Component{Plugin: pluginID, Name: name}
	return nil
}

// RegisterSettingsTab registers a named settings tab for a plugin.
func (r *Registry) RegisterSettingsTab(pluginID, name, label string) error {
	if name == "" {
		return fmt.Errorf("settings tab name is required")
	}
	if label == "" {
		label = name
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.tabs[name]; ok {
		return fmt.Errorf("settings tab %q is already registered by plugin %q", name, existing.Plugin)
	}
	r.tabs[name] = SettingsTab{Plugin: pluginID, Name: name, Label: label}
	return nil
}

// RegisterManifest registers every component and settings tab a manifest
// declares. The batch is all-or-nothing: a collision rolls back everything
// registered earlier in the same call.
func (r *Registry) RegisterManifest(m *manifest.Manifest) error {
	if m.Frontend == nil {
		return nil
	}
	var components []string
	var tabs []string
	rollback := func() {
		for _, n := range components {
			r.unregisterComponent(n)
		}
		for _, n := range tabs {
			r.unregisterTab(n)
		}
	}
	for _, name := range m.Frontend.Components {
		if err := r.RegisterComponent(m.ID, name); err != nil {
			rollback()
			return fmt.Errorf("plugin %s: %w", m.ID, err)
		}
		components = append(components, name)
	}
	for _, tab := range m.Frontend.SettingsTabs {
		if err := r.RegisterSettingsTab(m.ID, tab.Name, tab.Label); err != nil {
			rollback()
			return fmt.Errorf("plugin %s: %w", m.ID, err)
		}
		tabs = append(tabs, tab.Name)
	}
	return nil
}

// UnregisterPlugin removes every component and settings tab a plugin
// registered. Called when the plugin is disabled.
func (r *Registry) UnregisterPlugin(pluginID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, c := range r.components {
		if c.Plugin == pluginID {
			delete(r.components, name)
		}
	}
	for name, t := range r.tabs {
		if t.Plugin == pluginID {
			delete(r.tabs, name)
		}
	}
}

func (r *Registry) unregisterComponent(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.components, name)
}

func (r *Registry) unregisterTab(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tabs, name)
}

// Components returns all registered components sorted by name.
func (r *Registry) Components() []Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Component, 0, len(r.components))
	for _, c := range r.components {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SettingsTabs returns all registered settings tabs sorted by name.
func (r *Registry) SettingsTabs() []SettingsTab {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SettingsTab, 0, len(r.tabs))
	for _, t := range r.tabs {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Handler serves the UI shell's component index.
type Handler struct {
	registry *Registry
}

// NewHandler creates an index handler over the registry.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterRoutes registers the frontend index routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/ui/components", h.handleComponents)
	mux.HandleFunc("/api/ui/settings-tabs", h.handleSettingsTabs)
}

func (h *Handler) handleComponents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.registry.Components())
}

func (h *Handler) handleSettingsTabs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.registry.SettingsTabs())
}
