package frontend

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/timewarden/pluginhost/manifest"
)

func TestRegisterComponent(t *testing.T) {
	r := NewRegistry()

	if err := r.RegisterComponent("tagger", "TaggerSummary"); err != nil {
		t.Fatalf("RegisterComponent: %v", err)
	}
	if err := r.RegisterComponent("other", "TaggerSummary"); err == nil {
		t.Error("expected cross-plugin name collision")
	}
	if err := r.RegisterComponent("tagger", ""); err == nil {
		t.Error("expected empty name error")
	}

	components := r.Components()
	if len(components) != 1 || components[0].Plugin != "tagger" {
		t.Errorf("unexpected components: %+v", components)
	}
}

func TestRegisterSettingsTab(t *testing.T) {
	r := NewRegistry()

	if err := r.RegisterSettingsTab("tagger", "tagger-settings", ""); err != nil {
		t.Fatalf("RegisterSettingsTab: %v", err)
	}
	tabs := r.SettingsTabs()
	if len(tabs) != 1 || tabs[0].Label != "tagger-settings" {
		t.Errorf("empty label should default to name: %+v", tabs)
	}

	if err := r.RegisterSettingsTab("other", "tagger-settings", "x"); err == nil {
		t.Error("expected collision error")
	}
}

func TestRegisterManifestIsAllOrNothing(t *testing.T) {
	r := NewRegistry()

	if err := r.RegisterComponent("first", "Shared"); err != nil {
		t.Fatalf("RegisterComponent: %v", err)
	}

	mf := &manifest.Manifest{
		ID: "second",
		Frontend: &manifest.Frontend{
			Entry:      "bundle.js",
			Components: []string{"Fresh", "Shared"},
		},
	}
	if err := r.RegisterManifest(mf); err == nil {
		t.Fatal("expected collision on Shared")
	}

	// The component registered before the collision must be rolled back.
	for _, c := range r.Components() {
		if c.Name == "Fresh" {
			t.Error("partial registration leaked")
		}
	}
}

func TestRegisterManifestIncludesSettingsTabs(t *testing.T) {
	r := NewRegistry()

	mf := &manifest.Manifest{
		ID: "tagger",
		Frontend: &manifest.Frontend{
			Entry:        "bundle.js",
			Components:   []string{"TaggerSummary"},
			SettingsTabs: []manifest.SettingsTab{{Name: "tagger", Label: "Tagger"}},
		},
	}
	if err := r.RegisterManifest(mf); err != nil {
		t.Fatalf("RegisterManifest: %v", err)
	}
	if got := r.SettingsTabs(); len(got) != 1 || got[0].Label != "Tagger" {
		t.Errorf("unexpected settings tabs: %+v", got)
	}

	// A tab collision in a second manifest rolls back its components too.
	mf2 := &manifest.Manifest{
		ID: "other",
		Frontend: &manifest.Frontend{
			Entry:        "bundle.js",
			Components:   []string{"OtherWidget"},
			SettingsTabs: []manifest.SettingsTab{{Name: "tagger", Label: "Clash"}},
		},
	}
	if err := r.RegisterManifest(mf2); err == nil {
		t.Fatal("expected settings tab collision")
	}
	for _, c := range r.Components() {
		if c.Name == "OtherWidget" {
			t.Error("partial registration leaked")
		}
	}
}

func TestUnregisterPlugin(t *testing.T) {
	r := NewRegistry()

	if err := r.RegisterComponent("tagger", "TaggerSummary"); err != nil {
		t.Fatalf("RegisterComponent: %v", err)
	}
	if err := r.RegisterSettingsTab("tagger", "tagger-settings", "Tagger"); err != nil {
		t.Fatalf("RegisterSettingsTab: %v", err)
	}
	if err := r.RegisterComponent("counter", "CounterBadge"); err != nil {
		t.Fatalf("RegisterComponent: %v", err)
	}

	r.UnregisterPlugin("tagger")

	if got := r.Components(); len(got) != 1 || got[0].Plugin != "counter" {
		t.Errorf("unexpected components after unregister: %+v", got)
	}
	if got := r.SettingsTabs(); len(got) != 0 {
		t.Errorf("settings tabs not removed: %+v", got)
	}

	// The freed names are available again.
	if err := r.RegisterComponent("newcomer", "TaggerSummary"); err != nil {
		t.Errorf("re-register freed name: %v", err)
	}
}

func TestHandlerServesIndexes(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterComponent("tagger", "TaggerSummary"); err != nil {
		t.Fatalf("RegisterComponent: %v", err)
	}
	if err := r.RegisterSettingsTab("tagger", "tagger-settings", "Tagger"); err != nil {
		t.Fatalf("RegisterSettingsTab: %v", err)
	}

	mux := http.NewServeMux()
	NewHandler(r).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/ui/components")
	if err != nil {
		t.Fatalf("GET components: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var components []Component
	if err := json.NewDecoder(resp.Body).Decode(&components); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(components) != 1 || components[0].Name != "TaggerSummary" {
		t.Errorf("unexpected components: %+v", components)
	}

	resp2, err := http.Post(srv.URL+"/api/ui/settings-tabs", "application/json", nil)
	if err != nil {
		t.Fatalf("POST settings-tabs: %v", err)
	}
	defer func() { _ = resp2.Body.Close() }()
	if resp2.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", resp2.StatusCode)
	}
}
