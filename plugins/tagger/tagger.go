// Package tagger is an auto-tagging plugin: it watches recorded activities
// and tags the ones matching its rules. It implements both API generations —
// the new command/schema-extension contract and the older lifecycle hooks —
// and ships a frontend bundle with a settings tab.
package tagger

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/timewarden/pluginhost/manifest"
	"github.com/timewarden/pluginhost/sdk"
)

//go:embed plugin.yaml bundle.js
var files embed.FS

// Plugin tags activities whose app name matches a configured rule. Rules are
// mutex-guarded; the legacy OnActivityRecorded hook and InvokeCommand may
// run concurrently.
type Plugin struct {
	mu      sync.Mutex
	rules   map[string]string // app name -> tag
	tagged  map[string]int64  // tag -> hit count
	started bool
}

// New creates a tagger plugin with no rules.
func New() *Plugin {
	return &Plugin{
		rules:  make(map[string]string),
		tagged: make(map[string]int64),
	}
}

// Manifest returns the plugin's embedded manifest.
func Manifest() (*manifest.Manifest, error) {
	data, err := files.ReadFile("plugin.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded manifest: %w", err)
	}
	return manifest.Decode(data)
}

func (p *Plugin) Info() sdk.PluginInfo {
	return sdk.PluginInfo{
		ID:          "auto-tagger",
		Name:        "Auto Tagger",
		Version:     "0.3.0",
		Description: "Tags recorded activities by application rules",
	}
}

func (p *Plugin) SchemaExtensions() []sdk.SchemaExtension {
	return []sdk.SchemaExtension{
		{
			Entity: sdk.EntityActivity,
			Changes: []sdk.SchemaChange{
				{
					Op:    sdk.OpCreateTable,
					Table: "activity_tags",
					Columns: []sdk.TableColumn{
						{Name: "id", Type: "INTEGER", PrimaryKey: true},
						{Name: "activity_id", Type: "INTEGER", ForeignKey: &sdk.ForeignKey{Table: "activities", Column: "id"}},
						{Name: "tag", Type: "TEXT"},
					},
				},
				{
					Op:           sdk.OpAddIndex,
					Table:        "activity_tags",
					Index:        "idx_activity_tags_tag",
					IndexColumns: []string{"tag"},
				},
			},
		},
	}
}

func (p *Plugin) Migrations() []sdk.Migration { return nil }

func (p *Plugin) Initialize(api sdk.HostAPI) error {
	for _, ext := range p.SchemaExtensions() {
		if err := api.RegisterSchemaExtension(ext.Entity, ext.Changes); err != nil {
			return fmt.Errorf("register schema extension: %w", err)
		}
	}
	if err := api.RegisterQueryFilters(sdk.EntityActivity, []sdk.QueryFilter{
		{Name: "tagged_only", Filter: p.taggedOnly},
	}); err != nil {
		return fmt.Errorf("register query filters: %w", err)
	}
	return nil
}

// taggedOnly keeps activity rows whose app name has a tagging rule.
func (p *Plugin) taggedOnly(row map[string]any) (bool, error) {
	app, ok := row["app_name"].(string)
	if !ok {
		return false, fmt.Errorf("tagged_only: row has no app_name")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, matched := p.rules[app]
	return matched, nil
}

type tagAppParams struct {
	AppName string `json:"app_name"`
	Tag     string `json:"tag"`
}

func (p *Plugin) InvokeCommand(_ context.Context, name string, params json.RawMessage, _ sdk.HostAPI) (json.RawMessage, error) {
	switch name {
	case "tag-app":
		var tp tagAppParams
		if err := json.Unmarshal(params, &tp); err != nil {
			return nil, fmt.Errorf("tag-app: bad params: %w", err)
		}
		if tp.AppName == "" || tp.Tag == "" {
			return nil, fmt.Errorf("tag-app: app_name and tag are required")
		}
		p.mu.Lock()
		p.rules[tp.AppName] = tp.Tag
		p.mu.Unlock()
		return json.Marshal(map[string]bool{"ok": true})

	case "rules":
		p.mu.Lock()
		rules := make(map[string]string, len(p.rules))
		for app, tag := range p.rules {
			rules[app] = tag
		}
		p.mu.Unlock()
		return json.Marshal(rules)

	case "tags":
		p.mu.Lock()
		tags := make(map[string]int64, len(p.tagged))
		for tag, n := range p.tagged {
			tags[tag] = n
		}
		p.mu.Unlock()
		return json.Marshal(tags)
	}
	return nil, fmt.Errorf("unknown command %q", name)
}

func (p *Plugin) Shutdown() error { return nil }

// OnStart implements sdk.LifecycleHooks.
func (p *Plugin) OnStart() error {
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	return nil
}

// OnStop implements sdk.LifecycleHooks.
func (p *Plugin) OnStop() error {
	p.mu.Lock()
	p.started = false
	p.mu.Unlock()
	return nil
}

// OnActivityRecorded counts rule hits for each recorded activity.
func (p *Plugin) OnActivityRecorded(a sdk.Activity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return nil
	}
	if tag, ok := p.rules[a.AppName]; ok {
		p.tagged[tag]++
	}
	return nil
}

// OnCategoryCreated implements sdk.LifecycleHooks; the tagger ignores
// categories.
func (p *Plugin) OnCategoryCreated(sdk.Category) error { return nil }

func (p *Plugin) FrontendBundle() []byte {
	data, err := files.ReadFile("bundle.js")
	if err != nil {
		return nil
	}
	return data
}
