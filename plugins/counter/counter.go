// Package counter is the reference stateful plugin: a mutex-guarded per-app
// activity counter. It exercises the full new-generation contract — a schema
// extension, a model extension, embedded migrations, an event subscription,
// and JSON commands.
package counter

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/timewarden/pluginhost/manifest"
	"github.com/timewarden/pluginhost/migration"
	"github.com/timewarden/pluginhost/sdk"
)

//go:embed plugin.yaml migrations/*.sql
var files embed.FS

// Plugin counts recorded activities per application. All mutable state lives
// behind the mutex; InvokeCommand may run concurrently.
type Plugin struct {
	mu     sync.Mutex
	counts map[string]int64
	sub    sdk.Subscription
	done   chan struct{}
}

// New creates a counter plugin.
func New() *Plugin {
	return &Plugin{counts: make(map[string]int64)}
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
		ID:          "counter",
		Name:        "Activity Counter",
		Version:     "1.0.0",
		Description: "Counts recorded activities per application",
	}
}

func (p *Plugin) SchemaExtensions() []sdk.SchemaExtension {
	return []sdk.SchemaExtension{
		{
			Entity: sdk.EntityActivity,
			Changes: []sdk.SchemaChange{
				{
					Op:     sdk.OpAddColumn,
					Table:  "activities",
					Column: &sdk.TableColumn{Name: "focus_score", Type: "INTEGER", Nullable: true},
				},
			},
		},
	}
}

func (p *Plugin) Migrations() []sdk.Migration {
	migrations, err := migration.LoadFS(files, "migrations")
	if err != nil {
		return nil
	}
	return migrations
}

func (p *Plugin) Initialize(api sdk.HostAPI) error {
	for _, ext := range p.SchemaExtensions() {
		if err := api.RegisterSchemaExtension(ext.Entity, ext.Changes); err != nil {
			return fmt.Errorf("register schema extension: %w", err)
		}
	}
	if err := api.RegisterModelExtension(sdk.EntityActivity, []sdk.ModelField{
		{Name: "focus_score", Type: "INTEGER", Optional: true},
	}); err != nil {
		return fmt.Errorf("register model extension: %w", err)
	}

	sub, err := api.Subscribe(sdk.EventActivityRecorded)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	p.mu.Lock()
	p.sub = sub
	p.done = make(chan struct{})
	p.mu.Unlock()

	go func(done chan struct{}) {
		defer close(done)
		for ev := range sub.C() {
			if ev.Activity == nil {
				continue
			}
			p.mu.Lock()
			p.counts[ev.Activity.AppName]++
			p.mu.Unlock()
		}
	}(p.done)

	return nil
}

type countParams struct {
	AppName string `json:"app_name"`
}

func (p *Plugin) InvokeCommand(_ context.Context, name string, params json.RawMessage, _ sdk.HostAPI) (json.RawMessage, error) {
	switch name {
	case "count":
		var cp countParams
		if err := json.Unmarshal(params, &cp); err != nil {
			return nil, fmt.Errorf("count: bad params: %w", err)
		}
		if cp.AppName == "" {
			return nil, fmt.Errorf("count: app_name is required")
		}
		p.mu.Lock()
		n := p.counts[cp.AppName]
		p.mu.Unlock()
		return json.Marshal(map[string]int64{"count": n})

	case "total":
		p.mu.Lock()
		var total int64
		for _, n := range p.counts {
			total += n
		}
		p.mu.Unlock()
		return json.Marshal(map[string]int64{"total": total})

	case "reset":
		p.mu.Lock()
		p.counts = make(map[string]int64)
		p.mu.Unlock()
		return json.Marshal(map[string]bool{"reset": true})
	}
	return nil, fmt.Errorf("unknown command %q", name)
}

func (p *Plugin) Shutdown() error {
	p.mu.Lock()
	sub := p.sub
	done := p.done
	p.sub = nil
	p.done = nil
	p.mu.Unlock()

	if sub != nil {
		sub.Cancel()
		<-done
	}
	return nil
}

func (p *Plugin) FrontendBundle() []byte { return nil }
