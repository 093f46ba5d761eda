package host

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/timewarden/pluginhost/frontend"
	"github.com/timewarden/pluginhost/manifest"
	"github.com/timewarden/pluginhost/migration"
	"github.com/timewarden/pluginhost/sdk"
	"github.com/timewarden/pluginhost/schema"
)

// stubPlugin is a configurable sdk.Plugin for manager and handle tests.
type stubPlugin struct {
	id      string
	version string

	initErr    error
	initPanic  bool
	initFn     func(api sdk.HostAPI) error
	migrations []sdk.Migration
	extensions []sdk.SchemaExtension
	bundle     []byte

	commands map[string]func(params json.RawMessage) (json.RawMessage, error)

	mu            sync.Mutex
	api           sdk.HostAPI
	initCalls     int
	shutdownCalls int
}

func (p *stubPlugin) Info() sdk.PluginInfo {
	return sdk.PluginInfo{ID: p.id, Name: p.id, Version: p.version}
}

func (p *stubPlugin) Initialize(api sdk.HostAPI) error {
	p.mu.Lock()
	p.initCalls++
	p.api = api
	p.mu.Unlock()
	if p.initPanic {
		panic("init blew up")
	}
	if p.initFn != nil {
		return p.initFn(api)
	}
	return p.initErr
}

func (p *stubPlugin) InvokeCommand(_ context.Context, name string, params json.RawMessage, _ sdk.HostAPI) (json.RawMessage, error) {
	fn, ok := p.commands[name]
	if !ok {
		return nil, fmt.Errorf("unknown command %q", name)
	}
	return fn(params)
}

func (p *stubPlugin) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shutdownCalls++
	return nil
}

func (p *stubPlugin) SchemaExtensions() []sdk.SchemaExtension { return p.extensions }
func (p *stubPlugin) Migrations() []sdk.Migration             { return p.migrations }
func (p *stubPlugin) FrontendBundle() []byte                  { return p.bundle }

func (p *stubPlugin) initCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initCalls
}

func (p *stubPlugin) shutdownCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shutdownCalls
}

// legacyPlugin adds sdk.LifecycleHooks on top of stubPlugin.
type legacyPlugin struct {
	stubPlugin

	started    atomic.Bool
	activities atomic.Int64
	categories atomic.Int64
}

func (p *legacyPlugin) OnStart() error {
	p.started.Store(true)
	return nil
}

func (p *legacyPlugin) OnStop() error {
	p.started.Store(false)
	return nil
}

func (p *legacyPlugin) OnActivityRecorded(_ sdk.Activity) error {
	p.activities.Add(1)
	return nil
}

func (p *legacyPlugin) OnCategoryCreated(_ sdk.Category) error {
	p.categories.Add(1)
	return nil
}

func stubManifest(id, version string) *manifest.Manifest {
	return &manifest.Manifest{
		ID:             id,
		Name:           id,
		Version:        version,
		APIVersion:     sdk.APIVersion,
		MinCoreVersion: "2.0.0",
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// newTestManager wires a full manager over an in-memory database.
func newTestManager(t *testing.T) (*Manager, *Bus, *sql.DB) {
	t.Helper()
	m, bus, db, _ := newTestManagerWithFrontends(t)
	return m, bus, db
}

func newTestManagerWithFrontends(t *testing.T) (*Manager, *Bus, *sql.DB, *frontend.Registry) {
	t.Helper()
	db := openTestDB(t)

	schemas, err := schema.NewRegistry(db, nil)
	if err != nil {
		t.Fatalf("schema.NewRegistry: %v", err)
	}
	store, err := migration.NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("migration.NewSQLiteStore: %v", err)
	}
	migrator := migration.NewRunner(store, migration.NewMutexLock(), nil)
	bus := NewBus(nil)
	methods := NewMethodRegistry(db)
	if err := RegisterBuiltinMethods(methods, schemas, bus); err != nil {
		t.Fatalf("RegisterBuiltinMethods: %v", err)
	}
	frontends := frontend.NewRegistry()

	m := NewManager(db, "2.3.0", schemas, methods, bus, migrator, frontends, nil)
	t.Cleanup(bus.Close)
	return m, bus, db, frontends
}
