package host

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/timewarden/pluginhost/frontend"
	"github.com/timewarden/pluginhost/manifest"
	"github.com/timewarden/pluginhost/migration"
	"github.com/timewarden/pluginhost/sdk"
	"github.com/timewarden/pluginhost/schema"
)

// PluginStatus is the JSON representation of a plugin for API responses.
type PluginStatus struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
	HasFrontend bool   `json:"has_frontend"`
	EnabledAt   string `json:"enabled_at,omitempty"`
	DisabledAt  string `json:"disabled_at,omitempty"`
}

type entry struct {
	manifest *manifest.Manifest
	handle   Handle
	api      *hostAPI
	inflight sync.WaitGroup

	// legacy lifecycle-hook pump, nil when the plugin does not implement
	// sdk.LifecycleHooks or is disabled
	hooksSub  sdk.Subscription
	hooksDone chan struct{}
}

// Manager owns every loaded plugin: registration with manifest compatibility
// gating, dependency-ordered enable/disable, migration runs, command
// dispatch, and SQLite-persisted enable state.
//
// Two locks split the work: lifecycle serializes enable/disable/remove
// transitions end to end, while mu guards the plugin maps for short reads
// and writes. Draining a plugin's in-flight commands happens with only
// lifecycle held, so one slow command never stalls other plugins'
// InvokeCommand or the status endpoints.
type Manager struct {
	lifecycle   sync.Mutex
	mu          sync.RWMutex
	coreVersion string
	db          *sql.DB
	logger      *slog.Logger
	schemas     *schema.Registry
	methods     *MethodRegistry
	bus         *Bus
	migrator    *migration.Runner
	frontends   *frontend.Registry
	handles     *Handles
	plugins     map[string]*entry
	enabled     map[string]bool
}

// NewManager creates a Manager for a host running coreVersion. It initializes
// the plugin_state table if a database is provided. frontends may be nil
// when the host serves no UI.
func NewManager(db *sql.DB, coreVersion string, schemas *schema.Registry, methods *MethodRegistry, bus *Bus, migrator *migration.Runner, frontends *frontend.Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		coreVersion: coreVersion,
		db:          db,
		logger:      logger,
		schemas:     schemas,
		methods:     methods,
		bus:         bus,
		migrator:    migrator,
		frontends:   frontends,
		handles:     NewHandles(),
		plugins:     make(map[string]*entry),
		enabled:     make(map[string]bool),
	}
	if err := m.initDB(); err != nil {
		logger.Error("Failed to initialize plugin_state table", "error", err)
	}
	return m
}

// CoreVersion returns the host version the manager gates against.
func (m *Manager) CoreVersion() string { return m.coreVersion }

// Register validates a plugin's manifest and compatibility window, then takes
// ownership of the instance behind a handle. The plugin is not enabled and
// Initialize is not called: an incompatible plugin is rejected here, before
// any of its code runs.
func (m *Manager) Register(mf *manifest.Manifest, p sdk.Plugin) error {
	if p == nil {
		return fmt.Errorf("plugin is nil")
	}
	if mf == nil {
		return fmt.Errorf("manifest is nil")
	}
	if err := mf.Validate(); err != nil {
		return err
	}
	if err := mf.CompatibleWith(m.coreVersion, sdk.APIVersion); err != nil {
		return err
	}
	info := p.Info()
	if info.ID != mf.ID {
		return fmt.Errorf("plugin reports id %q but manifest declares %q", info.ID, mf.ID)
	}
	if info.Version != mf.Version {
		return fmt.Errorf("plugin %s reports version %q but manifest declares %q", mf.ID, info.Version, mf.Version)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.plugins[mf.ID]; exists {
		return fmt.Errorf("plugin %q is already registered", mf.ID)
	}
	handle, err := m.handles.Create(p)
	if err != nil {
		return err
	}
	m.plugins[mf.ID] = &entry{manifest: mf, handle: handle}
	m.logger.Info("Plugin registered", "plugin", mf.ID, "version", mf.Version)
	return nil
}

// Enable enables a plugin and its unsatisfied dependencies in topological
// order. The first failure stops the chain; already-enabled plugins are
// untouched.
func (m *Manager) Enable(ctx context.Context, id string) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.RLock()
	_, exists := m.plugins[id]
	var order []string
	var err error
	if exists {
		order, err = m.resolveEnableOrder(id)
	}
	m.mu.RUnlock()
	if !exists {
		return fmt.Errorf("plugin %q is not registered", id)
	}
	if err != nil {
		return err
	}
	for _, pid := range order {
		if m.IsEnabled(pid) {
			continue
		}
		if err := m.enableOne(ctx, pid); err != nil {
			return fmt.Errorf("enable %q: %w", pid, err)
		}
	}
	return nil
}

// Disable disables a plugin and every enabled plugin that depends on it,
// dependents first.
func (m *Manager) Disable(id string) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.disableLocked(id)
}

// disableLocked flips the enabled flags under mu so no new commands are
// accepted, then tears plugins down with only the lifecycle lock held.
// Caller must hold m.lifecycle.
func (m *Manager) disableLocked(id string) error {
	m.mu.Lock()
	if _, exists := m.plugins[id]; !exists {
		m.mu.Unlock()
		return fmt.Errorf("plugin %q is not registered", id)
	}
	if !m.enabled[id] {
		m.mu.Unlock()
		return nil
	}
	var stopping []string
	for _, pid := range m.resolveDisableOrder(id) {
		if m.enabled[pid] {
			m.enabled[pid] = false
			stopping = append(stopping, pid)
		}
	}
	m.mu.Unlock()

	for _, pid := range stopping {
		m.disableOne(pid)
	}
	return nil
}

// Remove disables a plugin and destroys its handle. The instance cannot be
// used afterward; removing an unknown plugin is an error.
func (m *Manager) Remove(id string) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if err := m.disableLocked(id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, exists := m.plugins[id]
	if !exists {
		return fmt.Errorf("plugin %q is not registered", id)
	}
	if err := m.handles.Destroy(e.handle); err != nil {
		return err
	}
	delete(m.plugins, id)
	delete(m.enabled, id)
	m.logger.Info("Plugin removed", "plugin", id)
	return nil
}

// IsEnabled reports whether a plugin is currently enabled.
func (m *Manager) IsEnabled(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled[id]
}

// InvokeCommand dispatches a named command to an enabled plugin. Unknown
// plugins, disabled plugins, and panicking plugins all yield an error
// result — never a crash.
func (m *Manager) InvokeCommand(ctx context.Context, id, name string, params json.RawMessage) (json.RawMessage, error) {
	m.mu.RLock()
	e, exists := m.plugins[id]
	if !exists {
		m.mu.RUnlock()
		return nil, fmt.Errorf("plugin %q is not registered", id)
	}
	if !m.enabled[id] {
		m.mu.RUnlock()
		return nil, fmt.Errorf("plugin %q is not enabled", id)
	}
	p, ok := m.handles.Get(e.handle)
	if !ok {
		m.mu.RUnlock()
		return nil, fmt.Errorf("plugin %q has no live instance", id)
	}
	api := e.api
	e.inflight.Add(1)
	m.mu.RUnlock()

	defer e.inflight.Done()
	return safeInvoke(ctx, p, name, params, api)
}

// Statuses returns the status of every registered plugin, sorted by ID.
func (m *Manager) Statuses() []PluginStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]PluginStatus, 0, len(m.plugins))
	for id, e := range m.plugins {
		st := PluginStatus{
			ID:          id,
			Name:        e.manifest.Name,
			Version:     e.manifest.Version,
			Description: e.manifest.Description,
			Enabled:     m.enabled[id],
			HasFrontend: e.manifest.Frontend != nil,
		}
		if m.db != nil {
			var enabledAt, disabledAt sql.NullString
			row := m.db.QueryRow(
				"SELECT enabled_at, disabled_at FROM plugin_state WHERE id = ?", id)
			if err := row.Scan(&enabledAt, &disabledAt); err == nil {
				if enabledAt.Valid {
					st.EnabledAt = enabledAt.String
				}
				if disabledAt.Valid {
					st.DisabledAt = disabledAt.String
				}
			}
		}
		result = append(result, st)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Manifest returns the manifest of a registered plugin.
func (m *Manager) Manifest(id string) (*manifest.Manifest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.plugins[id]
	if !ok {
		return nil, false
	}
	return e.manifest, true
}

// FrontendBundle returns an enabled plugin's UI bundle, or false when the
// plugin is unknown, disabled, or ships no frontend.
func (m *Manager) FrontendBundle(id string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.plugins[id]
	if !ok || !m.enabled[id] {
		return nil, false
	}
	p, ok := m.handles.Get(e.handle)
	if !ok {
		return nil, false
	}
	bundle := p.FrontendBundle()
	if bundle == nil {
		return nil, false
	}
	return bundle, true
}

// SchemaExtensions returns a registered plugin's declared schema extensions
// without applying them.
func (m *Manager) SchemaExtensions(id string) ([]sdk.SchemaExtension, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.plugins[id]
	if !ok {
		return nil, fmt.Errorf("plugin %q is not registered", id)
	}
	p, ok := m.handles.Get(e.handle)
	if !ok {
		return nil, fmt.Errorf("plugin %q has no live instance", id)
	}
	return p.SchemaExtensions(), nil
}

// SchemaTables returns the names of every table in the host schema catalog,
// core and plugin-created alike, sorted.
func (m *Manager) SchemaTables() []string {
	names := m.schemas.Catalog().TableNames()
	sort.Strings(names)
	return names
}

// RestoreState re-enables all plugins recorded as enabled in plugin_state.
// Called after a host restart, once all plugins are registered.
func (m *Manager) RestoreState(ctx context.Context) error {
	if m.db == nil {
		return nil
	}
	rows, err := m.db.Query("SELECT id FROM plugin_state WHERE enabled = 1")
	if err != nil {
		return fmt.Errorf("query plugin_state: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan plugin_state row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate plugin_state rows: %w", err)
	}

	for _, id := range ids {
		if err := m.Enable(ctx, id); err != nil {
			m.logger.Warn("Failed to restore plugin state", "plugin", id, "error", err)
		}
	}
	return nil
}

// Shutdown disables every enabled plugin. Individual shutdown errors are
// logged and never block host teardown.
func (m *Manager) Shutdown() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.RLock()
	var ids []string
	for id := range m.plugins {
		if m.enabled[id] {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	sort.Strings(ids)
	for _, id := range ids {
		// Dependents already torn down by an earlier iteration come back
		// as a no-op.
		_ = m.disableLocked(id)
	}
}

func (m *Manager) initDB() error {
	if m.db == nil {
		return nil
	}
	_, err := m.db.Exec(`CREATE TABLE IF NOT EXISTS plugin_state (
		id          TEXT PRIMARY KEY,
		enabled     BOOLEAN NOT NULL DEFAULT 0,
		version     TEXT NOT NULL,
		enabled_at  TEXT,
		disabled_at TEXT
	)`)
	if err != nil {
		return fmt.Errorf("create plugin_state table: %w", err)
	}
	return nil
}

// enableOne enables a single plugin. Caller must hold m.lifecycle.
func (m *Manager) enableOne(ctx context.Context, id string) error {
	m.mu.RLock()
	e := m.plugins[id]
	m.mu.RUnlock()
	p, ok := m.handles.Get(e.handle)
	if !ok {
		return fmt.Errorf("no live instance")
	}

	// Check version constraints on dependencies.
	for _, dep := range e.manifest.Dependencies {
		m.mu.RLock()
		depEntry, ok := m.plugins[dep.ID]
		m.mu.RUnlock()
		if !ok {
			return fmt.Errorf("dependency %q not registered", dep.ID)
		}
		ok, err := manifest.CheckVersion(depEntry.manifest.Version, dep.Constraint)
		if err != nil {
			return fmt.Errorf("check version for dep %q: %w", dep.ID, err)
		}
		if !ok {
			return fmt.Errorf("dependency %q version %s does not satisfy %s",
				dep.ID, depEntry.manifest.Version, dep.Constraint)
		}
	}

	// Apply the plugin's pending migrations before Initialize so schema
	// registrations see the migrated state.
	if m.db != nil && m.migrator != nil {
		if err := m.migrator.Run(ctx, m.db, id, p.Migrations()); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
	}

	// On any failure past this point the plugin's partial registrations
	// are rolled back so a later enable starts clean.
	api := newHostAPI(ctx, id, e.manifest.Version, m.schemas, m.methods, m.bus, m.logger)
	abort := func() {
		api.detach()
		m.schemas.UnregisterPlugin(id)
		if m.frontends != nil {
			m.frontends.UnregisterPlugin(id)
		}
	}

	if err := safeInitialize(p, api); err != nil {
		abort()
		return fmt.Errorf("initialize: %w", err)
	}

	if m.frontends != nil {
		if err := m.frontends.RegisterManifest(e.manifest); err != nil {
			abort()
			return fmt.Errorf("frontend: %w", err)
		}
	}

	// Older-generation plugins get their lifecycle hooks driven from the
	// event stream.
	if hooks, ok := p.(sdk.LifecycleHooks); ok {
		if err := hooks.OnStart(); err != nil {
			abort()
			return fmt.Errorf("OnStart: %w", err)
		}
		m.startHookPump(e, id, hooks)
	}

	m.mu.Lock()
	e.api = api
	m.enabled[id] = true
	m.mu.Unlock()

	m.persistState(id, true, e.manifest.Version)
	m.logger.Info("Plugin enabled", "plugin", id)
	return nil
}

// disableOne tears down a single plugin whose enabled flag is already off.
// Caller must hold m.lifecycle and not m.mu: the in-flight drain can take
// as long as the slowest command. Shutdown errors are logged, never
// returned.
func (m *Manager) disableOne(id string) {
	m.mu.RLock()
	e := m.plugins[id]
	m.mu.RUnlock()
	p, _ := m.handles.Get(e.handle)

	// New commands are already refused; wait out the in-flight ones.
	e.inflight.Wait()

	if hooks, ok := p.(sdk.LifecycleHooks); ok {
		if err := hooks.OnStop(); err != nil {
			m.logger.Warn("OnStop error (continuing)", "plugin", id, "error", err)
		}
		m.stopHookPump(e)
	}

	if p != nil {
		if err := safeShutdown(p); err != nil {
			m.logger.Warn("Shutdown error (continuing)", "plugin", id, "error", err)
		}
	}

	m.mu.Lock()
	api := e.api
	e.api = nil
	m.mu.Unlock()
	if api != nil {
		api.detach()
	}

	// Take back the plugin's registrations so a later enable can register
	// afresh. Applied schema changes stay; they hold user data.
	m.schemas.UnregisterPlugin(id)
	if m.frontends != nil {
		m.frontends.UnregisterPlugin(id)
	}

	m.persistState(id, false, e.manifest.Version)
	m.logger.Info("Plugin disabled", "plugin", id)
}

// startHookPump subscribes on behalf of a legacy plugin and feeds events to
// its hooks from a dedicated goroutine. Hook errors are logged.
func (m *Manager) startHookPump(e *entry, id string, hooks sdk.LifecycleHooks) {
	sub := m.bus.Subscribe(sdk.EventActivityRecorded, sdk.EventCategoryCreated)
	done := make(chan struct{})
	e.hooksSub = sub
	e.hooksDone = done

	go func() {
		defer close(done)
		for ev := range sub.C() {
			var err error
			switch ev.Kind {
			case sdk.EventActivityRecorded:
				if ev.Activity != nil {
					err = hooks.OnActivityRecorded(*ev.Activity)
				}
			case sdk.EventCategoryCreated:
				if ev.Category != nil {
					err = hooks.OnCategoryCreated(*ev.Category)
				}
			}
			if err != nil {
				m.logger.Warn("plugin event hook failed", "plugin", id, "kind", string(ev.Kind), "error", err)
			}
		}
	}()
}

func (m *Manager) stopHookPump(e *entry) {
	if e.hooksSub == nil {
		return
	}
	e.hooksSub.Cancel()
	<-e.hooksDone
	e.hooksSub = nil
	e.hooksDone = nil
}

// persistState writes the plugin enable/disable state to the database.
func (m *Manager) persistState(id string, enabled bool, version string) {
	if m.db == nil {
		return
	}
	now := time.Now().UTC().Format(time.RFC3339)
	var enabledAt, disabledAt any
	if enabled {
		enabledAt = now
	} else {
		disabledAt = now
	}
	_, err := m.db.Exec(`INSERT INTO plugin_state (id, enabled, version, enabled_at, disabled_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			enabled = excluded.enabled,
			version = excluded.version,
			enabled_at = CASE WHEN excluded.enabled_at IS NOT NULL THEN excluded.enabled_at ELSE plugin_state.enabled_at END,
			disabled_at = CASE WHEN excluded.disabled_at IS NOT NULL THEN excluded.disabled_at ELSE plugin_state.disabled_at END`,
		id, enabled, version, enabledAt, disabledAt,
	)
	if err != nil {
		m.logger.Error("Failed to persist plugin state", "plugin", id, "error", err)
	}
}

// resolveEnableOrder returns the topological order to enable a plugin and
// its dependencies; the target is last. Caller must hold m.mu.
func (m *Manager) resolveEnableOrder(id string) ([]string, error) {
	var order []string
	visited := make(map[string]bool)
	inStack := make(map[string]bool)

	var visit func(n string) error
	visit = func(n string) error {
		if visited[n] {
			return nil
		}
		if inStack[n] {
			return fmt.Errorf("circular dependency detected involving %q", n)
		}
		e, ok := m.plugins[n]
		if !ok {
			return fmt.Errorf("dependency %q is not registered", n)
		}
		inStack[n] = true
		for _, dep := range e.manifest.Dependencies {
			if err := visit(dep.ID); err != nil {
				return err
			}
		}
		inStack[n] = false
		visited[n] = true
		order = append(order, n)
		return nil
	}

	if err := visit(id); err != nil {
		return nil, err
	}
	return order, nil
}

// resolveDisableOrder returns the order to disable a plugin and its enabled
// transitive dependents, dependents first. Caller must hold m.mu.
func (m *Manager) resolveDisableOrder(id string) []string {
	dependents := make(map[string][]string)
	for pid, e := range m.plugins {
		for _, dep := range e.manifest.Dependencies {
			dependents[dep.ID] = append(dependents[dep.ID], pid)
		}
	}

	var order []string
	visited := make(map[string]bool)
	var visit func(n string)
	visit = func(n string) {
		if visited[n] {
			return
		}
		visited[n] = true
		for _, dep := range dependents[n] {
			if m.enabled[dep] {
				visit(dep)
			}
		}
		order = append(order, n)
	}
	visit(id)
	return order
}

func safeInitialize(p sdk.Plugin, api sdk.HostAPI) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin panicked in Initialize: %v", r)
		}
	}()
	return p.Initialize(api)
}

func safeInvoke(ctx context.Context, p sdk.Plugin, name string, params json.RawMessage, api sdk.HostAPI) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("plugin panicked in command %q: %v", name, r)
		}
	}()
	return p.InvokeCommand(ctx, name, params, api)
}

func safeShutdown(p sdk.Plugin) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin panicked in Shutdown: %v", r)
		}
	}()
	return p.Shutdown()
}
