package schema

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"github.com/timewarden/pluginhost/sdk"
)

// Registry tracks every extension plugins have registered against the host
// schema and domain models: applied schema changes (with the catalog they
// produced), model fields per entity, and named query filters. It is safe
// for concurrent use.
//
// Schema extension batches are applied at most once per plugin version,
// tracked in the _schema_extensions table, and each call is all-or-nothing:
// the whole batch validates against a staged catalog before any SQL runs.
// Model fields and filters are attributed to the registering plugin so
// UnregisterPlugin can take them back out when the plugin is disabled.
type Registry struct {
	mu      sync.RWMutex
	db      *sql.DB
	logger  *slog.Logger
	catalog *Catalog

	modelFields map[sdk.EntityType]map[string]ownedField
	filters     map[sdk.EntityType]map[string]ownedFilter
}

type ownedField struct {
	field sdk.ModelField
	owner string
}

type ownedFilter struct {
	fn    sdk.FilterFunc
	owner string
}

// NewRegistry creates a Registry over the given host database. It bootstraps
// the core tables and the _schema_extensions bookkeeping table.
func NewRegistry(db *sql.DB, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		db:          db,
		logger:      logger,
		catalog:     NewCatalog(),
		modelFields: make(map[sdk.EntityType]map[string]ownedField),
		filters:     make(map[sdk.EntityType]map[string]ownedFilter),
	}
	if db != nil {
		if _, err := db.Exec(CoreSQL()); err != nil {
			return nil, fmt.Errorf("bootstrap core schema: %w", err)
		}
		if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS _schema_extensions (
			plugin_id      TEXT NOT NULL,
			plugin_version TEXT NOT NULL,
			entity         TEXT NOT NULL,
			applied_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (plugin_id, plugin_version, entity)
		)`); err != nil {
			return nil, fmt.Errorf("create _schema_extensions table: %w", err)
		}
	}
	return r, nil
}

// Catalog returns a snapshot of the current table catalog.
func (r *Registry) Catalog() *Catalog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.catalog.clone()
}

// Validate checks a batch of changes for one entity without applying
// anything. Used to preview a plugin's declared extensions before load.
func (r *Registry) Validate(entity sdk.EntityType, changes []sdk.SchemaChange) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !entity.Valid() {
		return fmt.Errorf("unknown entity type %q", string(entity))
	}
	staged := r.catalog.clone()
	for _, change := range changes {
		if err := validateChange(staged, change); err != nil {
			return err
		}
		applyToCatalog(staged, change)
	}
	return nil
}

// ApplySchemaExtension validates and applies a batch of schema changes on
// behalf of one plugin version. Re-applying the same (plugin, version,
// entity) batch is a no-op. A validation or execution failure leaves the
// catalog, the registry, and the database untouched.
func (r *Registry) ApplySchemaExtension(ctx context.Context, pluginID, pluginVersion string, entity sdk.EntityType, changes []sdk.SchemaChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !entity.Valid() {
		return fmt.Errorf("unknown entity type %q", string(entity))
	}
	if len(changes) == 0 {
		return nil
	}

	applied, err := r.alreadyApplied(ctx, pluginID, pluginVersion, entity)
	if err != nil {
		return err
	}
	if applied {
		// Changes were applied by an earlier run of this plugin version.
		// Stage them into the in-memory catalog so later validation sees
		// them, but execute nothing.
		staged := r.catalog.clone()
		for _, change := range changes {
			applyToCatalog(staged, change)
		}
		r.catalog = staged
		r.logger.Info("schema extension already applied",
			"plugin", pluginID, "version", pluginVersion, "entity", string(entity))
		return nil
	}

	// Validate the whole batch against a staged catalog before running any
	// SQL. Later changes in the batch may reference tables earlier ones
	// create.
	staged := r.catalog.clone()
	rendered := make([]string, 0, len(changes))
	for _, change := range changes {
		if err := validateChange(staged, change); err != nil {
			return fmt.Errorf("plugin %s: %s: %w", pluginID, change.String(), err)
		}
		sqlText, err := Render(change)
		if err != nil {
			return fmt.Errorf("plugin %s: %s: %w", pluginID, change.String(), err)
		}
		rendered = append(rendered, sqlText)
		applyToCatalog(staged, change)
	}

	if r.db != nil {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		for i, sqlText := range rendered {
			if _, err := tx.ExecContext(ctx, sqlText); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("plugin %s: execute %s: %w", pluginID, changes[i].String(), err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO _schema_extensions (plugin_id, plugin_version, entity) VALUES (?, ?, ?)`,
			pluginID, pluginVersion, string(entity)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record schema extension: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit schema extension: %w", err)
		}
	}

	r.catalog = staged
	r.logger.Info("schema extension applied",
		"plugin", pluginID, "version", pluginVersion, "entity", string(entity), "changes", len(changes))
	return nil
}

func (r *Registry) alreadyApplied(ctx context.Context, pluginID, pluginVersion string, entity sdk.EntityType) (bool, error) {
	if r.db == nil {
		return false, nil
	}
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM _schema_extensions WHERE plugin_id = ? AND plugin_version = ? AND entity = ?`,
		pluginID, pluginVersion, string(entity)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query _schema_extensions: %w", err)
	}
	return n > 0, nil
}

// RegisterModelExtension adds in-memory fields to an entity's domain model
// on behalf of one plugin. Each field must be backed by a column on the
// entity's table (schema extensions register first), and its name must not
// collide with a core column or a field registered by another plugin.
// Failure leaves prior state unchanged.
func (r *Registry) RegisterModelExtension(pluginID string, entity sdk.EntityType, fields []sdk.ModelField) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	table, ok := EntityTable(entity)
	if !ok {
		return fmt.Errorf("unknown entity type %q", string(entity))
	}
	t, _ := r.catalog.Table(table)

	existing := r.modelFields[entity]
	staged := make(map[string]ownedField, len(fields))
	for _, f := range fields {
		if !validIdent(f.Name) {
			return fmt.Errorf("entity %s: invalid field name %q", entity, f.Name)
		}
		if isCoreField(entity, f.Name) {
			return fmt.Errorf("entity %s: field %q collides with a core field", entity, f.Name)
		}
		if prev, dup := existing[f.Name]; dup && prev.owner != pluginID {
			return fmt.Errorf("entity %s: field %q already registered by plugin %q", entity, f.Name, prev.owner)
		}
		if _, dup := staged[f.Name]; dup {
			return fmt.Errorf("entity %s: duplicate field %q in batch", entity, f.Name)
		}
		if t == nil || !t.hasColumn(f.Name) {
			return fmt.Errorf("entity %s: field %q has no backing column on %s (register the schema extension first)", entity, f.Name, table)
		}
		staged[f.Name] = ownedField{field: f, owner: pluginID}
	}

	if existing == nil {
		existing = make(map[string]ownedField, len(staged))
		r.modelFields[entity] = existing
	}
	for name, f := range staged {
		existing[name] = f
	}
	return nil
}

// ModelFields returns the extension fields registered for an entity.
func (r *Registry) ModelFields(entity sdk.EntityType) []sdk.ModelField {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fields := make([]sdk.ModelField, 0, len(r.modelFields[entity]))
	for _, f := range r.modelFields[entity] {
		fields = append(fields, f.field)
	}
	return fields
}

// RegisterQueryFilters registers named predicate hooks for an entity on
// behalf of one plugin. A name taken by another plugin fails the whole
// call, leaving prior state unchanged.
func (r *Registry) RegisterQueryFilters(pluginID string, entity sdk.EntityType, filters []sdk.QueryFilter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !entity.Valid() {
		return fmt.Errorf("unknown entity type %q", string(entity))
	}
	existing := r.filters[entity]
	staged := make(map[string]ownedFilter, len(filters))
	for _, f := range filters {
		if f.Name == "" {
			return fmt.Errorf("entity %s: filter name is required", entity)
		}
		if f.Filter == nil {
			return fmt.Errorf("entity %s: filter %q has no function", entity, f.Name)
		}
		if prev, dup := existing[f.Name]; dup && prev.owner != pluginID {
			return fmt.Errorf("entity %s: filter %q already registered by plugin %q", entity, f.Name, prev.owner)
		}
		if _, dup := staged[f.Name]; dup {
			return fmt.Errorf("entity %s: duplicate filter %q in batch", entity, f.Name)
		}
		staged[f.Name] = ownedFilter{fn: f.Filter, owner: pluginID}
	}

	if existing == nil {
		existing = make(map[string]ownedFilter, len(staged))
		r.filters[entity] = existing
	}
	for name, fn := range staged {
		existing[name] = fn
	}
	return nil
}

// QueryFilter looks up a registered filter by entity and name.
func (r *Registry) QueryFilter(entity sdk.EntityType, name string) (sdk.FilterFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.filters[entity][name]
	return f.fn, ok
}

// UnregisterPlugin removes every model field and query filter a plugin
// registered, across all entities. Applied schema changes stay: dropping
// columns or tables on disable would destroy user data. Called when the
// plugin is disabled so a later enable can register afresh.
func (r *Registry) UnregisterPlugin(pluginID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for entity, fields := range r.modelFields {
		for name, f := range fields {
			if f.owner == pluginID {
				delete(fields, name)
			}
		}
		if len(fields) == 0 {
			delete(r.modelFields, entity)
		}
	}
	for entity, filters := range r.filters {
		for name, f := range filters {
			if f.owner == pluginID {
				delete(filters, name)
			}
		}
		if len(filters) == 0 {
			delete(r.filters, entity)
		}
	}
}

// isCoreField reports whether name is a built-in column of the entity's core
// table.
func isCoreField(entity sdk.EntityType, name string) bool {
	table, ok := EntityTable(entity)
	if !ok {
		return false
	}
	for _, t := range coreTables() {
		if t.Name != table {
			continue
		}
		return t.hasColumn(name)
	}
	return false
}
