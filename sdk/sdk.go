// Package sdk defines the contract between the time-tracker host and its
// plugins: the Plugin interface a plugin implements, the HostAPI capability
// surface the host hands to each plugin, and the shared data types that
// cross the boundary (schema changes, model fields, migrations, events).
//
// All cross-boundary operations return explicit errors; the host never
// relies on panics propagating out of a plugin.
package sdk

import (
	"context"
	"encoding/json"
)

// APIVersion is the plugin API generation this SDK speaks. A manifest
// declaring a different APIVersion is rejected at load time.
const APIVersion = "2"

// Plugin is the unit the host loads and drives. Implementations must be safe
// for concurrent use: InvokeCommand may be called concurrently with itself.
// Lifecycle methods are serialized by the host — Initialize completes before
// the first command, and Shutdown runs only after in-flight commands drain.
type Plugin interface {
	// Info returns the plugin's static identity. It must be side-effect free
	// and callable before Initialize.
	Info() PluginInfo

	// Initialize is called exactly once at load time. Schema extensions,
	// model extensions, and query filters are registered here. A returned
	// error aborts loading of this plugin only.
	Initialize(api HostAPI) error

	// InvokeCommand dispatches a named, JSON-parameterized request.
	// Unknown command names must return a descriptive error, never panic.
	InvokeCommand(ctx context.Context, name string, params json.RawMessage, api HostAPI) (json.RawMessage, error)

	// Shutdown releases the plugin's resources and cancels any outstanding
	// subscriptions. Errors are logged by the host, not treated as fatal.
	Shutdown() error

	// SchemaExtensions declares the schema changes this plugin wants,
	// without applying them. It must be pure so the host can preview and
	// validate before registration.
	SchemaExtensions() []SchemaExtension

	// Migrations returns the plugin's versioned SQL migrations. The host
	// applies unapplied migrations in ascending version order exactly once.
	Migrations() []Migration

	// FrontendBundle returns the plugin's compiled UI bundle, or nil if the
	// plugin ships no frontend.
	FrontendBundle() []byte
}

// HostAPI is the capability surface the host provides to a plugin. It is
// valid from Initialize until Shutdown returns; a plugin must not retain it
// beyond that — the host detaches the instance, and later calls fail.
type HostAPI interface {
	// RegisterSchemaExtension validates and applies a batch of schema
	// changes for one entity. The batch is all-or-nothing: a validation
	// failure (duplicate column, missing referenced table, invalid type)
	// leaves both the registry and the database untouched.
	RegisterSchemaExtension(entity EntityType, changes []SchemaChange) error

	// RegisterModelExtension adds in-memory fields to a host domain model.
	// A field name colliding with a core field or a previously registered
	// extension fails the whole call, leaving prior state unchanged.
	RegisterModelExtension(entity EntityType, fields []ModelField) error

	// RegisterQueryFilters registers named predicate hooks the host's query
	// layer may invoke. Name collisions fail.
	RegisterQueryFilters(entity EntityType, filters []QueryFilter) error

	// CallDBMethod invokes a named host persistence method with JSON
	// parameters. The method name is validated against the host registry;
	// unknown methods fail.
	CallDBMethod(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error)

	// Subscribe registers interest in host events of the given kinds (all
	// kinds when none are given). Events are delivered on the returned
	// subscription's channel; Cancel stops delivery. All subscriptions a
	// plugin holds must be cancelled in Shutdown.
	Subscribe(kinds ...EventKind) (Subscription, error)
}
