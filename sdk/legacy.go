package sdk

// LifecycleHooks is the older plugin API generation: coarse lifecycle
// callbacks plus per-event hooks, with no command dispatch or schema
// extensions. It is still honored — the host detects implementations via a
// type assertion and drives the hooks from its event stream, so both
// generations can coexist on one plugin value.
type LifecycleHooks interface {
	// OnStart is called after Initialize succeeds and the plugin is enabled.
	OnStart() error
	// OnStop is called before Shutdown when the plugin is disabled.
	OnStop() error
	// OnActivityRecorded is called for each recorded activity.
	OnActivityRecorded(a Activity) error
	// OnCategoryCreated is called for each newly created category.
	OnCategoryCreated(c Category) error
}
