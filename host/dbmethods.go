package host

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// DBMethod is one named persistence operation callable through
// HostAPI.CallDBMethod. Methods receive and return JSON so the surface stays
// uniform across plugins.
type DBMethod func(ctx context.Context, db *sql.DB, params json.RawMessage) (json.RawMessage, error)

// MethodRegistry maps method names to host persistence operations. Call
// validates the name against the registry; unknown methods fail without
// touching the database.
type MethodRegistry struct {
	mu      sync.RWMutex
	db      *sql.DB
	methods map[string]DBMethod
}

// NewMethodRegistry creates an empty registry over the host database.
func NewMethodRegistry(db *sql.DB) *MethodRegistry {
	return &MethodRegistry{
		db:      db,
		methods: make(map[string]DBMethod),
	}
}

// Register adds a named method. Registering the same name twice is an error.
func (r *MethodRegistry) Register(name string, fn DBMethod) error {
	if name == "" {
		return fmt.Errorf("method name is required")
	}
	if fn == nil {
		return fmt.Errorf("method %q has no function", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.methods[name]; exists {
		return fmt.Errorf("method %q is already registered", name)
	}
	r.methods[name] = fn
	return nil
}

// Call invokes a registered method by name.
func (r *MethodRegistry) Call(ctx context.Context, name string, params json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	fn, ok := r.methods[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown method %q", name)
	}
	return fn(ctx, r.db, params)
}

// Names returns all registered method names, sorted.
func (r *MethodRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
