// Package host implements the runtime side of the plugin contract: it loads
// plugins behind opaque handles, gates them on manifest compatibility,
// drives their lifecycle, dispatches commands, fans out events, and exposes
// the HostAPI capability surface each plugin programs against.
package host

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/timewarden/pluginhost/sdk"
)

// Handle is an opaque reference to a loaded plugin instance. The host owns
// the instance; plugins and embedders only ever see the handle, never a raw
// pointer whose lifetime they must manage.
type Handle uint64

type instance struct {
	plugin sdk.Plugin
	tag    string // uuid, for log correlation
}

// Handles maps opaque handles to owned plugin instances. Create and Destroy
// pair exactly once: destroying a handle twice, or a handle that was never
// created, is an error rather than undefined behavior.
type Handles struct {
	mu        sync.Mutex
	next      Handle
	instances map[Handle]*instance
}

// NewHandles creates an empty handle table.
func NewHandles() *Handles {
	return &Handles{instances: make(map[Handle]*instance)}
}

// Create takes ownership of a plugin instance and returns its handle.
func (h *Handles) Create(p sdk.Plugin) (Handle, error) {
	if p == nil {
		return 0, fmt.Errorf("plugin is nil")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	handle := h.next
	h.instances[handle] = &instance{plugin: p, tag: uuid.NewString()}
	return handle, nil
}

// Get returns the plugin behind a live handle.
func (h *Handles) Get(handle Handle) (sdk.Plugin, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	inst, ok := h.instances[handle]
	if !ok {
		return nil, false
	}
	return inst.plugin, true
}

// Tag returns the instance correlation tag for a live handle.
func (h *Handles) Tag(handle Handle) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	inst, ok := h.instances[handle]
	if !ok {
		return "", false
	}
	return inst.tag, true
}

// Destroy releases a handle. The second destroy of the same handle fails.
func (h *Handles) Destroy(handle Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.instances[handle]; !ok {
		return fmt.Errorf("handle %d is not live (already destroyed or never created)", handle)
	}
	delete(h.instances, handle)
	return nil
}

// Count returns the number of live handles.
func (h *Handles) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.instances)
}
