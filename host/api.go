package host

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/timewarden/pluginhost/sdk"
	"github.com/timewarden/pluginhost/schema"
)

// ErrDetached is returned when a plugin uses a HostAPI after its Shutdown.
var ErrDetached = errors.New("host api is detached: plugin has shut down")

// hostAPI is the per-plugin implementation of sdk.HostAPI. It carries the
// plugin's identity so registrations are attributed without trusting the
// plugin to name itself, and the enable-time context so registration SQL
// honors the caller's deadline. After the plugin shuts down the API
// detaches and every call fails with ErrDetached.
type hostAPI struct {
	ctx           context.Context
	pluginID      string
	pluginVersion string
	schemas       *schema.Registry
	methods       *MethodRegistry
	bus           *Bus
	logger        *slog.Logger

	mu       sync.Mutex
	detached bool
	subs     []sdk.Subscription
}

func newHostAPI(ctx context.Context, pluginID, pluginVersion string, schemas *schema.Registry, methods *MethodRegistry, bus *Bus, logger *slog.Logger) *hostAPI {
	if ctx == nil {
		ctx = context.Background()
	}
	return &hostAPI{
		ctx:           ctx,
		pluginID:      pluginID,
		pluginVersion: pluginVersion,
		schemas:       schemas,
		methods:       methods,
		bus:           bus,
		logger:        logger,
	}
}

func (a *hostAPI) check() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.detached {
		return ErrDetached
	}
	return nil
}

func (a *hostAPI) RegisterSchemaExtension(entity sdk.EntityType, changes []sdk.SchemaChange) error {
	if err := a.check(); err != nil {
		return err
	}
	return a.schemas.ApplySchemaExtension(a.ctx, a.pluginID, a.pluginVersion, entity, changes)
}

func (a *hostAPI) RegisterModelExtension(entity sdk.EntityType, fields []sdk.ModelField) error {
	if err := a.check(); err != nil {
		return err
	}
	return a.schemas.RegisterModelExtension(a.pluginID, entity, fields)
}

func (a *hostAPI) RegisterQueryFilters(entity sdk.EntityType, filters []sdk.QueryFilter) error {
	if err := a.check(); err != nil {
		return err
	}
	return a.schemas.RegisterQueryFilters(a.pluginID, entity, filters)
}

func (a *hostAPI) CallDBMethod(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	return a.methods.Call(ctx, method, params)
}

func (a *hostAPI) Subscribe(kinds ...sdk.EventKind) (sdk.Subscription, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.detached {
		return nil, ErrDetached
	}
	sub := a.bus.Subscribe(kinds...)
	a.subs = append(a.subs, sub)
	return sub, nil
}

// detach invalidates the API and cancels any subscriptions the plugin left
// outstanding. Idempotent.
func (a *hostAPI) detach() {
	a.mu.Lock()
	if a.detached {
		a.mu.Unlock()
		return
	}
	a.detached = true
	subs := a.subs
	a.subs = nil
	a.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
	if len(subs) > 0 {
		a.logger.Debug("cancelled outstanding subscriptions at shutdown",
			"plugin", a.pluginID, "count", len(subs))
	}
}
