// Package gateway is the API function layer. Plugins define named functions;
// the gateway gates each call on its owning plugin's active state, enforces
// declared capabilities, and brackets execution with before/after hooks.
package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/strata-cms/strata/capability"
	"github.com/strata-cms/strata/catalog"
	"github.com/strata-cms/strata/hook"
	"github.com/strata-cms/strata/registry"
	"github.com/strata-cms/strata/structs"
)

// Request carries a function call's parameters and caller identity.
type Request struct {
	Params   map[string]interface{}
	Identity *capability.Identity
}

// Master reports whether the request runs with master privileges.
func (r *Request) Master() bool {
	return r != nil && r.Identity != nil && r.Identity.Master
}

// Handler is a gateway function implementation.
type Handler func(ctx context.Context, req *Request) (interface{}, error)

// Definition is the introspection view of a defined function.
type Definition struct {
	Name         string
	PluginID     string
	Open         bool
	Capabilities []string
}

type entry struct {
	def     Definition
	handler Handler
}

// Gateway owns the function table and the functions-list registry.
type Gateway struct {
	logger  hclog.Logger
	hooks   *hook.Engine
	catalog *catalog.Catalog

	// names records every defined function name for introspection,
	// including redefinitions.
	names *registry.Registry[string]

	mu      sync.RWMutex
	entries map[string]*entry
}

// New returns an empty gateway.
func New(logger hclog.Logger, hooks *hook.Engine, cat *catalog.Catalog) *Gateway {
	return &Gateway{
		logger:  logger.Named("gateway"),
		hooks:   hooks,
		catalog: cat,
		names: registry.New("functions-list", registry.ModeHistory,
			func(s string) string { return s }),
		entries: make(map[string]*entry),
	}
}

// Define registers fn under name, owned by pluginID. Calls are rejected with
// the fixed inactive-plugin message while the plugin is inactive.
func (g *Gateway) Define(pluginID, name string, fn Handler) error {
	if pluginID == "" {
		return fmt.Errorf("function %s: plugin id is required", name)
	}
	return g.define(pluginID, name, fn, false)
}

// DefineOpen registers fn without plugin gating, for framework endpoints
// that must stay callable regardless of plugin state.
func (g *Gateway) DefineOpen(name string, fn Handler) error {
	return g.define("", name, fn, true)
}

func (g *Gateway) define(pluginID, name string, fn Handler, open bool) error {
	if name == "" {
		return fmt.Errorf("function name must not be empty")
	}
	if fn == nil {
		return fmt.Errorf("function %s: handler must not be nil", name)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.entries[name] = &entry{
		def:     Definition{Name: name, PluginID: pluginID, Open: open},
		handler: fn,
	}
	if err := g.names.Register(name); err != nil {
		return err
	}
	g.logger.Debug("defined function", "function", name, "plugin", pluginID, "open", open)
	return nil
}

// RequireCapabilities declares the capabilities a caller must hold to invoke
// name. The function must already be defined.
func (g *Gateway) RequireCapabilities(name string, caps ...string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[name]
	if !ok {
		return fmt.Errorf("function %q is not defined", name)
	}
	e.def.Capabilities = append(e.def.Capabilities, caps...)
	return nil
}

// Call invokes the function registered under name. The handler runs behind
// the plugin gate and the capability check, bracketed by the before-<name>
// and after-<name> hook chains.
func (g *Gateway) Call(ctx context.Context, name string, req *Request) (interface{}, error) {
	defer metrics.MeasureSince([]string{"strata", "gateway", "call"}, time.Now())

	g.mu.RLock()
	e, ok := g.entries[name]
	g.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("function %q is not defined", name)
	}

	if req == nil {
		req = &Request{}
	}

	if len(e.def.Capabilities) > 0 && !req.Identity.Has(e.def.Capabilities...) {
		metrics.IncrCounter([]string{"strata", "gateway", "denied"}, 1)
		return nil, structs.ErrPermissionDenied
	}

	g.hooks.Run(ctx, "before-"+name, req)

	invoke := func(ctx context.Context) (interface{}, error) {
		return e.handler(ctx, req)
	}

	var result interface{}
	var err error
	if e.def.Open {
		result, err = invoke(ctx)
	} else {
		result, err = g.catalog.Gate(ctx, e.def.PluginID, name, invoke)
	}
	if err != nil {
		return nil, err
	}

	g.hooks.Run(ctx, "after-"+name, req, result)
	return result, nil
}

// Get returns the definition registered under name.
func (g *Gateway) Get(name string) (Definition, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.entries[name]
	if !ok {
		return Definition{}, false
	}
	return e.def, true
}

// List returns every defined function, in definition order including
// redefinitions, mirroring the functions-list registry.
func (g *Gateway) List() []string {
	return g.names.History()
}

// Defined returns the current definitions keyed by name.
func (g *Gateway) Defined() []Definition {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Definition, 0, len(g.entries))
	for _, e := range g.entries {
		out = append(out, e.def)
	}
	return out
}
