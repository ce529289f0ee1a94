// Package catalog owns the lifecycle of plugin registrations: filesystem
// discovery, in-memory caching, semver gating against the runtime version,
// reconciliation with the persistent row, and the lifecycle hook sequence
// (install, schema, activate, update, deactivate, uninstall).
//
// The persistent row is the source of truth for a plugin's Active flag; the
// in-memory cache is the source of truth for everything else.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
	"github.com/hashicorp/go-set/v3"
	goversion "github.com/hashicorp/go-version"
	"github.com/mitchellh/hashstructure"

	"github.com/strata-cms/strata/hook"
	"github.com/strata-cms/strata/state"
	"github.com/strata-cms/strata/structs"
	"github.com/strata-cms/strata/version"
)

// Uploader stores a published asset and returns its URL. The storage
// adapter proxy satisfies this.
type Uploader interface {
	CreateFile(ctx context.Context, path string, data []byte) (string, error)
}

// Catalog is the in-memory plugin table plus its persistence glue.
type Catalog struct {
	logger    hclog.Logger
	hooks     *hook.Engine
	triggered *state.TriggeredStore
	runtime   *goversion.Version

	mu       sync.RWMutex
	plugins  map[string]*structs.Plugin
	banned   *set.Set[string]
	uploader Uploader
}

// New returns a Catalog and installs its lifecycle interceptors on the
// Plugin store class.
func New(logger hclog.Logger, hooks *hook.Engine, triggered *state.TriggeredStore) *Catalog {
	c := &Catalog{
		logger:    logger.Named("catalog"),
		hooks:     hooks,
		triggered: triggered,
		runtime:   version.Runtime,
		plugins:   make(map[string]*structs.Plugin),
		banned:    set.New[string](0),
	}
	c.installInterceptors()
	c.installAssetTransform()
	return c
}

// SetUploader wires the storage adapter used for meta asset publishing.
func (c *Catalog) SetUploader(u Uploader) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uploader = u
}

// Ban blacklists a plugin id. Future registrations of it are rejected.
func (c *Catalog) Ban(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.banned.Insert(id)
}

// Register caches a plugin registration. The registration is silently
// dropped (logged at debug) when its runtime-compat constraint is not
// satisfied by the running runtime. Banned and blank ids are errors.
func (c *Catalog) Register(p *structs.Plugin, defaultActive bool) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("plugin id is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.banned.Contains(p.ID) {
		return fmt.Errorf("plugin id %q is blacklisted", p.ID)
	}

	cp := p.Copy()
	if cp.Meta.Builtin {
		if cp.Meta.Group == "" {
			cp.Meta.Group = "core"
		}
		cp.Version.Compat = version.DefaultCompat()
	}
	if cp.Version.Compat == "" {
		cp.Version.Compat = ">= 0.0.0"
	}

	constraint, err := goversion.NewConstraint(cp.Version.Compat)
	if err != nil {
		return fmt.Errorf("plugin %s: invalid runtime-compat constraint %q: %v", cp.ID, cp.Version.Compat, err)
	}
	if !constraint.Check(c.runtime) {
		metrics.IncrCounter([]string{"strata", "catalog", "incompatible"}, 1)
		c.logger.Debug("rejecting plugin incompatible with runtime",
			"plugin", cp.ID, "compat", cp.Version.Compat, "runtime", c.runtime)
		return nil
	}

	cp.Active = defaultActive
	c.plugins[cp.ID] = cp
	c.logger.Debug("registered plugin", "plugin", cp.ID, "version", cp.Version.Plugin, "active", defaultActive)
	return nil
}

// RegisterBuiltin registers a plugin that ships with the runtime. Built-in
// plugins default to the "core" group and always satisfy the running
// runtime's version.
func (c *Catalog) RegisterBuiltin(p *structs.Plugin, defaultActive bool) error {
	cp := p.Copy()
	cp.Meta.Builtin = true
	return c.Register(cp, defaultActive)
}

// Load reconciles every cached plugin with its persistent row and saves it
// through the triggered store, firing plugin-before-save, the lifecycle
// interceptors, and plugin-load for each. The stored row's Active flag
// overrides the registration default.
func (c *Catalog) Load(ctx context.Context) error {
	defer metrics.MeasureSince([]string{"strata", "catalog", "load"}, time.Now())

	for _, p := range c.List() {
		row, err := c.triggered.Store().PluginByID(p.ID)
		if err != nil {
			c.logger.Error("plugin row lookup failed", "plugin", p.ID, "error", err)
			continue
		}
		if row != nil {
			p.Active = row.Active
		}

		c.hooks.Run(ctx, "plugin-before-save", p)

		if row != nil && rowsEqual(p, row) {
			c.setCached(p)
			c.hooks.Run(ctx, "plugin-load", p)
			continue
		}

		if err := c.triggered.Save(ctx, state.ClassPlugin, p, masterOptions()); err != nil {
			c.logger.Error("plugin save failed", "plugin", p.ID, "error", err)
			continue
		}
		c.setCached(p)
		c.hooks.Run(ctx, "plugin-load", p)
	}
	return nil
}

// Activate sets a plugin active and persists it, firing schema and activate
// through the lifecycle interceptors.
func (c *Catalog) Activate(ctx context.Context, id string) error {
	return c.setActive(ctx, id, true)
}

// Deactivate sets a plugin inactive and persists it, firing deactivate.
func (c *Catalog) Deactivate(ctx context.Context, id string) error {
	return c.setActive(ctx, id, false)
}

func (c *Catalog) setActive(ctx context.Context, id string, active bool) error {
	p, err := c.pluginCopy(id)
	if err != nil {
		return err
	}
	if p.Active == active {
		return nil
	}
	p.Active = active
	if err := c.triggered.Save(ctx, state.ClassPlugin, p, masterOptions()); err != nil {
		return err
	}
	c.setCached(p)
	return nil
}

// Delete removes a plugin registration and its row. Built-in plugins are
// rejected by the before-delete interceptor and the row remains.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	p, err := c.pluginCopy(id)
	if err != nil {
		return err
	}
	if err := c.triggered.Destroy(ctx, state.ClassPlugin, p, masterOptions()); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.plugins, id)
	c.mu.Unlock()
	return nil
}

// IsActive consults the in-memory cache.
func (c *Catalog) IsActive(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.plugins[id]
	return ok && p.Active
}

// IsValid re-runs the semver check for a cached plugin. With strict set it
// additionally requires the plugin to be active.
func (c *Catalog) IsValid(id string, strict bool) bool {
	c.mu.RLock()
	p, ok := c.plugins[id]
	c.mu.RUnlock()
	if !ok {
		return false
	}

	constraint, err := goversion.NewConstraint(p.Version.Compat)
	if err != nil || !constraint.Check(c.runtime) {
		return false
	}
	if strict && !p.Active {
		return false
	}
	return true
}

// Gate invokes fn when the plugin is active, and otherwise fails with the
// fixed inactive-plugin message.
func (c *Catalog) Gate(ctx context.Context, id, name string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if !c.IsActive(id) {
		metrics.IncrCounterWithLabels([]string{"strata", "catalog", "gate_rejected"}, 1,
			[]metrics.Label{{Name: "function", Value: name}})
		return nil, fmt.Errorf("Plugin: %s is not active.", id)
	}
	return fn(ctx)
}

// Get returns a copy of the cached plugin.
func (c *Catalog) Get(id string) (*structs.Plugin, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.plugins[id]
	if !ok {
		return nil, false
	}
	return p.Copy(), true
}

// List returns copies of every cached plugin ordered by Order then ID.
func (c *Catalog) List() []*structs.Plugin {
	c.mu.RLock()
	out := make([]*structs.Plugin, 0, len(c.plugins))
	for _, p := range c.plugins {
		out = append(out, p.Copy())
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (c *Catalog) pluginCopy(id string) (*structs.Plugin, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.plugins[id]
	if !ok {
		return nil, fmt.Errorf("plugin %q is not registered", id)
	}
	return p.Copy(), nil
}

func (c *Catalog) setCached(p *structs.Plugin) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plugins[p.ID] = p.Copy()
}

func masterOptions() map[string]interface{} {
	return map[string]interface{}{"master": true}
}

// rowsEqual compares a registration with its stored row by structural hash.
func rowsEqual(a, b *structs.Plugin) bool {
	ha, errA := hashstructure.Hash(a, nil)
	hb, errB := hashstructure.Hash(b, nil)
	if errA != nil || errB != nil {
		return false
	}
	return ha == hb
}
