// Package hook implements the runtime's universal extension mechanism: named,
// priority ordered chains of callbacks. Every other subsystem observes or
// mutates behavior exclusively through hooks so that plugins can participate
// without knowing about each other.
//
// Chains dispatch sequentially, order ascending, ties broken by registration
// order. Failures in an async chain are logged and the chain continues; a
// failing plugin cannot crash the host. Sync chains abort on the first error.
package hook

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/strata-cms/strata/helper/uuid"
)

// Kind distinguishes the two callback buckets of a hook name.
type Kind string

const (
	KindAsync Kind = "async"
	KindSync  Kind = "sync"
)

// DefaultDomain is the domain assigned to registrations that do not set one.
const DefaultDomain = "default"

// Func is an asynchronous hook callback. It may block; the dispatcher awaits
// it before invoking the next callback in the chain.
type Func func(ctx context.Context, hc *Context) error

// SyncFunc is a synchronous hook callback. It must not block.
type SyncFunc func(hc *Context) error

// Registration is the introspection view of a registered callback.
type Registration struct {
	ID     string
	Name   string
	Kind   Kind
	Order  Priority
	Domain string
}

type declaration struct {
	id     string
	name   string
	kind   Kind
	order  Priority
	domain string
	seq    uint64

	fn     Func
	syncFn SyncFunc
}

type path struct {
	name string
	kind Kind
}

// Engine owns the hook buckets. Every id appears in the bucket, the id→path
// index, and the name→domain index together, or in none of them.
type Engine struct {
	logger hclog.Logger

	mu      sync.Mutex
	seq     uint64
	buckets map[string]map[Kind]map[string]*declaration
	paths   map[string]path
	domains map[string]map[string]map[string]struct{}
}

// NewEngine returns an initialized hook engine.
func NewEngine(logger hclog.Logger) *Engine {
	return &Engine{
		logger:  logger.Named("hook"),
		buckets: make(map[string]map[Kind]map[string]*declaration),
		paths:   make(map[string]path),
		domains: make(map[string]map[string]map[string]struct{}),
	}
}

// Option mutates a registration before it is stored.
type Option func(*declaration)

// WithOrder sets the dispatch priority. Defaults to Neutral.
func WithOrder(order Priority) Option {
	return func(d *declaration) { d.order = order }
}

// WithID sets an explicit registration id. Defaults to a new UUID.
func WithID(id string) Option {
	return func(d *declaration) { d.id = id }
}

// WithDomain tags the registration for bulk unregistration. Defaults to
// DefaultDomain.
func WithDomain(domain string) Option {
	return func(d *declaration) { d.domain = domain }
}

// Register adds an asynchronous callback for name and returns its id.
func (e *Engine) Register(name string, fn Func, opts ...Option) (string, error) {
	if name == "" {
		return "", fmt.Errorf("hook name must not be empty")
	}
	if fn == nil {
		return "", fmt.Errorf("hook %s: callback must not be nil", name)
	}
	d := &declaration{name: name, kind: KindAsync, fn: fn}
	return e.register(d, opts)
}

// RegisterSync adds a synchronous callback for name and returns its id.
func (e *Engine) RegisterSync(name string, fn SyncFunc, opts ...Option) (string, error) {
	if name == "" {
		return "", fmt.Errorf("hook name must not be empty")
	}
	if fn == nil {
		return "", fmt.Errorf("hook %s: callback must not be nil", name)
	}
	d := &declaration{name: name, kind: KindSync, syncFn: fn}
	return e.register(d, opts)
}

func (e *Engine) register(d *declaration, opts []Option) (string, error) {
	d.order = Neutral
	d.domain = DefaultDomain
	for _, opt := range opts {
		opt(d)
	}
	if d.id == "" {
		d.id = uuid.Generate()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.paths[d.id]; exists {
		return "", fmt.Errorf("hook %s: id %q is already registered", d.name, d.id)
	}

	e.seq++
	d.seq = e.seq

	kinds, ok := e.buckets[d.name]
	if !ok {
		kinds = make(map[Kind]map[string]*declaration, 2)
		e.buckets[d.name] = kinds
	}
	bucket, ok := kinds[d.kind]
	if !ok {
		bucket = make(map[string]*declaration)
		kinds[d.kind] = bucket
	}
	bucket[d.id] = d

	e.paths[d.id] = path{name: d.name, kind: d.kind}

	byDomain, ok := e.domains[d.name]
	if !ok {
		byDomain = make(map[string]map[string]struct{})
		e.domains[d.name] = byDomain
	}
	ids, ok := byDomain[d.domain]
	if !ok {
		ids = make(map[string]struct{})
		byDomain[d.domain] = ids
	}
	ids[d.id] = struct{}{}

	return d.id, nil
}

// Unregister removes a callback by id. Unknown ids are a no-op.
func (e *Engine) Unregister(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unregisterLocked(id)
}

func (e *Engine) unregisterLocked(id string) {
	p, ok := e.paths[id]
	if !ok {
		return
	}
	delete(e.paths, id)

	if kinds, ok := e.buckets[p.name]; ok {
		if bucket, ok := kinds[p.kind]; ok {
			d, ok := bucket[id]
			if ok {
				delete(bucket, id)
				if byDomain, ok := e.domains[p.name]; ok {
					if ids, ok := byDomain[d.domain]; ok {
						delete(ids, id)
						if len(ids) == 0 {
							delete(byDomain, d.domain)
						}
					}
				}
			}
		}
	}
}

// UnregisterDomain removes every callback registered for name under domain.
func (e *Engine) UnregisterDomain(name, domain string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	byDomain, ok := e.domains[name]
	if !ok {
		return
	}
	for id := range byDomain[domain] {
		e.unregisterLocked(id)
	}
}

// Flush clears the (name, kind) bucket.
func (e *Engine) Flush(name string, kind Kind) {
	e.mu.Lock()
	defer e.mu.Unlock()

	kinds, ok := e.buckets[name]
	if !ok {
		return
	}
	for id := range kinds[kind] {
		e.unregisterLocked(id)
	}
}

// List returns the registrations for name across both kinds, in dispatch
// order.
func (e *Engine) List(name string) []Registration {
	e.mu.Lock()
	decls := append(e.snapshotLocked(name, KindAsync), e.snapshotLocked(name, KindSync)...)
	e.mu.Unlock()

	sortDeclarations(decls)

	out := make([]Registration, 0, len(decls))
	for _, d := range decls {
		out = append(out, Registration{
			ID:     d.id,
			Name:   d.name,
			Kind:   d.kind,
			Order:  d.order,
			Domain: d.domain,
		})
	}
	return out
}

// Run dispatches the async chain for name. Callback failures are logged and
// counted but never abort the chain; the returned Context reflects every
// mutation made by the callbacks that ran.
func (e *Engine) Run(ctx context.Context, name string, params ...interface{}) *Context {
	defer metrics.MeasureSince([]string{"strata", "hook", "run"}, time.Now())

	e.mu.Lock()
	decls := e.snapshotLocked(name, KindAsync)
	e.mu.Unlock()
	sortDeclarations(decls)

	hc := newContext(name, params)
	for _, d := range decls {
		if err := ctx.Err(); err != nil {
			e.logger.Warn("hook chain interrupted", "hook", name, "error", err)
			break
		}
		if err := d.fn(ctx, hc); err != nil {
			metrics.IncrCounter([]string{"strata", "hook", "error"}, 1)
			e.logger.Error("hook callback failed",
				"hook", name, "id", d.id, "domain", d.domain, "error", err)
		}
	}
	return hc
}

// RunSync dispatches the sync chain for name. The first callback error
// aborts the chain and is returned to the caller.
func (e *Engine) RunSync(name string, params ...interface{}) (*Context, error) {
	defer metrics.MeasureSince([]string{"strata", "hook", "run_sync"}, time.Now())

	e.mu.Lock()
	decls := e.snapshotLocked(name, KindSync)
	e.mu.Unlock()
	sortDeclarations(decls)

	hc := newContext(name, params)
	for _, d := range decls {
		if err := d.syncFn(hc); err != nil {
			metrics.IncrCounter([]string{"strata", "hook", "error"}, 1)
			return hc, fmt.Errorf("hook %s (%s): %w", name, d.id, err)
		}
	}
	return hc, nil
}

// snapshotLocked copies the declarations of a bucket so dispatch happens
// against a stable view even if callbacks mutate the engine.
func (e *Engine) snapshotLocked(name string, kind Kind) []*declaration {
	kinds, ok := e.buckets[name]
	if !ok {
		return nil
	}
	bucket := kinds[kind]
	decls := make([]*declaration, 0, len(bucket))
	for _, d := range bucket {
		decls = append(decls, d)
	}
	return decls
}

func sortDeclarations(decls []*declaration) {
	sort.SliceStable(decls, func(i, j int) bool {
		if decls[i].order != decls[j].order {
			return decls[i].order < decls[j].order
		}
		return decls[i].seq < decls[j].seq
	})
}
