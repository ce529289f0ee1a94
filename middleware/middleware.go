package middleware

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"

	"github.com/gorilla/handlers"
	hclog "github.com/hashicorp/go-hclog"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-set/v3"

	"github.com/strata-cms/strata/hook"
	"github.com/strata-cms/strata/registry"
)

// Entry is one middleware installer. Fn runs once per assembly and installs
// routes or wrappers on the app.
type Entry struct {
	ID    string
	Order hook.Priority
	Fn    func(app *App) error
}

// Chain is the middleware registry. Registration order does not matter;
// entries are sorted by Order at assembly. Changes after an assembly affect
// only the next assembly.
type Chain struct {
	logger hclog.Logger
	hooks  *hook.Engine

	entries *registry.Registry[*Entry]

	mu           sync.RWMutex
	replacements map[string]func(app *App) error
	unregistered *set.Set[string]
}

// NewChain returns an empty middleware chain.
func NewChain(logger hclog.Logger, hooks *hook.Engine) *Chain {
	return &Chain{
		logger: logger.Named("middleware"),
		hooks:  hooks,
		entries: registry.New("middleware", registry.ModeClean,
			func(e *Entry) string { return e.ID }),
		replacements: make(map[string]func(app *App) error),
		unregistered: set.New[string](0),
	}
}

// Register adds an entry. Re-registering an id replaces the previous entry.
func (c *Chain) Register(e *Entry) error {
	if e == nil || e.ID == "" {
		return fmt.Errorf("middleware entry requires an id")
	}
	if e.Fn == nil {
		return fmt.Errorf("middleware %s: installer must not be nil", e.ID)
	}
	return c.entries.Register(e)
}

// Replace swaps the installer for id at the next assembly, keeping its
// position in the sort.
func (c *Chain) Replace(id string, fn func(app *App) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replacements[id] = fn
}

// Unregister drops id from the next assembly.
func (c *Chain) Unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unregistered.Insert(id)
}

// Assemble sorts the surviving entries and invokes each installer against
// app. A failing installer is logged and skipped; the aggregated error
// reports every failure.
func (c *Chain) Assemble(app *App) error {
	entries := c.entries.List()
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Order < entries[j].Order })

	c.mu.RLock()
	replacements := make(map[string]func(app *App) error, len(c.replacements))
	for id, fn := range c.replacements {
		replacements[id] = fn
	}
	dropped := c.unregistered.Slice()
	c.mu.RUnlock()

	droppedSet := set.From(dropped)

	var mErr *multierror.Error
	for _, e := range entries {
		if droppedSet.Contains(e.ID) {
			continue
		}
		fn := e.Fn
		if replacement, ok := replacements[e.ID]; ok {
			fn = replacement
		}
		if err := fn(app); err != nil {
			c.logger.Error("middleware installer failed", "middleware", e.ID, "error", err)
			mErr = multierror.Append(mErr, fmt.Errorf("%s: %w", e.ID, err))
		}
	}
	return mErr.ErrorOrNil()
}

// MW is the mutable object handed to <id>-middleware hook callbacks. Use
// queues wrappers; they are applied to the app in queue order when the
// dispatching middleware drains the queue.
type MW struct {
	app   *App
	queue []Wrapper
}

// Use queues a wrapper for installation.
func (m *MW) Use(w Wrapper) {
	if w != nil {
		m.queue = append(m.queue, w)
	}
}

// Next applies the oldest queued wrapper to the app. It reports whether a
// wrapper was applied.
func (m *MW) Next() bool {
	if len(m.queue) == 0 {
		return false
	}
	m.app.Use(m.queue[0])
	m.queue = m.queue[1:]
	return true
}

// RegisterHook installs a middleware entry that dispatches the
// <id>-middleware hook, letting plugins contribute wrappers at that point
// of the pipeline without registering top-level entries.
func (c *Chain) RegisterHook(id string, order hook.Priority) error {
	return c.Register(&Entry{
		ID:    id,
		Order: order,
		Fn: func(app *App) error {
			mw := &MW{app: app}
			c.hooks.Run(context.Background(), id+"-middleware", mw)
			for mw.Next() {
			}
			return nil
		},
	})
}

// RegisterCore installs the framework middleware: proxy header handling,
// access logging, and panic recovery, all at core order.
func (c *Chain) RegisterCore(accessLog io.Writer) error {
	if err := c.Register(&Entry{
		ID:    "core-proxy-headers",
		Order: hook.Core,
		Fn: func(app *App) error {
			app.Use(func(h http.Handler) http.Handler { return handlers.ProxyHeaders(h) })
			return nil
		},
	}); err != nil {
		return err
	}

	if err := c.Register(&Entry{
		ID:    "core-access-log",
		Order: hook.Core + 1,
		Fn: func(app *App) error {
			app.Use(func(h http.Handler) http.Handler {
				return handlers.CombinedLoggingHandler(accessLog, h)
			})
			return nil
		},
	}); err != nil {
		return err
	}

	return c.Register(&Entry{
		ID:    "core-recovery",
		Order: hook.Core + 2,
		Fn: func(app *App) error {
			app.Use(func(h http.Handler) http.Handler {
				return handlers.RecoveryHandler(
					handlers.RecoveryLogger(&recoveryLogger{c.logger}),
				)(h)
			})
			return nil
		},
	})
}

// recoveryLogger adapts hclog to gorilla's recovery logger.
type recoveryLogger struct {
	logger hclog.Logger
}

func (r *recoveryLogger) Println(v ...interface{}) {
	r.logger.Error("panic in http handler", "panic", fmt.Sprint(v...))
}
