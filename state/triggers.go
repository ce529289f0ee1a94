package state

import (
	"context"
	"fmt"
	"strings"
	"sync"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/strata-cms/strata/hook"
	"github.com/strata-cms/strata/structs"
)

// ContentClassPrefix marks classes belonging to the content family. Writes
// against these classes additionally fire the -content hook variants.
const ContentClassPrefix = "content_"

// Built-in class names.
const (
	ClassPlugin          = "Plugin"
	ClassSetting         = "Setting"
	ClassSyndicateClient = "SyndicateClient"
	ClassContentType     = "Type"
)

// Request is the argument every save/destroy trigger receives. Callbacks may
// mutate Object in place; mutations made before the write are persisted.
type Request struct {
	// Class is the class name the write targets.
	Class string

	// Object is the record being written or destroyed.
	Object interface{}

	// Previous is the stored record prior to this write, nil on create.
	Previous interface{}

	// Options carries caller supplied flags, e.g. "master".
	Options map[string]interface{}

	// Ctx is the context of the write. Sync trigger callbacks that fire
	// further hook chains dispatch them under this context.
	Ctx context.Context

	// Context is the hook chain context of the currently running trigger
	// chain.
	Context *hook.Context
}

// Master reports whether the request runs with master privileges.
func (r *Request) Master() bool {
	if r.Options == nil {
		return false
	}
	m, _ := r.Options["master"].(bool)
	return m
}

// ClassOps is the typed dispatch entry for one class. The content-family
// rule is an explicit predicate on the class name, not reflection.
type ClassOps struct {
	// ID extracts the primary key of a record.
	ID func(obj interface{}) string

	// Get loads the stored record by id, nil when absent.
	Get func(id string) (interface{}, error)

	// Save persists the record.
	Save func(obj interface{}) error

	// Delete removes the stored record by id.
	Delete func(id string) error
}

// TriggeredStore wraps Store so every save and destroy fires the trigger
// hook chains:
//
//	before-save, before-save-<Class>, before-save-content?
//	(write)
//	after-save, after-save-<Class>, after-save-content?
//
// and symmetrically for destroy. Before chains are synchronous: a callback
// error rejects the write. After chains are asynchronous: failures are
// logged and ignored.
type TriggeredStore struct {
	logger hclog.Logger
	store  *Store
	hooks  *hook.Engine

	mu      sync.RWMutex
	classes map[string]*ClassOps
}

// NewTriggeredStore wraps store with trigger dispatch. The built-in classes
// (Plugin, Setting, SyndicateClient, Type) are registered immediately;
// content classes resolve dynamically by prefix.
func NewTriggeredStore(logger hclog.Logger, store *Store, hooks *hook.Engine) *TriggeredStore {
	t := &TriggeredStore{
		logger:  logger.Named("triggers"),
		store:   store,
		hooks:   hooks,
		classes: make(map[string]*ClassOps),
	}
	t.registerBuiltinClasses()
	return t
}

// RegisterClass installs the dispatch entry for a class, replacing any
// previous entry.
func (t *TriggeredStore) RegisterClass(class string, ops *ClassOps) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.classes[class] = ops
}

// Store returns the underlying untriggered store.
func (t *TriggeredStore) Store() *Store {
	return t.store
}

// IsContentClass reports whether class belongs to the content family.
func IsContentClass(class string) bool {
	return strings.HasPrefix(class, ContentClassPrefix)
}

// Save persists obj under class, firing the save trigger chains around the
// write.
func (t *TriggeredStore) Save(ctx context.Context, class string, obj interface{}, options map[string]interface{}) error {
	ops, err := t.opsFor(class)
	if err != nil {
		return err
	}

	prev, err := ops.Get(ops.ID(obj))
	if err != nil {
		return err
	}

	req := &Request{
		Class:    class,
		Object:   obj,
		Previous: prev,
		Options:  options,
		Ctx:      ctx,
	}

	if err := t.runBefore("before-save", class, req); err != nil {
		return err
	}
	if err := ops.Save(obj); err != nil {
		return err
	}
	t.runAfter(ctx, "after-save", class, req)
	return nil
}

// Destroy removes obj's stored record, firing the delete trigger chains
// around the write. Destroying an absent record is a no-op.
func (t *TriggeredStore) Destroy(ctx context.Context, class string, obj interface{}, options map[string]interface{}) error {
	ops, err := t.opsFor(class)
	if err != nil {
		return err
	}

	id := ops.ID(obj)
	prev, err := ops.Get(id)
	if err != nil {
		return err
	}
	if prev == nil {
		return nil
	}

	req := &Request{
		Class:    class,
		Object:   obj,
		Previous: prev,
		Options:  options,
		Ctx:      ctx,
	}

	if err := t.runBefore("before-delete", class, req); err != nil {
		return err
	}
	if err := ops.Delete(id); err != nil {
		return err
	}
	t.runAfter(ctx, "after-delete", class, req)
	return nil
}

// runBefore fires the generic, class, and content-family sync chains. The
// first error aborts.
func (t *TriggeredStore) runBefore(base, class string, req *Request) error {
	names := triggerNames(base, class)
	for _, name := range names {
		hc, err := t.hooks.RunSync(name, req)
		req.Context = hc
		if err != nil {
			t.logger.Debug("write rejected by trigger", "class", class, "hook", name, "error", err)
			return err
		}
	}
	return nil
}

// runAfter fires the generic, class, and content-family async chains.
// Failures are contained by the hook engine.
func (t *TriggeredStore) runAfter(ctx context.Context, base, class string, req *Request) {
	for _, name := range triggerNames(base, class) {
		req.Context = t.hooks.Run(ctx, name, req)
	}
}

func triggerNames(base, class string) []string {
	names := []string{base, base + "-" + class}
	if IsContentClass(class) {
		names = append(names, base+"-content")
	}
	return names
}

func (t *TriggeredStore) opsFor(class string) (*ClassOps, error) {
	t.mu.RLock()
	ops, ok := t.classes[class]
	t.mu.RUnlock()
	if ok {
		return ops, nil
	}
	if IsContentClass(class) {
		return t.contentOps(), nil
	}
	return nil, fmt.Errorf("no store class registered for %q", class)
}

func (t *TriggeredStore) registerBuiltinClasses() {
	t.classes[ClassPlugin] = &ClassOps{
		ID: func(obj interface{}) string { return obj.(*structs.Plugin).ID },
		Get: func(id string) (interface{}, error) {
			p, err := t.store.PluginByID(id)
			if err != nil || p == nil {
				return nil, err
			}
			return p, nil
		},
		Save:   func(obj interface{}) error { return t.store.UpsertPlugin(obj.(*structs.Plugin)) },
		Delete: func(id string) error { return t.store.DeletePlugin(id) },
	}

	t.classes[ClassSetting] = &ClassOps{
		ID: func(obj interface{}) string { return obj.(*structs.Setting).Key },
		Get: func(id string) (interface{}, error) {
			st, err := t.store.SettingByKey(id)
			if err != nil || st == nil {
				return nil, err
			}
			return st, nil
		},
		Save: func(obj interface{}) error { return t.store.UpsertSetting(obj.(*structs.Setting)) },
		Delete: func(id string) error {
			return fmt.Errorf("settings cannot be deleted")
		},
	}

	t.classes[ClassSyndicateClient] = &ClassOps{
		ID: func(obj interface{}) string { return obj.(*structs.SyndicateClient).ObjectID },
		Get: func(id string) (interface{}, error) {
			c, err := t.store.SyndicateClientByID(id)
			if err != nil || c == nil {
				return nil, err
			}
			return c, nil
		},
		Save:   func(obj interface{}) error { return t.store.UpsertSyndicateClient(obj.(*structs.SyndicateClient)) },
		Delete: func(id string) error { return t.store.DeleteSyndicateClient(id) },
	}

	t.classes[ClassContentType] = &ClassOps{
		ID: func(obj interface{}) string { return obj.(*structs.ContentType).MachineName },
		Get: func(id string) (interface{}, error) {
			ct, err := t.store.ContentTypeByName(id)
			if err != nil || ct == nil {
				return nil, err
			}
			return ct, nil
		},
		Save: func(obj interface{}) error { return t.store.UpsertContentType(obj.(*structs.ContentType)) },
		Delete: func(id string) error {
			return fmt.Errorf("content types cannot be deleted")
		},
	}
}

// contentOps is the shared dispatch entry for every content_<type> class.
func (t *TriggeredStore) contentOps() *ClassOps {
	return &ClassOps{
		ID: func(obj interface{}) string { return obj.(*structs.Content).ID },
		Get: func(id string) (interface{}, error) {
			c, err := t.store.ContentByID(id)
			if err != nil || c == nil {
				return nil, err
			}
			return c, nil
		},
		Save:   func(obj interface{}) error { return t.store.UpsertContent(obj.(*structs.Content)) },
		Delete: func(id string) error { return t.store.DeleteContent(id) },
	}
}

// ContentClass returns the trigger class name for a content type.
func ContentClass(machineName string) string {
	return ContentClassPrefix + machineName
}
