// Package capability models the permission facet of a request identity: a
// named set of granted capabilities, with master identities bypassing every
// check.
package capability

import (
	"sort"
	"sync"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-set/v3"

	"github.com/strata-cms/strata/registry"
)

// Capability is one registerable permission known to the runtime. Plugins
// declare the capabilities their functions require.
type Capability struct {
	ID          string
	Description string
}

// Well-known capabilities registered at boot.
const (
	// SyndicateBypass lets its holder skip access-token verification on
	// syndication endpoints.
	SyndicateBypass = "Syndicate.bypass"

	// PluginsManage guards plugin activate/deactivate/delete endpoints.
	PluginsManage = "Plugins.manage"

	// SettingsManage guards setting writes.
	SettingsManage = "Settings.manage"
)

// Identity is the caller of an operation: a username, a master flag, and the
// capabilities granted to it. The zero value is an anonymous identity with
// no capabilities.
type Identity struct {
	Username string
	Master   bool

	mu   sync.RWMutex
	caps *set.Set[string]
}

// NewIdentity returns an identity holding the given capabilities.
func NewIdentity(username string, master bool, caps ...string) *Identity {
	return &Identity{
		Username: username,
		Master:   master,
		caps:     set.From(caps),
	}
}

// MasterIdentity returns the privileged identity used for internal
// operations.
func MasterIdentity() *Identity {
	return NewIdentity("master", true)
}

// Grant adds capabilities to the identity.
func (i *Identity) Grant(caps ...string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.caps == nil {
		i.caps = set.New[string](len(caps))
	}
	i.caps.InsertSlice(caps)
}

// Has reports whether the identity holds every one of the given
// capabilities. Master identities hold all capabilities implicitly.
func (i *Identity) Has(caps ...string) bool {
	if i == nil {
		return len(caps) == 0
	}
	if i.Master {
		return true
	}

	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.caps == nil {
		return len(caps) == 0
	}
	for _, c := range caps {
		if !i.caps.Contains(c) {
			return false
		}
	}
	return true
}

// HasAny reports whether the identity holds at least one of the given
// capabilities.
func (i *Identity) HasAny(caps ...string) bool {
	if i == nil {
		return false
	}
	if i.Master {
		return true
	}

	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.caps == nil {
		return false
	}
	for _, c := range caps {
		if i.caps.Contains(c) {
			return true
		}
	}
	return false
}

// List returns the identity's capabilities sorted by id.
func (i *Identity) List() []string {
	if i == nil {
		return nil
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.caps == nil {
		return nil
	}
	out := i.caps.Slice()
	sort.Strings(out)
	return out
}

// Registry is the catalog of capabilities known to the runtime.
type Registry struct {
	logger hclog.Logger
	reg    *registry.Registry[Capability]
}

// NewRegistry returns a capability registry pre-seeded with the well-known
// capabilities.
func NewRegistry(logger hclog.Logger) *Registry {
	r := &Registry{
		logger: logger.Named("capability"),
		reg: registry.New("capabilities", registry.ModeClean,
			func(c Capability) string { return c.ID }),
	}
	for _, c := range []Capability{
		{ID: SyndicateBypass, Description: "Bypass syndication access-token verification"},
		{ID: PluginsManage, Description: "Manage plugin lifecycle"},
		{ID: SettingsManage, Description: "Write runtime settings"},
	} {
		r.Register(c)
	}
	return r
}

// Register declares a capability. Re-registering replaces the entry.
func (r *Registry) Register(c Capability) {
	if c.ID == "" {
		return
	}
	if err := r.reg.Register(c); err != nil {
		r.logger.Warn("capability registration rejected", "capability", c.ID, "error", err)
	}
}

// Get returns the registered capability by id.
func (r *Registry) Get(id string) (Capability, bool) {
	return r.reg.Get(id)
}

// List returns the registered capabilities in registration order.
func (r *Registry) List() []Capability {
	return r.reg.List()
}

// IsRegistered reports whether id names a known capability.
func (r *Registry) IsRegistered(id string) bool {
	return r.reg.IsRegistered(id)
}
