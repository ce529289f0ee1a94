package filestore

import (
	"context"
	"fmt"
	"io"
	"sync"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/strata-cms/strata/catalog"
	"github.com/strata-cms/strata/hook"
)

// HookFilesAdapter is the election hook. Registered adapter providers mutate
// the Swap argument; the highest-order active provider wins.
const HookFilesAdapter = "files-adapter"

// Installer builds a plugin's adapter. Returning a nil adapter or an error
// leaves the current adapter in place.
type Installer func(ctx context.Context) (Adapter, error)

// Swap is the mutable context of a files-adapter election. EventPluginID and
// EventActive describe the lifecycle event that triggered the election,
// since the catalog cache does not yet reflect it.
type Swap struct {
	EventPluginID string
	EventActive   bool

	Adapter Adapter
	ID      string
}

// Proxy delegates every Adapter call to the currently elected backend.
type Proxy struct {
	logger  hclog.Logger
	hooks   *hook.Engine
	catalog *catalog.Catalog

	mu        sync.RWMutex
	def       Adapter
	current   Adapter
	currentID string
}

// NewProxy returns a proxy serving the default adapter.
func NewProxy(logger hclog.Logger, hooks *hook.Engine, cat *catalog.Catalog, def Adapter) *Proxy {
	return &Proxy{
		logger:    logger.Named("filestore"),
		hooks:     hooks,
		catalog:   cat,
		def:       def,
		current:   def,
		currentID: DefaultAdapterID,
	}
}

// CurrentID returns the id of the adapter currently serving calls.
func (p *Proxy) CurrentID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentID
}

// Register installs an adapter provider owned by pluginID. While the plugin
// is active its installer competes in every files-adapter election at the
// given order; activation and deactivation of the plugin re-run the
// election.
func (p *Proxy) Register(pluginID string, installer Installer, order hook.Priority) error {
	if pluginID == "" {
		return fmt.Errorf("adapter provider requires a plugin id")
	}
	if installer == nil {
		return fmt.Errorf("adapter provider %s: installer must not be nil", pluginID)
	}

	provide := func(ctx context.Context, hc *hook.Context) error {
		sw, ok := hc.Param(0).(*Swap)
		if !ok {
			return nil
		}

		active := p.catalog.IsActive(pluginID)
		if sw.EventPluginID == pluginID {
			active = sw.EventActive
		}
		if !active {
			return nil
		}

		adapter, err := installer(ctx)
		if err != nil {
			return fmt.Errorf("adapter installer %s: %w", pluginID, err)
		}
		if adapter == nil {
			return nil
		}
		sw.Adapter = adapter
		sw.ID = pluginID
		return nil
	}

	if _, err := p.hooks.Register(HookFilesAdapter, provide,
		hook.WithOrder(order), hook.WithDomain(pluginID)); err != nil {
		return err
	}

	elect := func(active bool) hook.Func {
		return func(ctx context.Context, hc *hook.Context) error {
			pl := catalog.PluginParam(hc)
			if pl == nil || pl.ID != pluginID {
				return nil
			}
			p.elect(ctx, pluginID, active)
			return nil
		}
	}

	if _, err := p.hooks.Register(catalog.HookActivate, elect(true),
		hook.WithDomain(pluginID)); err != nil {
		return err
	}
	if _, err := p.hooks.Register(catalog.HookDeactivate, elect(false),
		hook.WithDomain(pluginID)); err != nil {
		return err
	}
	return nil
}

// elect re-runs the files-adapter chain and swaps to the winner, or back to
// the default when no provider answers.
func (p *Proxy) elect(ctx context.Context, eventPlugin string, eventActive bool) {
	sw := &Swap{EventPluginID: eventPlugin, EventActive: eventActive}
	p.hooks.Run(ctx, HookFilesAdapter, sw)

	p.mu.Lock()
	defer p.mu.Unlock()

	if sw.Adapter == nil {
		if p.currentID != DefaultAdapterID {
			p.logger.Info("reverting to default storage adapter", "previous", p.currentID)
		}
		p.current = p.def
		p.currentID = DefaultAdapterID
		return
	}
	if sw.ID != p.currentID {
		p.logger.Info("swapping storage adapter", "previous", p.currentID, "adapter", sw.ID)
	}
	p.current = sw.Adapter
	p.currentID = sw.ID
}

func (p *Proxy) adapter() Adapter {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

func (p *Proxy) CreateFile(ctx context.Context, path string, data []byte) (string, error) {
	return p.adapter().CreateFile(ctx, path, data)
}

func (p *Proxy) DeleteFile(ctx context.Context, path string) error {
	return p.adapter().DeleteFile(ctx, path)
}

func (p *Proxy) GetFileData(ctx context.Context, path string) ([]byte, error) {
	return p.adapter().GetFileData(ctx, path)
}

func (p *Proxy) GetFileLocation(ctx context.Context, path string) (string, error) {
	return p.adapter().GetFileLocation(ctx, path)
}

func (p *Proxy) ValidateFilename(name string) bool {
	return p.adapter().ValidateFilename(name)
}

func (p *Proxy) HandleFileStream(ctx context.Context, path string, w io.Writer) error {
	return p.adapter().HandleFileStream(ctx, path, w)
}
