package catalog

import (
	"context"

	goversion "github.com/hashicorp/go-version"

	"github.com/strata-cms/strata/hook"
	"github.com/strata-cms/strata/state"
	"github.com/strata-cms/strata/structs"
)

// Lifecycle hook names fired by the catalog's persistence interceptors.
const (
	HookInstall          = "install"
	HookSchema           = "schema"
	HookActivate         = "activate"
	HookUpdate           = "update"
	HookDeactivate       = "deactivate"
	HookUninstall        = "uninstall"
	HookPluginLoad       = "plugin-load"
	HookPluginBeforeSave = "plugin-before-save"
)

// installInterceptors wires the lifecycle hook sequence into the Plugin
// store class. All transitions are computed from the difference between the
// incoming object and the stored row, inside the row's own write.
func (c *Catalog) installInterceptors() {
	c.hooks.RegisterSync("before-save-"+state.ClassPlugin, c.beforeSavePlugin,
		hook.WithOrder(hook.Core), hook.WithID("catalog-before-save"))

	c.hooks.RegisterSync("before-delete-"+state.ClassPlugin, c.beforeDeletePlugin,
		hook.WithOrder(hook.Core), hook.WithID("catalog-before-delete"))

	c.hooks.Register("after-delete-"+state.ClassPlugin, c.afterDeletePlugin,
		hook.WithOrder(hook.Core), hook.WithID("catalog-after-delete"))
}

// beforeSavePlugin fires the install/schema/activate/update/deactivate
// sequence appropriate to the transition this save represents.
//
// Lifecycle callbacks receive the plugin (and the old plugin for update) and
// must early-return when the id is not theirs.
func (c *Catalog) beforeSavePlugin(hc *hook.Context) error {
	req := hc.Param(0).(*state.Request)
	p := req.Object.(*structs.Plugin)
	ctx := requestCtx(req)

	prev, _ := req.Previous.(*structs.Plugin)
	if prev == nil {
		if p.Active {
			c.hooks.Run(ctx, HookInstall, p)
			c.hooks.Run(ctx, HookSchema, p)
			c.hooks.Run(ctx, HookActivate, p)
		}
		return nil
	}

	c.fireUpdate(ctx, p, prev)

	switch {
	case !prev.Active && p.Active:
		c.hooks.Run(ctx, HookSchema, p)
		c.hooks.Run(ctx, HookActivate, p)
	case prev.Active && !p.Active:
		c.hooks.Run(ctx, HookDeactivate, p)
	}
	return nil
}

// fireUpdate fires the update hook when the plugin version increased and
// the plugin remains active. A version decrease is a warning only.
func (c *Catalog) fireUpdate(ctx context.Context, p, prev *structs.Plugin) {
	newV, errNew := goversion.NewVersion(p.Version.Plugin)
	oldV, errOld := goversion.NewVersion(prev.Version.Plugin)
	if errNew != nil || errOld != nil {
		return
	}

	switch {
	case newV.GreaterThan(oldV):
		if p.Active {
			c.hooks.Run(ctx, HookUpdate, p, prev)
		}
	case newV.LessThan(oldV):
		c.logger.Warn("plugin version decreased; skipping update hook",
			"plugin", p.ID, "old", prev.Version.Plugin, "new", p.Version.Plugin)
	}
}

// beforeDeletePlugin rejects deletion of built-in plugins and fires
// deactivate for active ones on their way out.
func (c *Catalog) beforeDeletePlugin(hc *hook.Context) error {
	req := hc.Param(0).(*state.Request)
	prev := req.Previous.(*structs.Plugin)

	if prev.Meta.Builtin {
		return structs.ErrBuiltinDelete
	}
	if prev.Active {
		c.hooks.Run(requestCtx(req), HookDeactivate, prev)
	}
	return nil
}

// afterDeletePlugin fires uninstall once the row is gone.
func (c *Catalog) afterDeletePlugin(ctx context.Context, hc *hook.Context) error {
	req := hc.Param(0).(*state.Request)
	prev := req.Previous.(*structs.Plugin)
	c.hooks.Run(ctx, HookUninstall, prev)
	return nil
}

func requestCtx(req *state.Request) context.Context {
	if req.Ctx != nil {
		return req.Ctx
	}
	return context.Background()
}

// PluginParam extracts the plugin argument of a lifecycle hook dispatch.
// Callbacks use it together with an id check to early-return on other
// plugins' events.
func PluginParam(hc *hook.Context) *structs.Plugin {
	p, _ := hc.Param(0).(*structs.Plugin)
	return p
}

// OldPluginParam extracts the previous plugin of an update dispatch.
func OldPluginParam(hc *hook.Context) *structs.Plugin {
	p, _ := hc.Param(1).(*structs.Plugin)
	return p
}
