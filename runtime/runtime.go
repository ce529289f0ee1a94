// Package runtime wires the subsystems into one typed service locator.
// Plugins and the agent reach every extension surface through this struct
// instead of a mutable global.
package runtime

import (
	hclog "github.com/hashicorp/go-hclog"

	"github.com/strata-cms/strata/capability"
	"github.com/strata-cms/strata/catalog"
	"github.com/strata-cms/strata/filestore"
	"github.com/strata-cms/strata/gateway"
	"github.com/strata-cms/strata/hook"
	"github.com/strata-cms/strata/middleware"
	"github.com/strata-cms/strata/pulse"
	"github.com/strata-cms/strata/search"
	"github.com/strata-cms/strata/state"
	"github.com/strata-cms/strata/syndicate"
)

// Config carries the values the locator needs beyond its logger.
type Config struct {
	// PublicURL prefixes file locations served by the default storage
	// adapter.
	PublicURL string

	// RefreshSecret and AccessSecret sign syndication tokens.
	RefreshSecret string
	AccessSecret  string
}

// Runtime is the service locator. Every subsystem is constructed once at
// boot and shared by reference.
type Runtime struct {
	Logger hclog.Logger

	Hooks     *hook.Engine
	Store     *state.Store
	Triggered *state.TriggeredStore
	Settings  *state.Settings

	Catalog      *catalog.Catalog
	Gateway      *gateway.Gateway
	Middleware   *middleware.Chain
	Pulse        *pulse.Scheduler
	Filestore    *filestore.Proxy
	Syndicate    *syndicate.Service
	Content      *syndicate.ContentAPI
	Search       *search.Coordinator
	Capabilities *capability.Registry
}

// New constructs and wires every subsystem.
func New(logger hclog.Logger, cfg Config) (*Runtime, error) {
	hooks := hook.NewEngine(logger)

	store, err := state.NewStore(logger)
	if err != nil {
		return nil, err
	}
	triggered := state.NewTriggeredStore(logger, store, hooks)
	settings := state.NewSettings(triggered, hooks)

	cat := catalog.New(logger, hooks, triggered)
	scheduler := pulse.NewScheduler(logger)

	defaultAdapter := filestore.NewBlobAdapter(logger, store, cfg.PublicURL)
	proxy := filestore.NewProxy(logger, hooks, cat, defaultAdapter)
	cat.SetUploader(proxy)

	synd, err := syndicate.New(logger, triggered, cfg.RefreshSecret, cfg.AccessSecret)
	if err != nil {
		return nil, err
	}

	return &Runtime{
		Logger:       logger,
		Hooks:        hooks,
		Store:        store,
		Triggered:    triggered,
		Settings:     settings,
		Catalog:      cat,
		Gateway:      gateway.New(logger, hooks, cat),
		Middleware:   middleware.NewChain(logger, hooks),
		Pulse:        scheduler,
		Filestore:    proxy,
		Syndicate:    synd,
		Content:      syndicate.NewContentAPI(synd, hooks, settings),
		Search:       search.New(logger, hooks, triggered, settings, scheduler),
		Capabilities: capability.NewRegistry(logger),
	}, nil
}
