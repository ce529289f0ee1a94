// Package agent hosts the runtime: configuration, subsystem wiring, the
// boot sequence, and the HTTP surface.
package agent

import (
	"context"
	"fmt"
	"net/http"
	"time"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/strata-cms/strata/runtime"
	"github.com/strata-cms/strata/version"
)

// Boot hook names, fired in this order during Start.
const (
	HookBeforeCapabilityLoad = "before-capability-load"
	HookStart                = "start"
	HookRunning              = "running"
	HookShutdown             = "shutdown"
)

// Agent owns one runtime instance and its HTTP server.
type Agent struct {
	logger hclog.Logger
	config *Config

	rt   *runtime.Runtime
	http *HTTPServer
}

// NewAgent constructs the agent and runs the Init phase: wire the service
// locator, discover plugins, install core middleware, and assemble the HTTP
// pipeline. Nothing is persisted or served yet.
func NewAgent(config *Config, logger hclog.Logger) (*Agent, error) {
	rt, err := runtime.New(logger, runtime.Config{
		PublicURL:     config.PublicServerURI,
		RefreshSecret: config.RefreshSecret,
		AccessSecret:  config.AccessSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("runtime setup failed: %w", err)
	}

	a := &Agent{
		logger: logger.Named("agent"),
		config: config,
		rt:     rt,
	}

	if err := rt.Catalog.Discover(config.PluginRoots); err != nil {
		// Bad manifests are logged and skipped; discovery itself continues.
		a.logger.Warn("plugin discovery reported errors", "error", err)
	}

	if err := rt.Middleware.RegisterCore(logger.StandardWriter(&hclog.StandardLoggerOptions{})); err != nil {
		return nil, err
	}
	if err := rt.Middleware.RegisterHook("api", 0); err != nil {
		return nil, err
	}

	srv, err := NewHTTPServer(a)
	if err != nil {
		return nil, err
	}
	a.http = srv
	return a, nil
}

// Runtime exposes the service locator, e.g. for built-in plugin wiring.
func (a *Agent) Runtime() *runtime.Runtime {
	return a.rt
}

// Start runs the boot sequence: reconcile plugins with their rows, load
// capabilities, begin serving HTTP, and start the search coordinator.
func (a *Agent) Start(ctx context.Context) error {
	a.logger.Info("starting runtime", "version", version.Version, "app", a.config.AppID)

	if err := a.rt.Catalog.Load(ctx); err != nil {
		return fmt.Errorf("plugin load failed: %w", err)
	}

	a.rt.Hooks.Run(ctx, HookBeforeCapabilityLoad, a.rt.Capabilities)
	a.rt.Hooks.Run(ctx, HookStart, a.rt)

	if err := a.http.Serve(); err != nil {
		return err
	}

	if err := a.rt.Search.Start(ctx); err != nil {
		return fmt.Errorf("search coordinator start failed: %w", err)
	}

	a.rt.Hooks.Run(ctx, HookRunning, a.rt)
	a.logger.Info("runtime ready", "addr", a.http.Addr())
	return nil
}

// Shutdown stops the scheduler, the HTTP server, and fires the shutdown
// hook.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")
	a.rt.Pulse.Shutdown()

	var err error
	if a.http != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if e := a.http.Shutdown(shutdownCtx); e != nil && e != http.ErrServerClosed {
			err = e
		}
	}

	a.rt.Hooks.Run(ctx, HookShutdown, a.rt)
	return err
}
