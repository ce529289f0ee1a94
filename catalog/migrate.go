package catalog

import (
	"context"
	"sort"

	goversion "github.com/hashicorp/go-version"

	"github.com/strata-cms/strata/hook"
	"github.com/strata-cms/strata/structs"
)

// Migration is one step of a plugin's update path, keyed by the version it
// migrates to.
type Migration struct {
	// Test decides whether the step runs. Nil defaults to "step version is
	// greater than the previously stored version".
	Test func(newV, oldV, step *goversion.Version) bool

	// Migrate performs the step.
	Migrate func(ctx context.Context, p, old *structs.Plugin) error
}

// OnUpdate registers an update-hook callback that walks the given
// migrations in ascending semver order, awaiting each step whose test
// passes. Steps with malformed version keys are skipped at registration.
func (c *Catalog) OnUpdate(pluginID string, migrations map[string]Migration) (string, error) {
	steps := make([]*goversion.Version, 0, len(migrations))
	byVersion := make(map[string]Migration, len(migrations))
	for vs, m := range migrations {
		v, err := goversion.NewVersion(vs)
		if err != nil {
			c.logger.Warn("skipping migration with invalid version", "plugin", pluginID, "version", vs)
			continue
		}
		steps = append(steps, v)
		byVersion[v.Original()] = m
	}
	sort.Sort(goversion.Collection(steps))

	return c.hooks.Register(HookUpdate, func(ctx context.Context, hc *hook.Context) error {
		p := PluginParam(hc)
		if p == nil || p.ID != pluginID {
			return nil
		}
		old := OldPluginParam(hc)

		newV, err := goversion.NewVersion(p.Version.Plugin)
		if err != nil {
			return err
		}
		oldV, err := goversion.NewVersion(old.Version.Plugin)
		if err != nil {
			return err
		}

		for _, step := range steps {
			m := byVersion[step.Original()]
			run := step.GreaterThan(oldV)
			if m.Test != nil {
				run = m.Test(newV, oldV, step)
			}
			if !run {
				continue
			}
			if err := m.Migrate(ctx, p, old); err != nil {
				return err
			}
		}
		return nil
	}, hook.WithDomain(pluginID))
}
