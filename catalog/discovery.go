package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	multierror "github.com/hashicorp/go-multierror"

	"github.com/strata-cms/strata/structs"
)

// Root is one directory tree scanned for plugin artifacts. Builtin roots
// produce built-in registrations.
type Root struct {
	Dir     string
	Builtin bool
}

// Default discovery glob patterns, relative to each root.
const (
	PatternPluginManifest = "**/*plugin.json"
	PatternExcludeAssets  = "**/assets/**"
)

// manifest is the on-disk shape of a plugin registration. Its Active field
// is the registration default, not the persisted state.
type manifest struct {
	structs.Plugin
	Active *bool `json:"active"`
}

// Discover scans the given roots for plugin manifests and registers each
// into the catalog. A bad manifest is logged and skipped; discovery
// continues. The aggregated error reports every skipped file.
func (c *Catalog) Discover(roots []Root) error {
	var mErr *multierror.Error

	for _, root := range roots {
		paths, err := globRoot(root.Dir, PatternPluginManifest)
		if err != nil {
			c.logger.Error("plugin discovery failed for root", "root", root.Dir, "error", err)
			mErr = multierror.Append(mErr, err)
			continue
		}

		for _, rel := range paths {
			if excluded, _ := doublestar.Match(PatternExcludeAssets, rel); excluded {
				continue
			}
			full := filepath.Join(root.Dir, rel)
			if err := c.registerManifest(full, root.Builtin); err != nil {
				c.logger.Error("skipping plugin manifest", "file", full, "error", err)
				mErr = multierror.Append(mErr, fmt.Errorf("%s: %w", full, err))
			}
		}
	}

	return mErr.ErrorOrNil()
}

func (c *Catalog) registerManifest(path string, builtin bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("manifest decode failed: %w", err)
	}

	defaultActive := false
	if m.Active != nil {
		defaultActive = *m.Active
	}

	p := m.Plugin
	if builtin {
		return c.RegisterBuiltin(&p, defaultActive)
	}
	return c.Register(&p, defaultActive)
}

func globRoot(dir, pattern string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		// A missing root is not an error; app trees are optional.
		return nil, nil
	}
	return doublestar.Glob(os.DirFS(dir), pattern,
		doublestar.WithFilesOnly(), doublestar.WithNoFollow())
}
