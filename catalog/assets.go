package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/strata-cms/strata/hook"
	"github.com/strata-cms/strata/structs"
)

// MetaAsset describes one file published into blob storage when its plugin
// activates or updates. The add-meta-asset hook may rewrite TargetFileName
// before upload.
type MetaAsset struct {
	PluginID       string
	FilePath       string
	ObjectPath     string
	TargetFileName string
}

// versionSuffix matches a "-<semver>" suffix on a file stem, so re-applying
// the default transform replaces the old version instead of stacking.
var versionSuffix = regexp.MustCompile(`-\d+\.\d+\.\d+(?:[-+][0-9A-Za-z.-]+)?$`)

// installAssetTransform registers the default add-meta-asset transform: the
// plugin version is appended to the file stem for cache busting. The
// transform is idempotent across repeated activations.
func (c *Catalog) installAssetTransform() {
	c.hooks.Register("add-meta-asset", func(_ context.Context, hc *hook.Context) error {
		asset, ok := hc.Param(0).(*MetaAsset)
		if !ok {
			return nil
		}
		p, ok := hc.Param(1).(*structs.Plugin)
		if !ok {
			return nil
		}

		ext := filepath.Ext(asset.TargetFileName)
		stem := strings.TrimSuffix(asset.TargetFileName, ext)
		stem = versionSuffix.ReplaceAllString(stem, "")
		asset.TargetFileName = fmt.Sprintf("%s-%s%s", stem, p.Version.Plugin, ext)
		return nil
	}, hook.WithOrder(hook.Core), hook.WithID("catalog-asset-version-suffix"))
}

// AddMetaAsset arranges for the file at localPath to be uploaded under
// plugins/<id>/ whenever the plugin activates or updates, and for the
// resulting URL to be written into the plugin's meta assets at objectPath.
func (c *Catalog) AddMetaAsset(pluginID, localPath, objectPath string) error {
	if pluginID == "" || localPath == "" || objectPath == "" {
		return fmt.Errorf("meta asset requires plugin id, file path, and object path")
	}

	publish := func(ctx context.Context, hc *hook.Context) error {
		p := PluginParam(hc)
		if p == nil || p.ID != pluginID {
			return nil
		}

		c.mu.RLock()
		uploader := c.uploader
		c.mu.RUnlock()
		if uploader == nil {
			return fmt.Errorf("no storage adapter available for meta asset %s", objectPath)
		}

		asset := &MetaAsset{
			PluginID:       pluginID,
			FilePath:       localPath,
			ObjectPath:     objectPath,
			TargetFileName: filepath.Base(localPath),
		}
		c.hooks.Run(ctx, "add-meta-asset", asset, p)

		data, err := os.ReadFile(asset.FilePath)
		if err != nil {
			return fmt.Errorf("meta asset read failed: %w", err)
		}

		target := fmt.Sprintf("plugins/%s/%s", pluginID, asset.TargetFileName)
		url, err := uploader.CreateFile(ctx, target, data)
		if err != nil {
			return fmt.Errorf("meta asset upload failed: %w", err)
		}

		if p.Meta.Assets == nil {
			p.Meta.Assets = make(map[string]string)
		}
		p.Meta.Assets[objectPath] = url
		c.logger.Debug("published meta asset", "plugin", pluginID, "asset", objectPath, "url", url)
		return nil
	}

	if _, err := c.hooks.Register(HookActivate, publish, hook.WithDomain(pluginID)); err != nil {
		return err
	}
	if _, err := c.hooks.Register(HookUpdate, publish, hook.WithDomain(pluginID)); err != nil {
		return err
	}
	return nil
}
