package syndicate

import (
	"context"
	"sort"

	"github.com/strata-cms/strata/capability"
	"github.com/strata-cms/strata/hook"
	"github.com/strata-cms/strata/state"
	"github.com/strata-cms/strata/structs"
)

// TypesSettingKey whitelists syndicatable content types: a map of
// machineName to bool. When the setting is unset every type is syndicated.
const TypesSettingKey = "Syndicate.types"

// HookContentList lets plugins enrich a content listing, typically with
// public URLs per item.
const HookContentList = "syndicate-content-list"

// TaxonomyType is the machine name of the taxonomy content family.
const TaxonomyType = "taxonomy"

// ListResult is the mutable payload of a syndicate-content-list dispatch.
type ListResult struct {
	Type  string
	Items []*structs.Content

	// URLs maps content ids to public URLs, filled in by enrichment hooks.
	URLs map[string]string
}

// ContentAPI is the read surface served to syndication clients. Every call
// requires a valid access token and then operates with master privileges
// against the store.
type ContentAPI struct {
	svc      *Service
	hooks    *hook.Engine
	settings *state.Settings
}

// NewContentAPI returns the syndication content endpoints.
func NewContentAPI(svc *Service, hooks *hook.Engine, settings *state.Settings) *ContentAPI {
	return &ContentAPI{svc: svc, hooks: hooks, settings: settings}
}

func (c *ContentAPI) authorize(ctx context.Context, accessToken string, ident *capability.Identity) error {
	if _, ok := c.svc.Verify(ctx, accessToken, ident); !ok {
		return structs.ErrPermissionDenied
	}
	return nil
}

// allowed reports whether machineName is whitelisted for syndication.
func (c *ContentAPI) allowed(machineName string) bool {
	whitelist := c.settings.GetStringMapBool(TypesSettingKey)
	if whitelist == nil {
		return true
	}
	return whitelist[machineName]
}

// Types returns the whitelisted content types.
func (c *ContentAPI) Types(ctx context.Context, accessToken string, ident *capability.Identity) ([]*structs.ContentType, error) {
	if err := c.authorize(ctx, accessToken, ident); err != nil {
		return nil, err
	}

	all, err := c.svc.triggered.Store().ContentTypes()
	if err != nil {
		return nil, err
	}

	out := make([]*structs.ContentType, 0, len(all))
	for _, ct := range all {
		if c.allowed(ct.MachineName) {
			out = append(out, ct)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MachineName < out[j].MachineName })
	return out, nil
}

// List returns the content of one whitelisted type, enriched by the
// syndicate-content-list hook.
func (c *ContentAPI) List(ctx context.Context, accessToken string, ident *capability.Identity, machineName string) (*ListResult, error) {
	if err := c.authorize(ctx, accessToken, ident); err != nil {
		return nil, err
	}
	if !c.allowed(machineName) {
		return nil, structs.ErrPermissionDenied
	}

	items, err := c.svc.triggered.Store().ContentByType(machineName)
	if err != nil {
		return nil, err
	}

	result := &ListResult{
		Type:  machineName,
		Items: items,
		URLs:  make(map[string]string, len(items)),
	}
	c.hooks.Run(ctx, HookContentList, result)
	return result, nil
}

// Media returns the stored blobs' metadata. Blob data is not shipped; the
// client fetches by location.
func (c *ContentAPI) Media(ctx context.Context, accessToken string, ident *capability.Identity) ([]*structs.Blob, error) {
	if err := c.authorize(ctx, accessToken, ident); err != nil {
		return nil, err
	}

	blobs, err := c.svc.triggered.Store().Blobs()
	if err != nil {
		return nil, err
	}
	for _, b := range blobs {
		b.Data = nil
	}
	return blobs, nil
}

// Taxonomies returns the taxonomy content family.
func (c *ContentAPI) Taxonomies(ctx context.Context, accessToken string, ident *capability.Identity) (*ListResult, error) {
	return c.List(ctx, accessToken, ident, TaxonomyType)
}
