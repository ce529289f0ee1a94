// Package structs holds the record types shared between the plugin catalog,
// the document store, and the HTTP layer.
package structs

import (
	"errors"
	"time"
)

var (
	// ErrPermissionDenied is returned when an operation is not permitted for
	// the caller's identity. The exact string is part of the API surface.
	ErrPermissionDenied = errors.New("Permission denied.")

	// ErrBuiltinDelete is returned when a delete is attempted against a
	// built-in plugin row.
	ErrBuiltinDelete = errors.New("cannot delete builtin plugin")
)

// PluginVersion carries the two semver facets of a plugin registration: the
// version of the plugin itself and the range of runtime versions it is
// compatible with.
type PluginVersion struct {
	// Plugin is the plugin's own semantic version.
	Plugin string `json:"plugin"`

	// Compat is a semver constraint the running runtime must satisfy, e.g.
	// ">= 1.2.0". Registrations whose constraint the runtime does not
	// satisfy are rejected.
	Compat string `json:"compat"`
}

// PluginMeta is the open metadata bag attached to a plugin registration.
type PluginMeta struct {
	// Group is a display grouping, "core" for built-in plugins.
	Group string `json:"group,omitempty"`

	// Builtin marks plugins that ship with the runtime. Built-in plugins
	// cannot be deleted, only deactivated.
	Builtin bool `json:"builtin"`

	// Assets maps asset keys to storage URLs published via the catalog's
	// meta-asset helper. Nested keys use "a.b.c" paths.
	Assets map[string]string `json:"assets,omitempty"`

	// Extra carries plugin-defined metadata that the runtime round-trips
	// without interpreting.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// Plugin is a plugin registration. The in-memory catalog owns the cached
// copy; the persistent row is the source of truth for Active.
type Plugin struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Order       int           `json:"order"`
	Version     PluginVersion `json:"version"`
	Meta        PluginMeta    `json:"meta"`
	Active      bool          `json:"active"`
}

// Copy returns a deep copy of the plugin.
func (p *Plugin) Copy() *Plugin {
	if p == nil {
		return nil
	}
	np := *p
	if p.Meta.Assets != nil {
		np.Meta.Assets = make(map[string]string, len(p.Meta.Assets))
		for k, v := range p.Meta.Assets {
			np.Meta.Assets[k] = v
		}
	}
	if p.Meta.Extra != nil {
		np.Meta.Extra = make(map[string]interface{}, len(p.Meta.Extra))
		for k, v := range p.Meta.Extra {
			np.Meta.Extra[k] = v
		}
	}
	return &np
}

// SyndicateClient is a registered consumer of syndicated content. The
// refresh token is long lived and signed with the refresh secret.
type SyndicateClient struct {
	ObjectID     string    `json:"objectId"`
	Username     string    `json:"username"`
	ClientName   string    `json:"client"`
	RefreshToken string    `json:"token"`
	CreateTime   time.Time `json:"createTime"`
}

// Setting is a single key/value runtime setting.
type Setting struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

// FieldType describes one field of a content type, used by the search
// coordinator to decide how to normalize values.
type FieldType struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ContentType describes a family of content documents.
type ContentType struct {
	MachineName string      `json:"machineName"`
	Label       string      `json:"label"`
	Fields      []FieldType `json:"fields"`
}

// Content is a single content document belonging to a content type.
type Content struct {
	ID     string                 `json:"id"`
	Type   string                 `json:"type"`
	Slug   string                 `json:"slug"`
	Title  string                 `json:"title"`
	Status string                 `json:"status"`
	Fields map[string]interface{} `json:"fields"`
}

// Blob is a file stored by the default database-backed storage adapter.
type Blob struct {
	Path        string    `json:"path"`
	ContentType string    `json:"contentType"`
	Data        []byte    `json:"-"`
	ModTime     time.Time `json:"modTime"`
}
