// Package version holds the runtime's own semantic version. The plugin
// catalog gates registrations against it.
package version

import goversion "github.com/hashicorp/go-version"

// Version is the semantic version of the running runtime.
const Version = "1.3.0"

// Runtime is Version parsed once at init.
var Runtime = goversion.Must(goversion.NewVersion(Version))

// DefaultCompat is the runtime-compat constraint assigned to built-in
// plugins so they always track the running release.
func DefaultCompat() string {
	return ">= " + Version
}
