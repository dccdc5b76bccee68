// Package catalog defines the resource and catalog types consumed by the
// coverage registry. A catalog is the compiled graph of resources produced by
// evaluating a declarative manifest for one test scenario; this package only
// models the slice of it that coverage accounting needs.
package catalog

import "fmt"

// Resource is one declarative configuration unit, uniquely identified by its
// type and title.
type Resource struct {
	// Type is the resource type, e.g. "Class" or "File".
	Type string
	// Title is the resource title, e.g. "apache::service" or "/etc/motd".
	Title string
	// File is the manifest path the resource was declared in. Empty when the
	// evaluation engine has no source location for it.
	File string
}

// String returns the canonical Type[Title] identifier.
func (r Resource) String() string {
	return fmt.Sprintf("%s[%s]", r.Type, r.Title)
}

// Catalog exposes the resources of one compiled catalog for enumeration.
// The manifest-evaluation engine provides the real implementation.
type Catalog interface {
	Resources() []Resource
}

// SliceCatalog is a trivial Catalog backed by a slice.
type SliceCatalog []Resource

var _ Catalog = (SliceCatalog)(nil)

// Resources returns the backing slice.
func (c SliceCatalog) Resources() []Resource {
	return c
}

// PathResolver resolves the manifest locations owned by a test module. The
// external module loader provides the real implementation.
type PathResolver interface {
	// ModuleDirs returns the candidate directories modules are installed
	// under, e.g. ["modules", "site"].
	ModuleDirs() []string
	// SiteManifest returns the top-level site manifest path, or "" when the
	// layout has none.
	SiteManifest() string
}

// StaticPathResolver is a PathResolver with fixed paths.
type StaticPathResolver struct {
	Dirs []string
	Site string
}

var _ PathResolver = (*StaticPathResolver)(nil)

// ModuleDirs returns the configured module directories.
func (r *StaticPathResolver) ModuleDirs() []string {
	return r.Dirs
}

// SiteManifest returns the configured site manifest path.
func (r *StaticPathResolver) SiteManifest() string {
	return r.Site
}
