package filtering

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/catalogtools/catcov/pkg/catalog"
)

// ScopeFilter applies module-scoped exclusion rules while harvesting a
// compiled catalog. The rules are independent; any one excludes.
type ScopeFilter struct {
	filters  *FilterSet
	resolver catalog.PathResolver
}

// NewScopeFilter creates a ScopeFilter over the given filter set. resolver
// may be nil when no manifest-path information is available; the path rule is
// then skipped.
func NewScopeFilter(filters *FilterSet, resolver catalog.PathResolver) *ScopeFilter {
	return &ScopeFilter{
		filters:  filters,
		resolver: resolver,
	}
}

// ShouldExclude determines whether a resource is excluded from coverage for
// the given test module, with the reason for the decision. An empty
// testModule disables the module-scope rules; only the filter set applies.
func (s *ScopeFilter) ShouldExclude(res catalog.Resource, testModule string) (bool, string) {
	identifier := res.String()

	if s.filters.Matches(identifier) {
		return true, "identifier matches filter set"
	}

	if testModule == "" {
		return false, "no test module scope"
	}

	// Classes are owned by the module their first namespace segment names.
	if res.Type == "Class" {
		owner := strings.ToLower(strings.SplitN(res.Title, "::", 2)[0])
		if owner != testModule {
			return true, fmt.Sprintf("class owned by module %q, not %q", owner, testModule)
		}
	}

	if res.File != "" && s.resolver != nil {
		owned := s.ownedManifestPaths(testModule)
		for _, p := range owned {
			if strings.Contains(res.File, p) {
				return false, fmt.Sprintf("declared under %s", p)
			}
		}
		return true, "declared outside the module's manifests"
	}

	return false, "owned by module under test"
}

// ownedManifestPaths returns the manifest locations considered owned by the
// module under test: <dir>/<module>/manifests for each module directory, plus
// the site manifest when the layout has one.
func (s *ScopeFilter) ownedManifestPaths(testModule string) []string {
	var paths []string
	for _, dir := range s.resolver.ModuleDirs() {
		paths = append(paths, filepath.Join(dir, testModule, "manifests"))
	}
	if site := s.resolver.SiteManifest(); site != "" {
		paths = append(paths, site)
	}
	return paths
}
