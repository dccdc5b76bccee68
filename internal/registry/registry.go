package registry

import (
	"log/slog"

	"github.com/catalogtools/catcov/internal/filtering"
	"github.com/catalogtools/catcov/internal/report"
	"github.com/catalogtools/catcov/pkg/catalog"
)

// Entry is the coverage state of one registered resource. This is also the
// on-disk form used by the exchange files.
type Entry struct {
	Touched bool `json:"touched"`
}

// Registry maps resource identifiers to their coverage state and applies the
// active filter set on insert and on report.
type Registry struct {
	entries map[string]*Entry
	filters *filtering.FilterSet
}

// New creates an empty registry over the given filter set. A nil filter set
// gets the default seed.
func New(filters *filtering.FilterSet) *Registry {
	if filters == nil {
		filters = filtering.New()
	}
	return &Registry{
		entries: make(map[string]*Entry),
		filters: filters,
	}
}

// Filters returns the registry's filter set.
func (r *Registry) Filters() *filtering.FilterSet {
	return r.filters
}

// Add registers a resource for coverage accounting. Filtered and
// already-registered resources are ignored, so repeated adds are harmless.
func (r *Registry) Add(res catalog.Resource) {
	r.AddIdentifier(res.String())
}

// AddIdentifier registers a resource by its canonical identifier.
func (r *Registry) AddIdentifier(identifier string) {
	if r.filters.Matches(identifier) {
		return
	}
	if _, ok := r.entries[identifier]; ok {
		return
	}
	r.entries[identifier] = &Entry{}
}

// Touch marks a resource as exercised by an assertion. Touching a resource
// that was never registered (typically because it was filtered at add time)
// is silently ignored: callers cannot know which resources are filtered.
func (r *Registry) Touch(res catalog.Resource) {
	r.TouchIdentifier(res.String())
}

// TouchIdentifier marks a resource touched by its canonical identifier.
func (r *Registry) TouchIdentifier(identifier string) {
	if r.filters.Matches(identifier) {
		return
	}
	if entry, ok := r.entries[identifier]; ok {
		entry.Touched = true
	}
}

// AddFromCatalog registers every resource of a compiled catalog that the
// module-scope rules do not exclude. An empty testModule disables the scope
// rules; only the filter set applies.
func (r *Registry) AddFromCatalog(cat catalog.Catalog, testModule string, resolver catalog.PathResolver) {
	scope := filtering.NewScopeFilter(r.filters, resolver)
	for _, res := range cat.Resources() {
		if excluded, reason := scope.ShouldExclude(res, testModule); excluded {
			slog.Debug("Excluding resource from coverage",
				"resource", res.String(),
				"module", testModule,
				"reason", reason)
			continue
		}
		r.Add(res)
	}
}

// Purge removes entries whose identifier matches the filter set and returns
// how many were removed. Filters added after collection, notably those merged
// in from other worker processes, take effect here.
func (r *Registry) Purge() int {
	removed := 0
	for identifier := range r.entries {
		if r.filters.Matches(identifier) {
			delete(r.entries, identifier)
			removed++
		}
	}
	return removed
}

// Len returns the number of registered entries.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Snapshot returns a copy of the registry's state keyed by identifier.
func (r *Registry) Snapshot() map[string]Entry {
	snapshot := make(map[string]Entry, len(r.entries))
	for identifier, entry := range r.entries {
		snapshot[identifier] = *entry
	}
	return snapshot
}

// Results purges newly-filtered entries and computes the coverage report.
func (r *Registry) Results() *report.Report {
	if removed := r.Purge(); removed > 0 {
		slog.Debug("Purged filtered resources before reporting", "removed", removed)
	}
	states := make(map[string]bool, len(r.entries))
	for identifier, entry := range r.entries {
		states[identifier] = entry.Touched
	}
	return report.Compute(states)
}
