package filtering

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gobwas/glob"
)

// defaultFilters are the framework-internal resources present in every
// compiled catalog. They are never meaningful coverage targets.
var defaultFilters = []string{
	"Stage[main]",
	"Class[Settings]",
	"Class[main]",
	"Node[default]",
}

// FilterSet is the set of resource identifiers excluded from coverage.
// Matching is exact string comparison against Type[Title] identifiers, plus
// optional glob patterns supplied through configuration. Not safe for
// concurrent use; coverage collection is single-threaded per process.
type FilterSet struct {
	static []string
	added  []string

	globSrc []string
	globs   []glob.Glob
}

// New creates a FilterSet seeded with the default exclusions.
func New() *FilterSet {
	return &FilterSet{
		static: append([]string(nil), defaultFilters...),
	}
}

// AddFilter registers Type[Title] as excluded. The type is normalized by
// capitalizing each ::-delimited segment; class titles receive the same
// normalization so "class"/"foo::bar" and Class[Foo::Bar] agree. Duplicates
// are not checked for; the set is matched by membership so they are harmless.
func (f *FilterSet) AddFilter(resType, title string) {
	resType = normalizeSegments(resType)
	if resType == "Class" {
		title = normalizeSegments(title)
	}
	f.added = append(f.added, fmt.Sprintf("%s[%s]", resType, title))
}

// AddPattern registers an already-normalized identifier pattern. Used when
// ingesting filter snapshots persisted by other worker processes.
func (f *FilterSet) AddPattern(pattern string) {
	f.added = append(f.added, pattern)
}

// AddGlobPatterns compiles and registers glob patterns matched against full
// identifiers, e.g. "Anchor[*]" or "Class[profile::*]".
func (f *FilterSet) AddGlobPatterns(patterns []string) error {
	for _, p := range patterns {
		compiled, err := glob.Compile(p)
		if err != nil {
			return fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		f.globSrc = append(f.globSrc, p)
		f.globs = append(f.globs, compiled)
	}
	return nil
}

// Matches reports whether the identifier is excluded from coverage.
func (f *FilterSet) Matches(identifier string) bool {
	for _, p := range f.static {
		if p == identifier {
			return true
		}
	}
	for _, p := range f.added {
		if p == identifier {
			return true
		}
	}
	for _, g := range f.globs {
		if g.Match(identifier) {
			return true
		}
	}
	return false
}

// Added returns the patterns registered at runtime, in insertion order. The
// static seed and configuration globs are excluded: every worker process
// carries those already, only runtime additions need to travel between
// processes. Never nil, so the persisted form is always a JSON array.
func (f *FilterSet) Added() []string {
	return append([]string{}, f.added...)
}

// GlobPatterns returns the textual form of the registered glob patterns.
func (f *FilterSet) GlobPatterns() []string {
	return append([]string(nil), f.globSrc...)
}

// normalizeSegments capitalizes each ::-delimited segment independently:
// "foo::barBaz" becomes "Foo::Barbaz".
func normalizeSegments(s string) string {
	segments := strings.Split(s, "::")
	for i, seg := range segments {
		segments[i] = capitalize(seg)
	}
	return strings.Join(segments, "::")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
