// Package filtering decides which catalog resources are excluded from
// coverage accounting.
//
// Two mechanisms cooperate:
//
//   - FilterSet: an exact-match set of Type[Title] identifiers, seeded with
//     the framework-internal resources nobody writes assertions for
//     (Stage[main], Class[Settings], ...), extended at runtime via AddFilter,
//     and optionally by glob patterns supplied through configuration.
//
//   - ScopeFilter: the catalog-scoped predicate applied while harvesting a
//     compiled catalog. It excludes resources the module under test does not
//     own: classes from other modules, and resources declared in manifests
//     outside the module's manifest directories.
//
// Filter decisions come with a human-readable reason so exclusions can be
// traced from debug logs.
package filtering
