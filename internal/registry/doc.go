// Package registry owns the coverage registry: the deduplicated set of
// catalog resources collected during a test run and their touched state.
//
// The registry is process-local and single-threaded. Cross-process runs
// combine registries through the exchange package, never by sharing one.
package registry
