// Package coverage is the embedding API for test harnesses. A Tracker owns
// one process's coverage state: the resource registry, the filter set, and
// the exchange store used to combine parallel workers. Harnesses construct
// one Tracker per process and pass it into their catalog-evaluation and
// assertion layers; there is no ambient global instance.
package coverage

import (
	"context"
	"fmt"
	"io"

	"github.com/catalogtools/catcov/internal/config"
	"github.com/catalogtools/catcov/internal/coordinator"
	"github.com/catalogtools/catcov/internal/exchange"
	"github.com/catalogtools/catcov/internal/filtering"
	"github.com/catalogtools/catcov/internal/registry"
	"github.com/catalogtools/catcov/internal/report"
	"github.com/catalogtools/catcov/pkg/catalog"
)

// Report is the aggregate coverage result produced by a finalized run.
type Report = report.Report

// CheckResult is the outcome of a coverage threshold check.
type CheckResult = report.CheckResult

// CheckOutcome is the disposition of a threshold check.
type CheckOutcome = report.CheckOutcome

// Threshold check outcomes.
const (
	CheckPassed  = report.CheckPassed
	CheckFailed  = report.CheckFailed
	CheckSkipped = report.CheckSkipped
)

// TestSink receives a failed threshold check as a test failure. *testing.T
// satisfies it.
type TestSink = report.TestSink

// ParallelSignal is the external runner's parallelism signal.
type ParallelSignal = coordinator.ParallelSignal

// StaticSignal is a ParallelSignal with fixed answers.
type StaticSignal = coordinator.StaticSignal

// Tracker tracks resource coverage for one test process.
type Tracker struct {
	cfg      *config.Config
	filters  *filtering.FilterSet
	registry *registry.Registry
	store    *exchange.Store
	resolver catalog.PathResolver
	workerID *int

	signal ParallelSignal
	sink   TestSink
	out    io.Writer
}

// Option configures a Tracker.
type Option func(*Tracker) error

// WithConfigFile loads tracker settings from a YAML configuration file.
func WithConfigFile(path string) Option {
	return func(t *Tracker) error {
		cfg, err := config.LoadConfig(config.WithConfigPath(path))
		if err != nil {
			return err
		}
		t.cfg = cfg
		return nil
	}
}

// WithModule sets the module under test, enabling module-scoped catalog
// filtering.
func WithModule(name string) Option {
	return func(t *Tracker) error {
		t.cfg.Module = name
		return nil
	}
}

// WithDesiredCoverage sets the threshold checked when the run finalizes.
func WithDesiredCoverage(desired float64) Option {
	return func(t *Tracker) error {
		t.cfg.DesiredCoverage = desired
		return nil
	}
}

// WithExchangeDir sets the directory parallel workers persist state to.
func WithExchangeDir(dir string) Option {
	return func(t *Tracker) error {
		t.cfg.ExchangeDir = dir
		return nil
	}
}

// WithExcludePatterns adds glob patterns excluded from coverage.
func WithExcludePatterns(patterns ...string) Option {
	return func(t *Tracker) error {
		t.cfg.ExcludePatterns = append(t.cfg.ExcludePatterns, patterns...)
		return nil
	}
}

// WithWorkerID overrides the process id used in the worker fingerprint, for
// runners that manage worker identity themselves.
func WithWorkerID(pid int) Option {
	return func(t *Tracker) error {
		t.workerID = &pid
		return nil
	}
}

// WithPathResolver sets the manifest-path resolver supplied by the external
// module loader. Defaults to the configuration's static paths.
func WithPathResolver(resolver catalog.PathResolver) Option {
	return func(t *Tracker) error {
		t.resolver = resolver
		return nil
	}
}

// WithSignal sets the external parallelism signal. Without one the tracker
// always reports directly.
func WithSignal(signal ParallelSignal) Option {
	return func(t *Tracker) error {
		t.signal = signal
		return nil
	}
}

// WithSink sets the test sink failed threshold checks report into.
func WithSink(sink TestSink) Option {
	return func(t *Tracker) error {
		t.sink = sink
		return nil
	}
}

// WithOutput sets the writer the report text is printed to.
func WithOutput(out io.Writer) Option {
	return func(t *Tracker) error {
		t.out = out
		return nil
	}
}

// New creates a Tracker. Options are applied in order, so a WithConfigFile
// followed by specific setters lets callers override file settings.
func New(opts ...Option) (*Tracker, error) {
	t := &Tracker{
		cfg: config.Default(),
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, fmt.Errorf("failed to configure coverage tracker: %w", err)
		}
	}

	t.filters = filtering.New()
	for _, rule := range t.cfg.Filters {
		t.filters.AddFilter(rule.Type, rule.Title)
	}
	if err := t.filters.AddGlobPatterns(t.cfg.ExcludePatterns); err != nil {
		return nil, err
	}

	t.registry = registry.New(t.filters)

	storeOpts := []exchange.Option{exchange.WithDir(t.cfg.ExchangeDir)}
	if t.workerID != nil {
		storeOpts = append(storeOpts, exchange.WithProcessID(*t.workerID))
	}
	store, err := exchange.NewStore(storeOpts...)
	if err != nil {
		return nil, err
	}
	t.store = store

	if t.resolver == nil {
		t.resolver = t.cfg.PathResolver()
	}
	return t, nil
}

// Add registers a resource for coverage accounting.
func (t *Tracker) Add(res catalog.Resource) {
	t.registry.Add(res)
}

// Touch marks a resource as exercised by an assertion. Unknown and filtered
// resources are silently ignored.
func (t *Tracker) Touch(res catalog.Resource) {
	t.registry.Touch(res)
}

// AddFromCatalog registers every resource of a compiled catalog that the
// module-scope rules do not exclude.
func (t *Tracker) AddFromCatalog(cat catalog.Catalog) {
	t.registry.AddFromCatalog(cat, t.cfg.Module, t.resolver)
}

// AddFilter excludes Type[Title] from coverage, normalizing the identifier,
// and purges any matching resource already collected.
func (t *Tracker) AddFilter(resType, title string) {
	t.filters.AddFilter(resType, title)
	t.registry.Purge()
}

// DesiredCoverage returns the configured coverage threshold.
func (t *Tracker) DesiredCoverage() float64 {
	return t.cfg.DesiredCoverage
}

// Results computes the coverage report for the state collected so far,
// without touching the exchange store.
func (t *Tracker) Results() *Report {
	return t.registry.Results()
}

// Finalize ends the run: report directly, merge as leader, or persist as
// follower, depending on the parallelism signal. Followers get a nil report
// and a skipped check. The returned CheckResult is the single threshold
// evaluation for the run, already emitted into the sink when one is set.
func (t *Tracker) Finalize(ctx context.Context) (*Report, CheckResult, error) {
	opts := []coordinator.Option{
		coordinator.WithDesiredCoverage(t.cfg.DesiredCoverage),
	}
	if t.signal != nil {
		opts = append(opts, coordinator.WithSignal(t.signal))
	}
	if t.sink != nil {
		opts = append(opts, coordinator.WithSink(t.sink))
	}
	if t.out != nil {
		opts = append(opts, coordinator.WithOutput(t.out))
	}
	return coordinator.New(t.registry, t.store, opts...).Finalize(ctx)
}

// ExpectedWorkersBarrier returns a barrier that waits until the given number
// of worker snapshots has been persisted to the exchange directory. Useful as
// the StaticSignal barrier for runners without a native completion signal.
func (t *Tracker) ExpectedWorkersBarrier(expected int) func(ctx context.Context) error {
	return coordinator.NewPollingBarrier(t.store, expected).Wait
}
