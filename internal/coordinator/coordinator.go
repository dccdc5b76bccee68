// Package coordinator decides how a test process finalizes coverage: report
// directly, merge all workers' state as the leader, or persist partial state
// as a follower.
package coordinator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/catalogtools/catcov/internal/exchange"
	"github.com/catalogtools/catcov/internal/filtering"
	"github.com/catalogtools/catcov/internal/registry"
	"github.com/catalogtools/catcov/internal/report"
)

// ParallelSignal is the external test-runner's view of the current process:
// whether the suite runs as parallel workers, whether this process is the
// designated leader, and a barrier that blocks until the other workers have
// finished. Exactly-one-leader is the runner's contract, not enforced here.
type ParallelSignal interface {
	Parallel() bool
	Leader() bool
	WaitForOthers(ctx context.Context) error
}

// StaticSignal is a ParallelSignal with fixed answers and an optional
// barrier function. A nil Barrier waits for nobody.
type StaticSignal struct {
	IsParallel bool
	IsLeader   bool
	Barrier    func(ctx context.Context) error
}

var _ ParallelSignal = (*StaticSignal)(nil)

// Parallel reports whether the suite runs as parallel workers.
func (s *StaticSignal) Parallel() bool { return s.IsParallel }

// Leader reports whether this process is the designated leader.
func (s *StaticSignal) Leader() bool { return s.IsLeader }

// WaitForOthers blocks on the configured barrier, if any.
func (s *StaticSignal) WaitForOthers(ctx context.Context) error {
	if s.Barrier == nil {
		return nil
	}
	return s.Barrier(ctx)
}

// Coordinator finalizes one process's coverage run.
type Coordinator struct {
	registry *registry.Registry
	filters  *filtering.FilterSet
	store    *exchange.Store

	signal  ParallelSignal
	desired float64
	out     io.Writer
	sink    report.TestSink
}

// Option configures the coordinator.
type Option func(*Coordinator)

// WithSignal sets the parallelism signal. Without one, the process always
// reports directly.
func WithSignal(signal ParallelSignal) Option {
	return func(c *Coordinator) {
		c.signal = signal
	}
}

// WithDesiredCoverage sets the coverage threshold to check at report time.
func WithDesiredCoverage(desired float64) Option {
	return func(c *Coordinator) {
		c.desired = desired
	}
}

// WithOutput sets the writer the report text is printed to. Defaults to
// stdout.
func WithOutput(out io.Writer) Option {
	return func(c *Coordinator) {
		c.out = out
	}
}

// WithSink sets the test sink a failed threshold check is reported into.
// Absent a sink, failures are carried only by the returned check result.
func WithSink(sink report.TestSink) Option {
	return func(c *Coordinator) {
		c.sink = sink
	}
}

// New creates a coordinator over the registry and exchange store.
func New(reg *registry.Registry, store *exchange.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry: reg,
		filters:  reg.Filters(),
		store:    store,
		out:      os.Stdout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Finalize ends the coverage run for this process. Without a parallel run it
// computes and prints the report directly. The leader of a parallel run first
// waits for the other workers, merges their persisted filters and results,
// and then reports. A follower persists its partial state and produces no
// report; the returned report is nil in that case. The threshold check is
// evaluated exactly once, emitted into the sink, and returned so callers can
// act on the outcome without re-checking; a follower's check is skipped.
func (c *Coordinator) Finalize(ctx context.Context) (*report.Report, report.CheckResult, error) {
	if c.signal == nil || !c.signal.Parallel() {
		return c.computeAndReport()
	}

	if !c.signal.Leader() {
		if err := c.store.Save(c.registry, c.filters); err != nil {
			return nil, report.CheckResult{}, err
		}
		slog.Debug("Follower persisted partial coverage state",
			"fingerprint", c.store.Fingerprint())
		return nil, report.CheckResult{}, nil
	}

	if err := c.signal.WaitForOthers(ctx); err != nil {
		return nil, report.CheckResult{}, fmt.Errorf("failed waiting for parallel workers: %w", err)
	}

	// Filters first, so resources filtered by another process are purged
	// before their snapshots are ingested.
	if err := c.store.MergeFilters(c.filters, c.registry); err != nil {
		return nil, report.CheckResult{}, fmt.Errorf("failed to merge worker filters: %w", err)
	}
	if err := c.store.MergeResults(c.registry); err != nil {
		return nil, report.CheckResult{}, fmt.Errorf("failed to merge worker results: %w", err)
	}

	return c.computeAndReport()
}

func (c *Coordinator) computeAndReport() (*report.Report, report.CheckResult, error) {
	rep := c.registry.Results()
	check := rep.CheckThreshold(c.desired)
	check.Emit(c.sink)

	if _, err := fmt.Fprint(c.out, rep.Text); err != nil {
		return nil, report.CheckResult{}, fmt.Errorf("failed to write coverage report: %w", err)
	}
	return rep, check, nil
}
