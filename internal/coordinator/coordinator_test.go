package coordinator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalogtools/catcov/internal/exchange"
	"github.com/catalogtools/catcov/internal/filtering"
	"github.com/catalogtools/catcov/internal/registry"
	"github.com/catalogtools/catcov/internal/report"
	"github.com/catalogtools/catcov/pkg/catalog"
)

func newTestStore(t *testing.T, dir string, pid int) *exchange.Store {
	t.Helper()
	store, err := exchange.NewStore(exchange.WithDir(dir), exchange.WithProcessID(pid))
	require.NoError(t, err)
	return store
}

func seededRegistry(touched, untouched []string) *registry.Registry {
	reg := registry.New(filtering.New())
	for _, title := range untouched {
		reg.Add(catalog.Resource{Type: "Notify", Title: title})
	}
	for _, title := range touched {
		reg.Add(catalog.Resource{Type: "Notify", Title: title})
		reg.Touch(catalog.Resource{Type: "Notify", Title: title})
	}
	return reg
}

func TestCoordinator_NoSignalReportsDirectly(t *testing.T) {
	t.Parallel()

	reg := seededRegistry([]string{"a"}, []string{"b"})
	store := newTestStore(t, t.TempDir(), 100)

	var out strings.Builder
	rep, _, err := New(reg, store, WithOutput(&out)).Finalize(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rep)

	assert.Equal(t, "50.00", rep.CoveragePercent)
	assert.Contains(t, out.String(), "Total resources:   2")
	assert.Contains(t, out.String(), "  Notify[b]")
}

func TestCoordinator_NonParallelSignalReportsDirectly(t *testing.T) {
	t.Parallel()

	reg := seededRegistry([]string{"a"}, nil)
	store := newTestStore(t, t.TempDir(), 100)

	var out strings.Builder
	rep, _, err := New(reg, store,
		WithOutput(&out),
		WithSignal(&StaticSignal{IsParallel: false}),
	).Finalize(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.Equal(t, "100.00", rep.CoveragePercent)
}

func TestCoordinator_FollowerPersistsAndStaysQuiet(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	reg := seededRegistry([]string{"a"}, []string{"b"})
	store := newTestStore(t, dir, 100)

	var out strings.Builder
	rep, check, err := New(reg, store,
		WithOutput(&out),
		WithSignal(&StaticSignal{IsParallel: true, IsLeader: false}),
	).Finalize(context.Background())
	require.NoError(t, err)

	// Followers produce no report, no check, and print nothing.
	assert.Nil(t, rep)
	assert.Equal(t, report.CheckSkipped, check.Outcome)
	assert.Empty(t, out.String())

	count, err := store.PendingWorkers()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCoordinator_LeaderMergesFollowers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	// A follower persists its partial state first.
	followerReg := seededRegistry([]string{"b"}, []string{"c"})
	followerStore := newTestStore(t, dir, 100)
	_, _, err := New(followerReg, followerStore,
		WithSignal(&StaticSignal{IsParallel: true, IsLeader: false}),
	).Finalize(context.Background())
	require.NoError(t, err)

	// The leader merges it into its own partial state.
	leaderReg := seededRegistry([]string{"a"}, []string{"b"})
	leaderStore := newTestStore(t, dir, 200)

	waited := false
	var out strings.Builder
	rep, _, err := New(leaderReg, leaderStore,
		WithOutput(&out),
		WithSignal(&StaticSignal{
			IsParallel: true,
			IsLeader:   true,
			Barrier: func(context.Context) error {
				waited = true
				return nil
			},
		}),
	).Finalize(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rep)

	assert.True(t, waited, "leader must wait for followers before merging")
	assert.Equal(t, 3, rep.Total)
	assert.Equal(t, 2, rep.Touched)
	assert.Equal(t, []string{"Notify[c]"}, rep.UntouchedResources())
}

func TestCoordinator_LeaderBarrierFailureAborts(t *testing.T) {
	t.Parallel()

	reg := seededRegistry([]string{"a"}, nil)
	store := newTestStore(t, t.TempDir(), 100)

	_, _, err := New(reg, store,
		WithSignal(&StaticSignal{
			IsParallel: true,
			IsLeader:   true,
			Barrier: func(context.Context) error {
				return context.DeadlineExceeded
			},
		}),
	).Finalize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed waiting for parallel workers")
}

func TestCoordinator_FinalizeSurfacesCheckResult(t *testing.T) {
	t.Parallel()

	t.Run("failing threshold", func(t *testing.T) {
		t.Parallel()

		reg := seededRegistry([]string{"a"}, []string{"b"})
		store := newTestStore(t, t.TempDir(), 100)

		var out strings.Builder
		rep, check, err := New(reg, store,
			WithOutput(&out),
			WithDesiredCoverage(90),
		).Finalize(context.Background())
		require.NoError(t, err)
		require.NotNil(t, rep)

		// The check is evaluated once and returned; the caller decides how
		// to surface it.
		assert.Equal(t, report.CheckFailed, check.Outcome)
		assert.Contains(t, check.Message, "expected resource coverage of at least 90.00%, got 50.00%")
	})

	t.Run("passing threshold", func(t *testing.T) {
		t.Parallel()

		reg := seededRegistry([]string{"a"}, nil)
		store := newTestStore(t, t.TempDir(), 100)

		var out strings.Builder
		_, check, err := New(reg, store,
			WithOutput(&out),
			WithDesiredCoverage(100),
		).Finalize(context.Background())
		require.NoError(t, err)
		assert.Equal(t, report.CheckPassed, check.Outcome)
	})
}

func TestPollingBarrier_Wait(t *testing.T) {
	t.Parallel()

	t.Run("returns once enough snapshots exist", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		worker := newTestStore(t, dir, 100)
		reg := registry.New(filtering.New())
		require.NoError(t, worker.Save(reg, reg.Filters()))

		barrier := NewPollingBarrier(newTestStore(t, dir, 200), 1)
		assert.NoError(t, barrier.Wait(context.Background()))
	})

	t.Run("zero expected workers returns immediately", func(t *testing.T) {
		t.Parallel()

		barrier := NewPollingBarrier(newTestStore(t, t.TempDir(), 100), 0)
		assert.NoError(t, barrier.Wait(context.Background()))
	})

	t.Run("gives up after the maximum wait", func(t *testing.T) {
		t.Parallel()

		barrier := NewPollingBarrier(newTestStore(t, t.TempDir(), 100), 2,
			WithMaxWait(50*time.Millisecond))
		err := barrier.Wait(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parallel workers did not complete")
	})
}
