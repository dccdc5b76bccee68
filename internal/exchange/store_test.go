package exchange

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalogtools/catcov/internal/filtering"
	"github.com/catalogtools/catcov/internal/registry"
	"github.com/catalogtools/catcov/pkg/catalog"
)

func newTestStore(t *testing.T, dir string, pid int) *Store {
	t.Helper()
	store, err := NewStore(WithDir(dir), WithProcessID(pid))
	require.NoError(t, err)
	return store
}

func TestStore_Fingerprint(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := newTestStore(t, dir, 100)
	b := newTestStore(t, dir, 200)

	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
	// Same working directory, so the shared prefix matches.
	assert.Equal(t,
		a.Fingerprint()[:len(a.Fingerprint())-4],
		b.Fingerprint()[:len(b.Fingerprint())-4])
}

func TestStore_SaveWritesBothFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := newTestStore(t, dir, 100)

	filters := filtering.New()
	filters.AddFilter("class", "foo::bar")

	reg := registry.New(filters)
	reg.Add(catalog.Resource{Type: "Notify", Title: "a"})
	reg.Touch(catalog.Resource{Type: "Notify", Title: "a"})
	reg.Add(catalog.Resource{Type: "Notify", Title: "b"})

	require.NoError(t, store.Save(reg, filters))

	filterData, err := os.ReadFile(filepath.Join(dir, "coverage-filter-"+store.Fingerprint()))
	require.NoError(t, err)
	var patterns []string
	require.NoError(t, json.Unmarshal(filterData, &patterns))
	assert.Equal(t, []string{"Class[Foo::Bar]"}, patterns)

	resultData, err := os.ReadFile(filepath.Join(dir, "coverage-result-"+store.Fingerprint()))
	require.NoError(t, err)
	var entries map[string]registry.Entry
	require.NoError(t, json.Unmarshal(resultData, &entries))
	assert.Equal(t, map[string]registry.Entry{
		"Notify[a]": {Touched: true},
		"Notify[b]": {Touched: false},
	}, entries)
}

func TestStore_MergeCombinesWorkers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	// Two workers persist overlapping partial state.
	workerA := newTestStore(t, dir, 100)
	regA := registry.New(filtering.New())
	regA.Add(catalog.Resource{Type: "Notify", Title: "a"})
	regA.Add(catalog.Resource{Type: "Notify", Title: "b"})
	regA.Touch(catalog.Resource{Type: "Notify", Title: "a"})
	require.NoError(t, workerA.Save(regA, regA.Filters()))

	workerB := newTestStore(t, dir, 200)
	regB := registry.New(filtering.New())
	regB.Add(catalog.Resource{Type: "Notify", Title: "b"})
	regB.Add(catalog.Resource{Type: "Notify", Title: "c"})
	regB.Touch(catalog.Resource{Type: "Notify", Title: "b"})
	require.NoError(t, workerB.Save(regB, regB.Filters()))

	// The leader merges both into its own registry.
	leader := newTestStore(t, dir, 300)
	filters := filtering.New()
	merged := registry.New(filters)
	require.NoError(t, leader.MergeFilters(filters, merged))
	require.NoError(t, leader.MergeResults(merged))

	rep := merged.Results()
	assert.Equal(t, 3, rep.Total)
	assert.Equal(t, 2, rep.Touched)
	assert.Equal(t, []string{"Notify[c]"}, rep.UntouchedResources())

	// Consumption is at-most-once: the exchange files are gone. The merge
	// lock file shares the directory and stays, so sweep per prefix.
	for _, prefix := range []string{"coverage-filter-", "coverage-result-"} {
		remaining, err := filepath.Glob(filepath.Join(dir, prefix+"*"))
		require.NoError(t, err)
		assert.Empty(t, remaining)
	}
}

func TestStore_SaveEmptyStateWritesArrays(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := newTestStore(t, dir, 100)

	filters := filtering.New()
	reg := registry.New(filters)
	require.NoError(t, store.Save(reg, filters))

	// No runtime filters still yields a JSON array, never null.
	filterData, err := os.ReadFile(filepath.Join(dir, "coverage-filter-"+store.Fingerprint()))
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(filterData))

	resultData, err := os.ReadFile(filepath.Join(dir, "coverage-result-"+store.Fingerprint()))
	require.NoError(t, err)
	assert.JSONEq(t, "{}", string(resultData))
}

func TestStore_MergeIgnoresInFlightTempFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := newTestStore(t, dir, 100)

	// A half-written save must stay invisible to a concurrent merge.
	temp := filepath.Join(dir, ".coverage-filter-"+store.Fingerprint()+".tmp")
	require.NoError(t, os.WriteFile(temp, []byte(`["Class[`), 0600))

	filters := filtering.New()
	require.NoError(t, store.MergeFilters(filters, nil))
	assert.Empty(t, filters.Added())

	_, statErr := os.Stat(temp)
	assert.NoError(t, statErr)
}

func TestStore_MergedFilterEvictsCollectedResource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	// A worker filtered Class[Foo::Bar] at runtime.
	worker := newTestStore(t, dir, 100)
	workerFilters := filtering.New()
	workerFilters.AddFilter("class", "foo::bar")
	workerReg := registry.New(workerFilters)
	require.NoError(t, worker.Save(workerReg, workerFilters))

	// The leader already collected and touched that same resource.
	leader := newTestStore(t, dir, 200)
	filters := filtering.New()
	merged := registry.New(filters)
	merged.Add(catalog.Resource{Type: "Class", Title: "Foo::Bar"})
	merged.Touch(catalog.Resource{Type: "Class", Title: "Foo::Bar"})
	merged.Add(catalog.Resource{Type: "Notify", Title: "a"})

	require.NoError(t, leader.MergeFilters(filters, merged))
	require.NoError(t, leader.MergeResults(merged))

	rep := merged.Results()
	assert.Equal(t, 1, rep.Total)
	assert.Equal(t, 0, rep.Touched)
	assert.NotContains(t, rep.Resources, "Class[Foo::Bar]")
}

func TestStore_MergeResults_MalformedFileAborts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := newTestStore(t, dir, 100)

	path := filepath.Join(dir, "coverage-result-"+store.Fingerprint())
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0600))

	reg := registry.New(filtering.New())
	err := store.MergeResults(reg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal")

	// Nothing was applied and the malformed file was not consumed.
	assert.Equal(t, 0, reg.Len())
	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}

func TestStore_MergeFilters_MalformedFileAborts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := newTestStore(t, dir, 100)

	path := filepath.Join(dir, "coverage-filter-"+store.Fingerprint())
	require.NoError(t, os.WriteFile(path, []byte("{"), 0600))

	filters := filtering.New()
	err := store.MergeFilters(filters, nil)
	require.Error(t, err)
	assert.Empty(t, filters.Added())
}

func TestStore_MergeOnEmptyDirectoryIsANoOp(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, t.TempDir(), 100)
	filters := filtering.New()
	reg := registry.New(filters)

	require.NoError(t, store.MergeFilters(filters, reg))
	require.NoError(t, store.MergeResults(reg))
	assert.Equal(t, 0, reg.Len())
}

func TestStore_PendingWorkers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	leader := newTestStore(t, dir, 300)
	count, err := leader.PendingWorkers()
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	for pid := 100; pid < 103; pid++ {
		worker := newTestStore(t, dir, pid)
		reg := registry.New(filtering.New())
		require.NoError(t, worker.Save(reg, reg.Filters()))
	}

	count, err = leader.PendingWorkers()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
