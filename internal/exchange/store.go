package exchange

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gofrs/flock"

	"github.com/catalogtools/catcov/internal/filtering"
	"github.com/catalogtools/catcov/internal/registry"
)

const (
	filterFilePrefix = "coverage-filter-"
	resultFilePrefix = "coverage-result-"

	// lockFileName guards merge consumption against double-leader races.
	lockFileName = "coverage-merge.lock"
)

// Store reads and writes coverage exchange files for one process.
type Store struct {
	dir     string
	workDir string
	pid     int
}

// Option configures a Store.
type Option func(*Store)

// WithDir sets the exchange directory. Defaults to the system temp directory.
func WithDir(dir string) Option {
	return func(s *Store) {
		s.dir = dir
	}
}

// WithProcessID overrides the process id used in the fingerprint.
func WithProcessID(pid int) Option {
	return func(s *Store) {
		s.pid = pid
	}
}

// NewStore creates a store fingerprinted by the current working directory and
// process id.
func NewStore(opts ...Option) (*Store, error) {
	workDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to determine working directory: %w", err)
	}

	s := &Store{
		dir:     os.TempDir(),
		workDir: workDir,
		pid:     os.Getpid(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Fingerprint returns this process's exchange-file key: the working-directory
// hash shared by all workers of a run, suffixed with the process id.
func (s *Store) Fingerprint() string {
	return fmt.Sprintf("%s-%d", hashDir(s.workDir), s.pid)
}

// Save persists the registry snapshot and the filter set's runtime additions,
// each to its own file named by this process's fingerprint. Called once per
// follower worker at the end of its run. Filesystem errors are returned, not
// swallowed: silently losing a worker's contribution would under-report
// coverage.
func (s *Store) Save(reg *registry.Registry, filters *filtering.FilterSet) error {
	if err := writeJSONFile(s.filterFile(), filters.Added()); err != nil {
		return fmt.Errorf("failed to persist filter state: %w", err)
	}
	if err := writeJSONFile(s.resultFile(), reg.Snapshot()); err != nil {
		return fmt.Errorf("failed to persist registry state: %w", err)
	}
	slog.Debug("Persisted partial coverage state",
		"fingerprint", s.Fingerprint(),
		"resources", reg.Len())
	return nil
}

// MergeFilters ingests every persisted filter file of this run into the
// filter set and deletes the consumed files. Entries already collected in the
// registry that newly match a merged filter are purged, so it must run before
// MergeResults. A malformed file aborts the merge before applying anything
// from it.
func (s *Store) MergeFilters(filters *filtering.FilterSet, reg *registry.Registry) error {
	err := s.withMergeLock(func() error {
		paths, err := s.glob(filterFilePrefix)
		if err != nil {
			return err
		}
		for _, path := range paths {
			var patterns []string
			if err := readJSONFile(path, &patterns); err != nil {
				return err
			}
			for _, pattern := range patterns {
				filters.AddPattern(pattern)
			}
			if err := s.consume(path); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if reg != nil {
		if removed := reg.Purge(); removed > 0 {
			slog.Debug("Merged filters purged collected resources", "removed", removed)
		}
	}
	return nil
}

// MergeResults ingests every persisted registry snapshot of this run into the
// registry and deletes the consumed files. Resources filtered by the (already
// merged) filter set are dropped on ingestion by the registry itself.
func (s *Store) MergeResults(reg *registry.Registry) error {
	return s.withMergeLock(func() error {
		paths, err := s.glob(resultFilePrefix)
		if err != nil {
			return err
		}
		for _, path := range paths {
			var entries map[string]registry.Entry
			if err := readJSONFile(path, &entries); err != nil {
				return err
			}
			for identifier, entry := range entries {
				reg.AddIdentifier(identifier)
				if entry.Touched {
					reg.TouchIdentifier(identifier)
				}
			}
			if err := s.consume(path); err != nil {
				return err
			}
		}
		return nil
	})
}

// PendingWorkers returns how many worker snapshots are currently persisted
// for this run's working directory.
func (s *Store) PendingWorkers() (int, error) {
	paths, err := s.glob(resultFilePrefix)
	if err != nil {
		return 0, err
	}
	return len(paths), nil
}

func (s *Store) filterFile() string {
	return filepath.Join(s.dir, filterFilePrefix+s.Fingerprint())
}

func (s *Store) resultFile() string {
	return filepath.Join(s.dir, resultFilePrefix+s.Fingerprint())
}

// glob enumerates the exchange files of every worker sharing this working
// directory, this process's own included.
func (s *Store) glob(prefix string) ([]string, error) {
	pattern := filepath.Join(s.dir, prefix+hashDir(s.workDir)+"-*")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate exchange files: %w", err)
	}
	return paths, nil
}

// consume deletes a merged exchange file. The file having vanished already is
// benign: another merge consumed it first.
func (s *Store) consume(path string) error {
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Debug("Exchange file already consumed", "path", path)
			return nil
		}
		return fmt.Errorf("failed to delete consumed exchange file %s: %w", path, err)
	}
	return nil
}

func (s *Store) withMergeLock(fn func() error) error {
	lock := flock.New(filepath.Join(s.dir, lockFileName))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire merge lock: %w", err)
	}
	defer func() {
		_ = lock.Unlock()
	}()
	return fn()
}

func hashDir(dir string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(dir))
	return strconv.FormatUint(h.Sum64(), 16)
}

// writeJSONFile writes v as JSON via a temporary file and atomic rename. The
// dot prefix keeps the temporary name outside the merge enumeration glob, so
// a merge never sees a half-written file.
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal exchange data: %w", err)
	}

	tempPath := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary exchange file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename exchange file: %w", err)
	}
	return nil
}

func readJSONFile(path string, v any) error {
	// #nosec G304 -- path comes from our own glob over the exchange directory
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read exchange file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal exchange file %s: %w", path, err)
	}
	return nil
}
