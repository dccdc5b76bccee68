// Package config provides configuration loading for the coverage tracker.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/catalogtools/catcov/pkg/catalog"
)

// EnvPrefix is the prefix for environment variables read by the application.
const EnvPrefix = "CATCOV"

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// Module is the name of the module under test. Empty disables
	// module-scoped catalog filtering.
	Module string `yaml:"module,omitempty"`

	// DesiredCoverage is the coverage percentage the threshold check asserts
	// against. Values outside [0, 100] skip the check with a diagnostic.
	DesiredCoverage float64 `yaml:"desiredCoverage,omitempty"`

	// Filters are Type/Title pairs excluded from coverage, normalized the
	// same way runtime additions are.
	Filters []FilterRule `yaml:"filters,omitempty"`

	// ExcludePatterns are glob patterns matched against full identifiers,
	// e.g. "Anchor[*]".
	ExcludePatterns []string `yaml:"excludePatterns,omitempty"`

	// ExchangeDir is where parallel workers persist partial state. Defaults
	// to the system temp directory.
	ExchangeDir string `yaml:"exchangeDir,omitempty"`

	// ModuleDirs are the directories modules are installed under. Defaults
	// to ["modules"].
	ModuleDirs []string `yaml:"moduleDirs,omitempty"`

	// SiteManifest is the optional top-level manifest path.
	SiteManifest string `yaml:"siteManifest,omitempty"`
}

// FilterRule is one statically configured exclusion.
type FilterRule struct {
	Type  string `yaml:"type"`
	Title string `yaml:"title"`
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	// Read the entire file into memory
	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML content
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	config.applyDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns a configuration with all defaults applied and no file read.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.ExchangeDir == "" {
		c.ExchangeDir = os.TempDir()
	}
	if len(c.ModuleDirs) == 0 {
		c.ModuleDirs = []string{"modules"}
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}
	for i, rule := range c.Filters {
		if rule.Type == "" {
			return fmt.Errorf("filter[%d]: type is required", i)
		}
	}
	return nil
}

// PathResolver returns the manifest-path resolver described by this
// configuration.
func (c *Config) PathResolver() catalog.PathResolver {
	return &catalog.StaticPathResolver{
		Dirs: c.ModuleDirs,
		Site: c.SiteManifest,
	}
}
