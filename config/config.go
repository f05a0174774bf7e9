// Package config defines hvdedup's control surface: the record the driver
// is constructed from, loadable from a YAML file with environment overrides.
//
// Grounded on domkeeper's config.go: a plain struct with a defaults()
// method and a LoadFile helper, decoded with gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full control surface exposed to the driver/CLI (spec §6).
type Config struct {
	// SimilarityThreshold is S in [0,100], the minimum vPDQ set-similarity
	// percentage for a pair to be reported. Default 75.
	SimilarityThreshold int `yaml:"similarity_threshold"`

	// Query is an opaque predicate string passed through verbatim to
	// hostclient.Client.ListMedia.
	Query string `yaml:"query"`

	// JobCount sizes the hash phase's bounded worker pool. Default: number
	// of logical CPUs.
	JobCount int `yaml:"job_count"`

	// SkipHashing skips the hash phase entirely (search runs against
	// whatever is already in the store).
	SkipHashing bool `yaml:"skip_hashing"`

	// SkipSearch skips the search phase entirely (hash-only run).
	SkipSearch bool `yaml:"skip_search"`

	// ClearSearchCache resets search_complete/cursor on every entry before
	// running, forcing a full re-search without re-hashing.
	ClearSearchCache bool `yaml:"clear_search_cache"`

	// ClearEntireCache truncates the Hash Store before running.
	ClearEntireCache bool `yaml:"clear_entire_cache"`

	// VerifyCert is a path to a CA bundle passed to the host client
	// transport (the core does not open the connection itself).
	VerifyCert string `yaml:"verify_cert"`

	// OneSidedGate selects the legacy one-sided similarity gate instead of
	// the default symmetric gate (spec.md §9 escape hatch).
	OneSidedGate bool `yaml:"one_sided_gate"`

	// DatabaseDir is the per-user data directory holding the Hash Store
	// file and the Similarity Index snapshot. Overridable by the
	// DEDUP_DATABASE_DIR environment variable.
	DatabaseDir string `yaml:"database_dir"`
}

const databaseDirEnvVar = "DEDUP_DATABASE_DIR"

func (c *Config) defaults() {
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = 75
	}
	if c.JobCount == 0 {
		c.JobCount = numCPU()
	}
	if c.DatabaseDir == "" {
		c.DatabaseDir = defaultDatabaseDir()
	}
	if dir := os.Getenv(databaseDirEnvVar); dir != "" {
		c.DatabaseDir = dir
	}
}

// Default returns a Config with every field at its documented default.
func Default() Config {
	var c Config
	c.defaults()
	return c
}

// LoadFile reads and parses a YAML config file at path, applying defaults
// to any field left unset.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.defaults()
	return c, nil
}

// Validate reports whether the config's values are in range.
func (c Config) Validate() error {
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 100 {
		return fmt.Errorf("config: similarity_threshold must be in [0,100], got %d", c.SimilarityThreshold)
	}
	if c.JobCount < 1 {
		return fmt.Errorf("config: job_count must be >= 1, got %d", c.JobCount)
	}
	return nil
}
