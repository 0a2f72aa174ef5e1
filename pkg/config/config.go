// Package config loads the tunables the storage engine needs at
// startup: the segment allocation cap, the data directory, and the
// lock-retry budget ArcNew uses for its bounded acquisition.
//
// Configuration loads from an optional YAML file and is then overlaid
// with environment variables (env vars win over file values, file
// values win over defaults).
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable the storage engine and its default
// collaborators need.
//
// Example:
//
//	cfg, err := config.LoadFromFile("lattice.yaml")
//	if err != nil {
//		cfg = config.Default()
//	}
//	config.LoadFromEnv(cfg)
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
type Config struct {
	// MaxLoadedSegments is the hard cap on how many segments Storage
	// will allocate.
	MaxLoadedSegments uint32 `yaml:"max_loaded_segments"`
	// DataDir is where the default BadgerPersistence stores segment
	// data; link content stays in the Storage's ContentStore. Empty
	// means in-memory only (no persistence).
	DataDir string `yaml:"data_dir"`
	// SyncWrites forces fsync after every persisted write. Slower, more
	// durable.
	SyncWrites bool `yaml:"sync_writes"`
	// LockMaxAttempts bounds the spin count for every bounded
	// bounded lock-try call (ArcNew's ordered acquisition).
	LockMaxAttempts int `yaml:"lock_max_attempts"`
}

// Default returns the engine's out-of-the-box configuration.
func Default() *Config {
	return &Config{
		MaxLoadedSegments: 1024,
		DataDir:           "",
		SyncWrites:        false,
		LockMaxAttempts:   64,
	}
}

// LoadFromFile reads and parses a YAML config file, starting from
// Default() and overlaying whatever fields the file sets.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Environment variable names, namespaced under a LATTICE_ prefix.
const (
	envMaxSegments    = "LATTICE_MAX_SEGMENTS"
	envDataDir        = "LATTICE_DATA_DIR"
	envSyncWrites     = "LATTICE_SYNC_WRITES"
	envLockMaxAttempt = "LATTICE_LOCK_MAX_ATTEMPTS"
)

// LoadFromEnv overlays environment variables onto cfg in place,
// leaving fields whose environment variable is unset untouched.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv(envMaxSegments); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.MaxLoadedSegments = uint32(n)
		}
	}
	if v := os.Getenv(envDataDir); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(envSyncWrites); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SyncWrites = b
		}
	}
	if v := os.Getenv(envLockMaxAttempt); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LockMaxAttempts = n
		}
	}
}

// Validate rejects configurations the engine cannot operate under.
func (c *Config) Validate() error {
	if c.MaxLoadedSegments == 0 {
		return fmt.Errorf("config: max_loaded_segments must be > 0")
	}
	if c.LockMaxAttempts <= 0 {
		return fmt.Errorf("config: lock_max_attempts must be > 0")
	}
	return nil
}
