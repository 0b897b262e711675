// Package config handles graphlite configuration via YAML files and environment variables.
//
// Configuration Precedence (highest to lowest):
//  1. Command-line flags (--data-dir, --write-lock, etc.)
//  2. Environment variables (GRAPHLITE_*)
//  3. Config file (graphlite.yaml)
//  4. Built-in defaults
//
// Example Usage:
//
//	cfg, err := config.LoadFromFile(config.FindConfigFile())
//	if err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
//	g, err := graphlite.Open(cfg.Database.DataDir, cfg)
//
// Environment Variables (all use GRAPHLITE_ prefix):
//
// Database:
//   - GRAPHLITE_DATA_DIR="./data"
//   - GRAPHLITE_SYNC_WRITES=true
//   - GRAPHLITE_LOW_MEMORY=false
//   - GRAPHLITE_HIGH_PERFORMANCE=false
//   - GRAPHLITE_WRITE_LOCK_MODE="block" or "fail"
//   - GRAPHLITE_WRITE_LOCK_TIMEOUT="5s"
//   - GRAPHLITE_ENCRYPTION_ENABLED=false
//   - GRAPHLITE_ENCRYPTION_PASSWORD=""
//
// Query:
//   - GRAPHLITE_PLAN_CACHE_SIZE=256
//
// Memory:
//   - GRAPHLITE_BLOCK_CACHE_SIZE="256MiB"
//   - GRAPHLITE_MEMORY_LIMIT="0" (unlimited)
//   - GRAPHLITE_GC_PERCENT=100
//
// Logging:
//   - GRAPHLITE_LOG_LEVEL="warn"
//   - GRAPHLITE_QUERY_LOG_ENABLED=false
//   - GRAPHLITE_SLOW_QUERY_THRESHOLD="100ms"
//
// Backup:
//   - GRAPHLITE_BACKUP_COMPRESS=true
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config holds all graphlite configuration.
//
// Use LoadDefaults() for built-in values, LoadFromEnv() to overlay the
// environment, or LoadFromFile() to read a YAML file first.
type Config struct {
	// Database holds storage and transaction settings
	Database DatabaseConfig

	// Query holds compiler settings
	Query QueryConfig

	// Memory holds cache and runtime memory settings
	Memory MemoryConfig

	// Logging
	Logging LoggingConfig

	// Backup holds backup defaults for the CLI
	Backup BackupConfig
}

// DatabaseConfig holds database settings.
type DatabaseConfig struct {
	// DataDir is the directory for data storage
	DataDir string

	// SyncWrites fsyncs every commit. With it off a crash may lose the last
	// commits but never corrupts the store.
	// Env: GRAPHLITE_SYNC_WRITES
	SyncWrites bool

	// LowMemory shrinks badger's tables and caches.
	// Env: GRAPHLITE_LOW_MEMORY
	LowMemory bool

	// HighPerformance trades memory for throughput.
	// Env: GRAPHLITE_HIGH_PERFORMANCE
	HighPerformance bool

	// WriteLockMode selects what BeginWrite does while another writer is
	// active: "block" waits, "fail" returns at once.
	// Env: GRAPHLITE_WRITE_LOCK_MODE
	WriteLockMode string

	// WriteLockTimeout bounds the wait in block mode. Zero waits forever.
	// Env: GRAPHLITE_WRITE_LOCK_TIMEOUT
	WriteLockTimeout time.Duration

	// EncryptionEnabled controls whether database encryption is active
	// Env: GRAPHLITE_ENCRYPTION_ENABLED
	EncryptionEnabled bool

	// EncryptionPassword for database encryption at rest
	// Required when EncryptionEnabled is true.
	// Env: GRAPHLITE_ENCRYPTION_PASSWORD
	EncryptionPassword string
}

// QueryConfig holds query compiler settings.
type QueryConfig struct {
	// PlanCacheSize is the number of compiled plans kept per graph. Zero
	// disables the cache.
	PlanCacheSize int
}

// MemoryConfig holds memory settings.
type MemoryConfig struct {
	// BlockCacheSize is badger's block cache in bytes (0 = badger default)
	BlockCacheSize int64
	// RuntimeLimit is the Go runtime soft memory limit (0 = unlimited)
	RuntimeLimit int64
	// GCPercent is the Go GC target percentage
	GCPercent int
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level for the storage layer (debug, info, warn, error)
	Level string
	// QueryLogEnabled for query logging
	QueryLogEnabled bool
	// SlowQueryThreshold for logging slow queries
	SlowQueryThreshold time.Duration
}

// BackupConfig holds backup settings.
type BackupConfig struct {
	// Compress writes zstd-compressed backups
	Compress bool
}

// LoadDefaults returns the built-in configuration.
func LoadDefaults() *Config {
	config := &Config{}

	config.Database.DataDir = "./data"
	config.Database.SyncWrites = true
	config.Database.WriteLockMode = "block"
	config.Database.WriteLockTimeout = 0

	config.Query.PlanCacheSize = 256

	config.Memory.GCPercent = 100

	config.Logging.Level = "warn"
	config.Logging.SlowQueryThreshold = 100 * time.Millisecond

	config.Backup.Compress = true
	return config
}

// LoadFromEnv returns the defaults overlaid with GRAPHLITE_* variables.
func LoadFromEnv() *Config {
	config := LoadDefaults()
	applyEnvVars(config)
	return config
}

func applyEnvVars(config *Config) {
	if v := getEnv("GRAPHLITE_DATA_DIR", ""); v != "" {
		config.Database.DataDir = v
	}
	config.Database.SyncWrites = getEnvBool("GRAPHLITE_SYNC_WRITES", config.Database.SyncWrites)
	config.Database.LowMemory = getEnvBool("GRAPHLITE_LOW_MEMORY", config.Database.LowMemory)
	config.Database.HighPerformance = getEnvBool("GRAPHLITE_HIGH_PERFORMANCE", config.Database.HighPerformance)
	if v := getEnv("GRAPHLITE_WRITE_LOCK_MODE", ""); v != "" {
		config.Database.WriteLockMode = strings.ToLower(v)
	}
	config.Database.WriteLockTimeout = getEnvDuration("GRAPHLITE_WRITE_LOCK_TIMEOUT", config.Database.WriteLockTimeout)
	config.Database.EncryptionEnabled = getEnvBool("GRAPHLITE_ENCRYPTION_ENABLED", config.Database.EncryptionEnabled)
	if v := getEnv("GRAPHLITE_ENCRYPTION_PASSWORD", ""); v != "" {
		config.Database.EncryptionPassword = v
	}

	config.Query.PlanCacheSize = getEnvInt("GRAPHLITE_PLAN_CACHE_SIZE", config.Query.PlanCacheSize)

	if v := getEnv("GRAPHLITE_BLOCK_CACHE_SIZE", ""); v != "" {
		config.Memory.BlockCacheSize = parseMemorySize(v)
	}
	if v := getEnv("GRAPHLITE_MEMORY_LIMIT", ""); v != "" {
		config.Memory.RuntimeLimit = parseMemorySize(v)
	}
	config.Memory.GCPercent = getEnvInt("GRAPHLITE_GC_PERCENT", config.Memory.GCPercent)

	if v := getEnv("GRAPHLITE_LOG_LEVEL", ""); v != "" {
		config.Logging.Level = strings.ToLower(v)
	}
	config.Logging.QueryLogEnabled = getEnvBool("GRAPHLITE_QUERY_LOG_ENABLED", config.Logging.QueryLogEnabled)
	config.Logging.SlowQueryThreshold = getEnvDuration("GRAPHLITE_SLOW_QUERY_THRESHOLD", config.Logging.SlowQueryThreshold)

	config.Backup.Compress = getEnvBool("GRAPHLITE_BACKUP_COMPRESS", config.Backup.Compress)
}

// ApplyEnvVars overlays GRAPHLITE_* variables on an existing config.
func ApplyEnvVars(config *Config) {
	applyEnvVars(config)
}

// Validate checks the configuration for values that cannot work.
//
// Returns nil if configuration is valid, or an error describing the problem.
func (c *Config) Validate() error {
	switch c.Database.WriteLockMode {
	case "block", "fail":
	default:
		return fmt.Errorf("invalid write lock mode %q (want block or fail)", c.Database.WriteLockMode)
	}
	if c.Database.WriteLockTimeout < 0 {
		return fmt.Errorf("invalid write lock timeout: %v", c.Database.WriteLockTimeout)
	}
	if c.Database.LowMemory && c.Database.HighPerformance {
		return fmt.Errorf("low memory and high performance modes are mutually exclusive")
	}
	if c.Database.EncryptionEnabled && c.Database.EncryptionPassword == "" {
		return fmt.Errorf("encryption is enabled but no password was provided")
	}
	if c.Query.PlanCacheSize < 0 {
		return fmt.Errorf("invalid plan cache size: %d", c.Query.PlanCacheSize)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}
	return nil
}

// String returns a representation of the Config that is safe to log. The
// encryption password is never included.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{DataDir: %s, SyncWrites: %v, WriteLock: %s, Encryption: %v, PlanCache: %d, Log: %s}",
		c.Database.DataDir, c.Database.SyncWrites, c.Database.WriteLockMode,
		c.Database.EncryptionEnabled, c.Query.PlanCacheSize, c.Logging.Level,
	)
}

// YAMLConfig represents the YAML configuration file structure.
type YAMLConfig struct {
	Database struct {
		DataDir            string `yaml:"data_dir"`
		SyncWrites         *bool  `yaml:"sync_writes"`
		LowMemory          bool   `yaml:"low_memory"`
		HighPerformance    bool   `yaml:"high_performance"`
		WriteLockMode      string `yaml:"write_lock_mode"`
		WriteLockTimeout   string `yaml:"write_lock_timeout"`
		EncryptionEnabled  bool   `yaml:"encryption_enabled"`
		EncryptionPassword string `yaml:"encryption_password"`
	} `yaml:"database"`

	Query struct {
		PlanCacheSize *int `yaml:"plan_cache_size"`
	} `yaml:"query"`

	Memory struct {
		BlockCacheSize string `yaml:"block_cache_size"`
		RuntimeLimit   string `yaml:"runtime_limit"`
		GCPercent      int    `yaml:"gc_percent"`
	} `yaml:"memory"`

	Logging struct {
		Level              string `yaml:"level"`
		QueryLogEnabled    bool   `yaml:"query_log_enabled"`
		SlowQueryThreshold string `yaml:"slow_query_threshold"`
	} `yaml:"logging"`

	Backup struct {
		Compress *bool `yaml:"compress"`
	} `yaml:"backup"`
}

// LoadFromFile loads defaults, then the YAML file at configPath, then the
// environment. A missing file is not an error.
func LoadFromFile(configPath string) (*Config, error) {
	config := LoadDefaults()

	if configPath == "" {
		applyEnvVars(config)
		return config, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvVars(config)
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var yamlCfg YAMLConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// === Database Settings ===
	if yamlCfg.Database.DataDir != "" {
		config.Database.DataDir = yamlCfg.Database.DataDir
	}
	if yamlCfg.Database.SyncWrites != nil {
		config.Database.SyncWrites = *yamlCfg.Database.SyncWrites
	}
	if yamlCfg.Database.LowMemory {
		config.Database.LowMemory = true
	}
	if yamlCfg.Database.HighPerformance {
		config.Database.HighPerformance = true
	}
	if yamlCfg.Database.WriteLockMode != "" {
		config.Database.WriteLockMode = strings.ToLower(yamlCfg.Database.WriteLockMode)
	}
	if yamlCfg.Database.WriteLockTimeout != "" {
		d, err := time.ParseDuration(yamlCfg.Database.WriteLockTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid write_lock_timeout: %w", err)
		}
		config.Database.WriteLockTimeout = d
	}
	if yamlCfg.Database.EncryptionEnabled {
		config.Database.EncryptionEnabled = true
	}
	if yamlCfg.Database.EncryptionPassword != "" {
		config.Database.EncryptionPassword = yamlCfg.Database.EncryptionPassword
	}

	// === Query Settings ===
	if yamlCfg.Query.PlanCacheSize != nil {
		config.Query.PlanCacheSize = *yamlCfg.Query.PlanCacheSize
	}

	// === Memory Settings ===
	if yamlCfg.Memory.BlockCacheSize != "" {
		config.Memory.BlockCacheSize = parseMemorySize(yamlCfg.Memory.BlockCacheSize)
	}
	if yamlCfg.Memory.RuntimeLimit != "" {
		config.Memory.RuntimeLimit = parseMemorySize(yamlCfg.Memory.RuntimeLimit)
	}
	if yamlCfg.Memory.GCPercent != 0 {
		config.Memory.GCPercent = yamlCfg.Memory.GCPercent
	}

	// === Logging Settings ===
	if yamlCfg.Logging.Level != "" {
		config.Logging.Level = strings.ToLower(yamlCfg.Logging.Level)
	}
	if yamlCfg.Logging.QueryLogEnabled {
		config.Logging.QueryLogEnabled = true
	}
	if yamlCfg.Logging.SlowQueryThreshold != "" {
		d, err := time.ParseDuration(yamlCfg.Logging.SlowQueryThreshold)
		if err != nil {
			return nil, fmt.Errorf("invalid slow_query_threshold: %w", err)
		}
		config.Logging.SlowQueryThreshold = d
	}

	// === Backup Settings ===
	if yamlCfg.Backup.Compress != nil {
		config.Backup.Compress = *yamlCfg.Backup.Compress
	}

	applyEnvVars(config)
	return config, nil
}

// FindConfigFile searches for config file in standard locations.
// Returns the path to the first config file found, or empty string if none found.
// Search order:
//  1. ~/.graphlite/config.yaml
//  2. Same directory as the binary (graphlite.yaml)
//  3. Current working directory (graphlite.yaml)
//  4. ~/.config/graphlite/config.yaml (XDG)
func FindConfigFile() string {
	var candidates []string

	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".graphlite", "config.yaml"))
	}
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "graphlite.yaml"))
	}
	candidates = append(candidates, "graphlite.yaml")
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "graphlite", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Try parsing as seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

// parseMemorySize parses a human-readable size such as "512MiB" or "2GB".
// "", "0" and "unlimited" mean no limit; unparsable input also yields 0.
func parseMemorySize(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" || strings.EqualFold(s, "unlimited") {
		return 0
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0
	}
	return int64(n)
}

// FormatMemorySize formats bytes as a human-readable string.
func FormatMemorySize(bytes int64) string {
	if bytes < 0 {
		return "-" + humanize.IBytes(uint64(-bytes))
	}
	return humanize.IBytes(uint64(bytes))
}

// ApplyRuntimeMemory applies the runtime memory settings to the Go runtime.
// Should be called early in main() before heavy allocations.
func (c *MemoryConfig) ApplyRuntimeMemory() {
	if c.RuntimeLimit > 0 {
		debug.SetMemoryLimit(c.RuntimeLimit)
	}
	if c.GCPercent != 100 && c.GCPercent != 0 {
		debug.SetGCPercent(c.GCPercent)
	}
}
