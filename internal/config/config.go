package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DirName is the name of both the global (~/.sugya) and repo-local (.sugya) config directories.
const DirName = ".sugya"

// Config holds application configuration.
type Config struct {
	// LogLevel is the zap level name: debug, info, warn, error
	LogLevel string `json:"log_level,omitempty"`

	// DatabaseURL selects a Postgres database (postgres://...). Empty means the
	// local SQLite file in the base directory.
	DatabaseURL string `json:"database_url,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// RedisURL enables cross-process per-citation locks (redis://...).
	// Empty means in-process locks only.
	RedisURL string `json:"redis_url,omitempty"`

	// LockTTLSeconds bounds how long a per-citation lock survives a crashed holder
	LockTTLSeconds int `json:"lock_ttl_seconds,omitempty"`

	// EnrichmentModel is the Anthropic model used to fetch passage content
	EnrichmentModel string `json:"enrichment_model,omitempty"`

	// EnrichmentTimeoutSeconds bounds a single content-enrichment call
	EnrichmentTimeoutSeconds int `json:"enrichment_timeout_seconds,omitempty"`

	// EnrichmentMaxTokens caps the model response size
	EnrichmentMaxTokens int `json:"enrichment_max_tokens,omitempty"`

	// EnrichmentRequestsPerMinute rate-limits enrichment calls from this process
	EnrichmentRequestsPerMinute int `json:"enrichment_requests_per_minute,omitempty"`

	// AllowedPaths is an allowlist of directories for import/export operations.
	// Paths outside ~/.sugya/exports require either being in this list or AllowUnsafePaths=true.
	// Paths should be absolute (relative paths are ignored).
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for import/export.
	// Symlink and extension checks still apply.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes is a list of type names to disable entirely.
	// Known types: "tree". Unknown type names are logged as warnings.
	DisabledTypes []string `json:"disabled_types,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:                    "info",
		LockTTLSeconds:              30,
		EnrichmentModel:             "claude-sonnet-4-5",
		EnrichmentTimeoutSeconds:    90,
		EnrichmentMaxTokens:         4096,
		EnrichmentRequestsPerMinute: 20,
	}
}

// LockTTL returns the per-citation lock TTL as a duration.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// EnrichmentTimeout returns the enrichment call timeout as a duration.
func (c *Config) EnrichmentTimeout() time.Duration {
	return time.Duration(c.EnrichmentTimeoutSeconds) * time.Second
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.sugya.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.sugya) and repo (.sugya) directories.
// Repo config is found by walking upward from startDir to find the nearest .sugya/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repoConfigPath := FindRepoConfig(startDir)
	repo, err := loadFileRaw(repoConfigPath)
	if err != nil {
		return nil, err
	}

	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .sugya/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	if startDir == "" {
		return ""
	}
	dir := startDir
	for {
		configPath := filepath.Join(dir, DirName, "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{
		LogLevel:                    pickString(overlay.LogLevel, base.LogLevel),
		DatabaseURL:                 pickString(overlay.DatabaseURL, base.DatabaseURL),
		DBMaxOpenConns:              pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns),
		DBMaxIdleConns:              pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns),
		RedisURL:                    pickString(overlay.RedisURL, base.RedisURL),
		LockTTLSeconds:              pickInt(overlay.LockTTLSeconds, base.LockTTLSeconds),
		EnrichmentModel:             pickString(overlay.EnrichmentModel, base.EnrichmentModel),
		EnrichmentTimeoutSeconds:    pickInt(overlay.EnrichmentTimeoutSeconds, base.EnrichmentTimeoutSeconds),
		EnrichmentMaxTokens:         pickInt(overlay.EnrichmentMaxTokens, base.EnrichmentMaxTokens),
		EnrichmentRequestsPerMinute: pickInt(overlay.EnrichmentRequestsPerMinute, base.EnrichmentRequestsPerMinute),
	}

	// Booleans: overlay wins if true, else base
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	// Arrays: merge and deduplicate
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)

	return result
}

func pickString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, list := range [][]string{a, b} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s != "" && !seen[s] {
				seen[s] = true
				result = append(result, s)
			}
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
