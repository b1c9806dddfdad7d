package mutkit

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c0deZ3R0/go-mutation-kit/logging"
)

// EngineConfig is the file-loadable configuration for an Engine. Executors,
// journals and metrics are code, not config; everything tunable by an
// operator lives here.
type EngineConfig struct {
	MaxAttempts         int     `json:"max_attempts" yaml:"max_attempts"`
	BaseDelayMs         int     `json:"base_delay_ms" yaml:"base_delay_ms"`
	MaxDelayMs          int     `json:"max_delay_ms" yaml:"max_delay_ms"`
	BackoffMultiplier   float64 `json:"backoff_multiplier" yaml:"backoff_multiplier"`
	ConflictVisibility  string  `json:"conflict_visibility,omitempty" yaml:"conflict_visibility,omitempty"`
	ProjectionCacheSize int     `json:"projection_cache_size,omitempty" yaml:"projection_cache_size,omitempty"`

	Logging *logging.Config `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// DefaultEngineConfig returns the configuration an Engine gets when no file
// is loaded.
func DefaultEngineConfig() EngineConfig {
	retry := DefaultRetryConfig()
	return EngineConfig{
		MaxAttempts:         retry.MaxAttempts,
		BaseDelayMs:         int(retry.BaseDelay / time.Millisecond),
		MaxDelayMs:          int(retry.MaxDelay / time.Millisecond),
		BackoffMultiplier:   retry.Multiplier,
		ConflictVisibility:  string(VisibilityOptimistic),
		ProjectionCacheSize: defaultProjectionCacheSize,
	}
}

// LoadConfigFile reads an EngineConfig from a YAML or JSON file; the format
// is detected from the extension. Missing fields keep their defaults.
func LoadConfigFile(path string) (EngineConfig, error) {
	cfg := DefaultEngineConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	switch detectConfigFormat(path) {
	case "json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse JSON config %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse YAML config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func detectConfigFormat(path string) string {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return "yaml"
	}
	switch strings.ToLower(path[idx+1:]) {
	case "json":
		return "json"
	default:
		return "yaml"
	}
}

// Validate checks the configuration for values the builder would reject.
func (c EngineConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.BaseDelayMs <= 0 {
		return fmt.Errorf("base_delay_ms must be positive, got %d", c.BaseDelayMs)
	}
	if c.MaxDelayMs < c.BaseDelayMs {
		return fmt.Errorf("max_delay_ms %d is below base_delay_ms %d", c.MaxDelayMs, c.BaseDelayMs)
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be at least 1, got %g", c.BackoffMultiplier)
	}
	if c.ProjectionCacheSize < 0 {
		return fmt.Errorf("projection_cache_size cannot be negative, got %d", c.ProjectionCacheSize)
	}
	switch ConflictVisibility(c.ConflictVisibility) {
	case "", VisibilityOptimistic, VisibilityFrozen:
	default:
		return fmt.Errorf("unknown conflict_visibility %q", c.ConflictVisibility)
	}
	return nil
}

// RetryConfig converts the duration fields to a RetryConfig.
func (c EngineConfig) RetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   time.Duration(c.BaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(c.MaxDelayMs) * time.Millisecond,
		Multiplier:  c.BackoffMultiplier,
	}
}

// Options expands the configuration into engine options, for use as
// NewEngine(append(cfg.Options(), WithExecutor(exec))...).
func (c EngineConfig) Options() []Option {
	opts := []Option{
		WithRetryConfig(c.RetryConfig()),
	}
	if c.ConflictVisibility != "" {
		opts = append(opts, WithConflictVisibility(ConflictVisibility(c.ConflictVisibility)))
	}
	if c.ProjectionCacheSize > 0 {
		opts = append(opts, WithProjectionCacheSize(c.ProjectionCacheSize))
	}
	if c.Logging != nil {
		opts = append(opts, WithLogger(logging.NewLogger(*c.Logging).Logger))
	}
	return opts
}

// PolicyByName maps a config-friendly strategy name to a resolution policy.
// Merge policies need code and are not addressable by name.
func PolicyByName(name string) (ResolutionPolicy, error) {
	switch strings.ToLower(name) {
	case "keep_local", "local":
		return KeepLocal(), nil
	case "keep_remote", "remote":
		return KeepRemote(), nil
	default:
		return nil, fmt.Errorf("unknown resolution policy: %s", name)
	}
}
