// Package config loads the pagestore proxy configuration from a JSONC file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"github.com/Sternrassler/pagestore/pkg/logging"
	"github.com/Sternrassler/pagestore/pkg/pagination"
	"github.com/tailscale/hujson"
)

// Errors returned by Load.
var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigInvalid      = errors.New("invalid config")
	ErrNoResources        = errors.New("no resources configured")
	ErrDuplicateResource  = errors.New("duplicate resource name")
)

var resourceName = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Config holds all proxy configuration options.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `json:"listen"`

	// Redis is the address of the shared cache. Empty keeps caches in memory.
	Redis string `json:"redis,omitempty"`

	LogLevel  string `json:"log_level,omitempty"`
	LogPretty bool   `json:"log_pretty,omitempty"`

	// UserAgent is sent with every upstream request.
	UserAgent string `json:"user_agent,omitempty"`

	// CacheTTL is the lifetime of pages in the fetch cache. Zero disables it.
	CacheTTL Duration `json:"cache_ttl,omitempty"`

	// MaxPageSize and MaxRangePages bound client requests for resources that
	// do not set their own limits.
	MaxPageSize   int `json:"max_page_size,omitempty"`
	MaxRangePages int `json:"max_range_pages,omitempty"`

	Resources []ResourceConfig `json:"resources"`

	// Source is the file the config was loaded from, if any.
	Source string `json:"-"`
}

// ResourceConfig declares one proxied resource.
type ResourceConfig struct {
	Name           string            `json:"name"`
	URL            string            `json:"url"`
	Prefetch       bool              `json:"prefetch,omitempty"`
	CacheCapacity  int               `json:"cache_capacity,omitempty"`
	MaxConcurrency int               `json:"max_concurrency,omitempty"`
	MaxPageSize    int               `json:"max_page_size,omitempty"`
	MaxRangePages  int               `json:"max_range_pages,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
}

// Options returns the pagination options of the resource.
func (r ResourceConfig) Options() pagination.Options {
	return pagination.Options{
		Prefetch:       r.Prefetch,
		CacheCapacity:  r.CacheCapacity,
		MaxConcurrency: r.MaxConcurrency,
		MaxPageSize:    r.MaxPageSize,
		MaxRangePages:  r.MaxRangePages,
	}
}

// Duration is a time.Duration written as a Go duration string ("90s").
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Listen:    ":8080",
		LogLevel:  "info",
		UserAgent: "pagestore-proxy/0.1.0",
		CacheTTL:  Duration(5 * time.Minute),

		MaxPageSize:   500,
		MaxRangePages: 50,
	}
}

// Overrides are flag or environment values applied on top of the file.
// Empty fields are ignored.
type Overrides struct {
	Listen    string
	Redis     string
	LogLevel  string
	UserAgent string
}

// Load reads the config with the following precedence (highest wins):
// 1. Defaults
// 2. The JSONC file at path (if path is non-empty)
// 3. Overrides.
func Load(path string, overrides Overrides) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return Config{}, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
			}
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		fileCfg, err := Parse(data)
		if err != nil {
			return Config{}, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
		}
		cfg = merge(cfg, fileCfg)
		cfg.Source = path
	}

	cfg = applyOverrides(cfg, overrides)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	cfg.Resources = cfg.resourcesWithLimits()
	return cfg, nil
}

// resourcesWithLimits copies the global request limits into resources that
// leave them unset.
func (c Config) resourcesWithLimits() []ResourceConfig {
	resources := make([]ResourceConfig, len(c.Resources))
	for i, r := range c.Resources {
		if r.MaxPageSize == 0 {
			r.MaxPageSize = c.MaxPageSize
		}
		if r.MaxRangePages == 0 {
			r.MaxRangePages = c.MaxRangePages
		}
		resources[i] = r
	}
	return resources
}

// Parse decodes a JSONC document. Comments and trailing commas are allowed.
func Parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}
	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.Listen != "" {
		base.Listen = overlay.Listen
	}
	if overlay.Redis != "" {
		base.Redis = overlay.Redis
	}
	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}
	if overlay.LogPretty {
		base.LogPretty = true
	}
	if overlay.UserAgent != "" {
		base.UserAgent = overlay.UserAgent
	}
	if overlay.CacheTTL != 0 {
		base.CacheTTL = overlay.CacheTTL
	}
	if overlay.MaxPageSize != 0 {
		base.MaxPageSize = overlay.MaxPageSize
	}
	if overlay.MaxRangePages != 0 {
		base.MaxRangePages = overlay.MaxRangePages
	}
	if len(overlay.Resources) > 0 {
		base.Resources = overlay.Resources
	}
	return base
}

func applyOverrides(cfg Config, o Overrides) Config {
	return merge(cfg, Config{
		Listen:    o.Listen,
		Redis:     o.Redis,
		LogLevel:  o.LogLevel,
		UserAgent: o.UserAgent,
	})
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("%w: listen address is empty", ErrConfigInvalid)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("%w: user_agent is empty", ErrConfigInvalid)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("%w: cache_ttl is negative", ErrConfigInvalid)
	}
	if c.MaxPageSize < 0 || c.MaxRangePages < 0 {
		return fmt.Errorf("%w: max_page_size and max_range_pages must not be negative", ErrConfigInvalid)
	}
	if len(c.Resources) == 0 {
		return ErrNoResources
	}

	seen := make(map[string]bool, len(c.Resources))
	for i, r := range c.Resources {
		if !resourceName.MatchString(r.Name) {
			return fmt.Errorf("%w: resources[%d]: name %q must match %s", ErrConfigInvalid, i, r.Name, resourceName)
		}
		if seen[r.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateResource, r.Name)
		}
		seen[r.Name] = true

		u, err := url.Parse(r.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: resources[%d] (%s): url %q must be an absolute http(s) url", ErrConfigInvalid, i, r.Name, r.URL)
		}
		if r.CacheCapacity < 0 || r.MaxConcurrency < 0 || r.MaxPageSize < 0 || r.MaxRangePages < 0 {
			return fmt.Errorf("%w: resources[%d] (%s): capacity, concurrency and limits must not be negative", ErrConfigInvalid, i, r.Name)
		}
	}
	return nil
}
