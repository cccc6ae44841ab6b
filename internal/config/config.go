// Package config provides configuration management for depbox.
// It handles the YAML configuration file and the DEPBOX_* environment
// overrides for endpoints and credentials.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/clean-dependency-project/depbox/internal/endpoint"
	"github.com/clean-dependency-project/depbox/internal/proximity"
)

// Default values applied by the getters when a field is empty or invalid.
const (
	DefaultCatalogTTL   = 900 * time.Second
	DefaultFetchTimeout = 30 * time.Second
	DefaultGitHubTTL    = 7200 * time.Second
	DefaultBucketTTL    = 900 * time.Second
)

// Environment variables read by ApplyEnv.
const (
	EnvGitHubToken   = "DEPBOX_GITHUB_TOKEN"
	EnvMaxMindDBPath = "DEPBOX_MAXMINDDB_PATH"
	EnvCacheDir      = "DEPBOX_CACHE_DIR"
)

// Sentinel errors for configuration validation
var (
	ErrNoEndpoints       = errors.New("at least one endpoint must be configured")
	ErrEndpointKey       = errors.New("endpoint key is required")
	ErrEndpointURL       = errors.New("endpoint url is required")
	ErrInvalidStrategy   = errors.New("invalid geoip strategy")
	ErrBucketRequired    = errors.New("bucket name is required when bucket listing is enabled")
	ErrKeyringConflict   = errors.New("catalog keyring_path and keys are mutually exclusive")
	ErrInvalidEnvIndex   = errors.New("invalid endpoint index in environment variable")
	ErrIncompleteEnvSpec = errors.New("endpoint from environment needs a display name and url")
)

var endpointEnvPattern = regexp.MustCompile(`^DEPBOX_S3_ENDPOINT__(\d+)__(.+?)__(DISPLAY_NAME|URL|LOC)$`)

// Config represents the top-level configuration structure.
type Config struct {
	Version   string           `yaml:"version"`
	Endpoints []EndpointConfig `yaml:"endpoints"`
	Catalog   CatalogConfig    `yaml:"catalog"`
	GeoIP     GeoIPConfig      `yaml:"geoip"`
	Nightly   NightlyConfig    `yaml:"nightly"`
	GitHub    GitHubConfig     `yaml:"github"`
	Bucket    BucketConfig     `yaml:"bucket"`
}

// EndpointConfig is one content origin, in priority order.
type EndpointConfig struct {
	Key         string `yaml:"key"`
	DisplayName string `yaml:"display_name"`
	URL         string `yaml:"url"`
	Location    string `yaml:"location"` // "lat lon", optional
}

// CatalogConfig controls fetching of products.yml.
type CatalogConfig struct {
	TTL         string `yaml:"ttl"`
	Timeout     string `yaml:"timeout"`
	UserAgent   string `yaml:"user_agent"`
	KeyringPath string   `yaml:"keyring_path"` // directory of .asc keys; enables signature checks
	Keys        []string `yaml:"keys"`         // inline armored keys, instead of keyring_path
}

// RequiresSignature reports whether catalog signatures are checked.
func (c *CatalogConfig) RequiresSignature() bool {
	return c.KeyringPath != "" || len(c.Keys) > 0
}

// GeoIPConfig controls endpoint proximity selection.
type GeoIPConfig struct {
	DatabasePath string `yaml:"database_path"`
	Strategy     string `yaml:"strategy"`
	PublicIPURL  string `yaml:"public_ip_url"`
}

// NightlyConfig controls the nightly artifact cache.
type NightlyConfig struct {
	CacheDir  string     `yaml:"cache_dir"`
	HistoryDB string     `yaml:"history_db"`
	Scan      ScanConfig `yaml:"scan"`
}

// ScanConfig enables ClamAV scanning of downloaded nightly archives.
type ScanConfig struct {
	Enabled bool   `yaml:"enabled"`
	Image   string `yaml:"image"` // clamav/clamav-debian:latest when empty
}

// GitHubConfig controls the GitHub API client.
type GitHubConfig struct {
	Token    string `yaml:"token"`
	CacheTTL string `yaml:"cache_ttl"`
	BaseURL  string `yaml:"base_url"`
}

// BucketConfig controls the optional S3 bucket listing used for file
// sizes and dates.
type BucketConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	Prefix       string `yaml:"prefix"`
	UsePathStyle bool   `yaml:"use_path_style"`
	TTL          string `yaml:"ttl"`
}

// GetTTL returns the catalog cache TTL.
func (c *CatalogConfig) GetTTL() time.Duration {
	return parseDurationOr(c.TTL, DefaultCatalogTTL)
}

// GetTimeout returns the per-request fetch timeout.
func (c *CatalogConfig) GetTimeout() time.Duration {
	return parseDurationOr(c.Timeout, DefaultFetchTimeout)
}

// GetCacheTTL returns the TTL for cached GitHub responses.
func (g *GitHubConfig) GetCacheTTL() time.Duration {
	return parseDurationOr(g.CacheTTL, DefaultGitHubTTL)
}

// GetTTL returns the bucket listing TTL.
func (b *BucketConfig) GetTTL() time.Duration {
	return parseDurationOr(b.TTL, DefaultBucketTTL)
}

// GetStrategy returns the parsed proximity strategy.
func (g *GeoIPConfig) GetStrategy() (proximity.Strategy, error) {
	s, err := proximity.ParseStrategy(g.Strategy)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidStrategy, err)
	}
	return s, nil
}

// GetPublicIPURL returns the address discovery service URL.
func (g *GeoIPConfig) GetPublicIPURL() string {
	if g.PublicIPURL == "" {
		return proximity.DefaultPublicIPURL
	}
	return g.PublicIPURL
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// LoadConfig loads the configuration from a YAML file and applies the
// process environment on top. An empty path loads from the environment
// only.
func LoadConfig(filePath string) (*Config, error) {
	config := DefaultConfig()
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", filePath, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", filePath, err)
		}
	}

	if err := config.ApplyEnv(os.Environ()); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// ApplyEnv overrides fields from KEY=VALUE pairs. Endpoints declared as
// DEPBOX_S3_ENDPOINT__<n>__<key>__{DISPLAY_NAME,URL,LOC} replace the
// configured endpoint list, ordered by <n>.
func (c *Config) ApplyEnv(environ []string) error {
	type envEndpoint struct {
		order int
		ep    EndpointConfig
	}
	found := make(map[string]*envEndpoint)

	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}

		switch name {
		case EnvGitHubToken:
			c.GitHub.Token = value
			continue
		case EnvMaxMindDBPath:
			c.GeoIP.DatabasePath = value
			continue
		case EnvCacheDir:
			c.Nightly.CacheDir = value
			continue
		}

		m := endpointEnvPattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		order, err := strconv.Atoi(m[1])
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidEnvIndex, name)
		}

		key := m[2]
		e, exists := found[key]
		if !exists {
			e = &envEndpoint{order: order, ep: EndpointConfig{Key: key}}
			found[key] = e
		}
		switch m[3] {
		case "DISPLAY_NAME":
			e.ep.DisplayName = value
		case "URL":
			e.ep.URL = value
		case "LOC":
			e.ep.Location = value
		}
	}

	if len(found) == 0 {
		return nil
	}

	list := make([]*envEndpoint, 0, len(found))
	for _, e := range found {
		if e.ep.DisplayName == "" || e.ep.URL == "" {
			return fmt.Errorf("%w: %s", ErrIncompleteEnvSpec, e.ep.Key)
		}
		list = append(list, e)
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].order != list[j].order {
			return list[i].order < list[j].order
		}
		return list[i].ep.Key < list[j].ep.Key
	})

	c.Endpoints = make([]EndpointConfig, len(list))
	for i, e := range list {
		c.Endpoints[i] = e.ep
	}
	return nil
}

// Validate validates the configuration structure and required fields.
func (c *Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return ErrNoEndpoints
	}
	for i, ep := range c.Endpoints {
		if err := ep.Validate(); err != nil {
			return fmt.Errorf("endpoint %d: %w", i, err)
		}
	}
	if _, err := c.GeoIP.GetStrategy(); err != nil {
		return fmt.Errorf("geoip: %w", err)
	}
	if c.Bucket.Enabled && c.Bucket.Bucket == "" {
		return ErrBucketRequired
	}
	if c.Catalog.KeyringPath != "" && len(c.Catalog.Keys) > 0 {
		return ErrKeyringConflict
	}
	return nil
}

// Validate validates an endpoint entry.
func (e *EndpointConfig) Validate() error {
	if e.Key == "" {
		return ErrEndpointKey
	}
	if e.URL == "" {
		return ErrEndpointURL
	}
	if e.Location != "" {
		if _, err := endpoint.ParseLocation(e.Location); err != nil {
			return fmt.Errorf("endpoint %s: %w", e.Key, err)
		}
	}
	return nil
}

// EndpointSet builds the ordered endpoint set.
func (c *Config) EndpointSet() (*endpoint.Set, error) {
	eps := make([]endpoint.Endpoint, 0, len(c.Endpoints))
	for _, ec := range c.Endpoints {
		ep := endpoint.Endpoint{Key: ec.Key, DisplayName: ec.DisplayName, URL: ec.URL}
		if ec.Location != "" {
			loc, err := endpoint.ParseLocation(ec.Location)
			if err != nil {
				return nil, fmt.Errorf("endpoint %s: %w", ec.Key, err)
			}
			ep.Location = &loc
		}
		eps = append(eps, ep)
	}
	return endpoint.NewSet(eps...)
}

// DefaultConfig returns a configuration with every optional section at
// its default and no endpoints.
func DefaultConfig() *Config {
	return &Config{
		Version: "1.0",
		GeoIP: GeoIPConfig{
			Strategy: string(proximity.StrategyPerRequest),
		},
	}
}
