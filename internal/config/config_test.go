package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clean-dependency-project/depbox/internal/endpoint"
	"github.com/clean-dependency-project/depbox/internal/proximity"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "depbox.yaml")
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name        string
		configData  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config",
			configData: `
version: "1.0"
endpoints:
  - key: eu
    display_name: Europe
    url: https://eu.example.org/
    location: "50.11 8.68"
  - key: us
    display_name: United States
    url: https://us.example.org
catalog:
  ttl: 10m
  timeout: 5s
geoip:
  database_path: /var/lib/GeoLite2-City.mmdb
  strategy: startup
nightly:
  cache_dir: /var/cache/depbox
github:
  cache_ttl: 1h
`,
		},
		{
			name: "no endpoints",
			configData: `
version: "1.0"
endpoints: []
`,
			expectError: true,
			errorMsg:    "at least one endpoint must be configured",
		},
		{
			name: "endpoint without url",
			configData: `
endpoints:
  - key: eu
`,
			expectError: true,
			errorMsg:    "endpoint url is required",
		},
		{
			name: "bad location",
			configData: `
endpoints:
  - key: eu
    url: https://eu.example.org
    location: "north"
`,
			expectError: true,
			errorMsg:    "location",
		},
		{
			name: "unknown strategy",
			configData: `
endpoints:
  - key: eu
    url: https://eu.example.org
geoip:
  strategy: nearest
`,
			expectError: true,
			errorMsg:    "invalid geoip strategy",
		},
		{
			name: "bucket without name",
			configData: `
endpoints:
  - key: eu
    url: https://eu.example.org
bucket:
  enabled: true
`,
			expectError: true,
			errorMsg:    "bucket name is required",
		},
		{
			name: "keyring path and inline keys",
			configData: `
endpoints:
  - key: eu
    url: https://eu.example.org
catalog:
  keyring_path: /etc/depbox/keys
  keys:
    - "-----BEGIN PGP PUBLIC KEY BLOCK-----"
`,
			expectError: true,
			errorMsg:    "mutually exclusive",
		},
		{
			name: "invalid yaml",
			configData: `
endpoints:
  - key: [
`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := LoadConfig(writeConfig(t, tt.configData))
			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error but got none")
				}
				if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error containing %q, got %q", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if config == nil {
				t.Fatal("Expected config but got nil")
			}
		})
	}
}

func TestLoadConfig_NightlyScan(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, `
endpoints:
  - key: eu
    url: https://eu.example.org
nightly:
  history_db: /var/lib/depbox/history.db
  scan:
    enabled: true
    image: clamav/clamav:1.4
`))
	if err != nil {
		t.Fatalf("LoadConfig() unexpected error: %v", err)
	}
	if !config.Nightly.Scan.Enabled || config.Nightly.Scan.Image != "clamav/clamav:1.4" {
		t.Errorf("Nightly.Scan = %+v", config.Nightly.Scan)
	}
	if config.Nightly.HistoryDB != "/var/lib/depbox/history.db" {
		t.Errorf("Nightly.HistoryDB = %q", config.Nightly.HistoryDB)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LoadConfig() error = %v, want os.ErrNotExist", err)
	}
}

func TestLoadConfig_EnvOnly(t *testing.T) {
	t.Setenv("DEPBOX_S3_ENDPOINT__0__eu__DISPLAY_NAME", "Europe")
	t.Setenv("DEPBOX_S3_ENDPOINT__0__eu__URL", "https://eu.example.org")
	t.Setenv("DEPBOX_CACHE_DIR", "/tmp/nightlies")

	config, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig(\"\") unexpected error: %v", err)
	}
	if len(config.Endpoints) != 1 || config.Endpoints[0].Key != "eu" {
		t.Errorf("Endpoints = %+v, want one endpoint eu", config.Endpoints)
	}
	if config.Nightly.CacheDir != "/tmp/nightlies" {
		t.Errorf("Nightly.CacheDir = %q", config.Nightly.CacheDir)
	}
}

func TestApplyEnv(t *testing.T) {
	config := DefaultConfig()
	config.Endpoints = []EndpointConfig{{Key: "file", URL: "https://file.example.org"}}

	environ := []string{
		"PATH=/usr/bin",
		"DEPBOX_S3_ENDPOINT__2__us__DISPLAY_NAME=United States",
		"DEPBOX_S3_ENDPOINT__2__us__URL=https://us.example.org",
		"DEPBOX_S3_ENDPOINT__1__eu__URL=https://eu.example.org",
		"DEPBOX_S3_ENDPOINT__1__eu__DISPLAY_NAME=Europe",
		"DEPBOX_S3_ENDPOINT__1__eu__LOC=50.11 8.68",
		"DEPBOX_GITHUB_TOKEN=ghp_test",
		"DEPBOX_MAXMINDDB_PATH=/tmp/city.mmdb",
		"DEPBOX_CACHE_DIR=/tmp/nightlies",
	}
	if err := config.ApplyEnv(environ); err != nil {
		t.Fatalf("ApplyEnv() unexpected error: %v", err)
	}

	if len(config.Endpoints) != 2 {
		t.Fatalf("len(Endpoints) = %d, want 2", len(config.Endpoints))
	}
	if config.Endpoints[0].Key != "eu" || config.Endpoints[1].Key != "us" {
		t.Errorf("endpoint order = %s, %s, want eu, us", config.Endpoints[0].Key, config.Endpoints[1].Key)
	}
	if config.Endpoints[0].Location != "50.11 8.68" {
		t.Errorf("eu location = %q", config.Endpoints[0].Location)
	}
	if config.GitHub.Token != "ghp_test" {
		t.Errorf("GitHub.Token = %q", config.GitHub.Token)
	}
	if config.GeoIP.DatabasePath != "/tmp/city.mmdb" || config.Nightly.CacheDir != "/tmp/nightlies" {
		t.Errorf("GeoIP.DatabasePath = %q, Nightly.CacheDir = %q", config.GeoIP.DatabasePath, config.Nightly.CacheDir)
	}
}

func TestApplyEnv_NoEndpointVarsKeepsFile(t *testing.T) {
	config := DefaultConfig()
	config.Endpoints = []EndpointConfig{{Key: "file", URL: "https://file.example.org"}}

	if err := config.ApplyEnv([]string{"DEPBOX_GITHUB_TOKEN=ghp_test"}); err != nil {
		t.Fatalf("ApplyEnv() unexpected error: %v", err)
	}
	if len(config.Endpoints) != 1 || config.Endpoints[0].Key != "file" {
		t.Errorf("Endpoints = %+v, want the file endpoint", config.Endpoints)
	}
}

func TestApplyEnv_Incomplete(t *testing.T) {
	config := DefaultConfig()
	err := config.ApplyEnv([]string{"DEPBOX_S3_ENDPOINT__0__eu__LOC=1 2"})
	if !errors.Is(err, ErrIncompleteEnvSpec) {
		t.Errorf("ApplyEnv() error = %v, want ErrIncompleteEnvSpec", err)
	}
}

func TestEndpointSet(t *testing.T) {
	config := DefaultConfig()
	config.Endpoints = []EndpointConfig{
		{Key: "eu", DisplayName: "Europe", URL: "https://eu.example.org/", Location: "50.11 8.68"},
		{Key: "us", URL: "https://us.example.org"},
	}

	set, err := config.EndpointSet()
	if err != nil {
		t.Fatalf("EndpointSet() unexpected error: %v", err)
	}
	if set.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", set.Len())
	}
	eu := set.First()
	if eu.URL != "https://eu.example.org" {
		t.Errorf("URL = %q, want trailing slash trimmed", eu.URL)
	}
	if eu.Location == nil || *eu.Location != (endpoint.Location{Lat: 50.11, Lon: 8.68}) {
		t.Errorf("Location = %v", eu.Location)
	}
	us, ok := set.Get("us")
	if !ok || us.Location != nil {
		t.Errorf("Get(us) = %+v, %v, want endpoint without location", us, ok)
	}
}

func TestDurationGetters(t *testing.T) {
	tests := []struct {
		name string
		got  func() time.Duration
		want time.Duration
	}{
		{"catalog ttl default", (&CatalogConfig{}).GetTTL, DefaultCatalogTTL},
		{"catalog ttl set", (&CatalogConfig{TTL: "5m"}).GetTTL, 5 * time.Minute},
		{"catalog ttl invalid", (&CatalogConfig{TTL: "soon"}).GetTTL, DefaultCatalogTTL},
		{"catalog ttl negative", (&CatalogConfig{TTL: "-1m"}).GetTTL, DefaultCatalogTTL},
		{"fetch timeout default", (&CatalogConfig{}).GetTimeout, DefaultFetchTimeout},
		{"github ttl default", (&GitHubConfig{}).GetCacheTTL, DefaultGitHubTTL},
		{"github ttl set", (&GitHubConfig{CacheTTL: "30m"}).GetCacheTTL, 30 * time.Minute},
		{"bucket ttl default", (&BucketConfig{}).GetTTL, DefaultBucketTTL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.got(); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGeoIPGetters(t *testing.T) {
	g := GeoIPConfig{}
	if s, err := g.GetStrategy(); err != nil || s != proximity.StrategyPerRequest {
		t.Errorf("GetStrategy() = %v, %v, want per_request", s, err)
	}
	if g.GetPublicIPURL() != proximity.DefaultPublicIPURL {
		t.Errorf("GetPublicIPURL() = %q", g.GetPublicIPURL())
	}
}
