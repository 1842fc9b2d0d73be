// Package config manages the application configuration: a JSON file backed by
// a filesystem, with DATAVIEW_* environment variables taking precedence over
// file values.
package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/mandelsoft/vfs/pkg/vfs"
)

// Config represents the application configuration, backed by a filesystem for
// persistence.
type Config struct {
	// Address is the network address in [host]:port format the API server
	// listens on.
	Address string `env:"ADDRESS" json:"address,omitempty"`

	// Locations of the four logical datastores. Any SQLite DSN is accepted,
	// including in-memory ones.
	CacheDatabaseURL   string `env:"CACHE_DATABASE_URL"   json:"cache_database_url,omitempty"`
	QueueDatabaseURL   string `env:"QUEUE_DATABASE_URL"   json:"queue_database_url,omitempty"`
	MetricsDatabaseURL string `env:"METRICS_DATABASE_URL" json:"metrics_database_url,omitempty"`
	CatalogDatabaseURL string `env:"CATALOG_DATABASE_URL" json:"catalog_database_url,omitempty"`

	// AssetsBaseURL is the public base URL parquet download links are built
	// on. AssetsSigningKey signs those links; an empty key disables signing.
	AssetsBaseURL    string `env:"ASSETS_BASE_URL"    json:"assets_base_url,omitempty"`
	AssetsSigningKey string `env:"ASSETS_SIGNING_KEY" json:"assets_signing_key,omitempty"`

	// APIToken is a static bearer token granting access to gated datasets and
	// the admin endpoints. The JWT settings additionally accept signed tokens
	// issued by an external identity provider.
	APIToken    string `env:"API_TOKEN"    json:"api_token,omitempty"`
	JWTSecret   string `env:"JWT_SECRET"   json:"jwt_secret,omitempty"`
	JWTIssuer   string `env:"JWT_ISSUER"   json:"jwt_issuer,omitempty"`
	JWTAudience string `env:"JWT_AUDIENCE" json:"jwt_audience,omitempty"`

	// MaxRowsPerSplit truncates splits at ingest time. Truncated splits are
	// marked partial everywhere they are served.
	MaxRowsPerSplit int64 `env:"MAX_ROWS_PER_SPLIT" json:"max_rows_per_split,omitempty"`

	fs   vfs.FileSystem
	path string
}

// NewConfig creates a new Config instance with the specified filesystem and
// configuration file path.
func NewConfig(fs vfs.FileSystem, path string) *Config {
	return &Config{fs: fs, path: path}
}

// Load reads and parses the configuration file from the filesystem, then
// applies environment variable overrides. If the file doesn't exist, it
// initializes with an empty configuration.
func (c *Config) Load(environ []string) error {
	if err := c.fs.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed creating configuration directory: %w", err)
	}

	configJSON, err := vfs.ReadFile(c.fs, c.path)
	if err != nil && !vfs.IsErrNotExist(err) {
		return fmt.Errorf("failed reading configuration file: %w", err)
	}

	// Ensure that unmarshalling JSON doesn't fail if the file doesn't exist or is empty.
	if len(configJSON) == 0 {
		configJSON = []byte("{}")
	}
	if err = json.Unmarshal(configJSON, c); err != nil {
		return fmt.Errorf("failed parsing configuration file: %w", err)
	}

	err = env.ParseWithOptions(c, env.Options{
		Prefix:      "DATAVIEW_",
		Environment: envMap(environ),
	})
	if err != nil {
		return fmt.Errorf("failed parsing configuration environment variables: %w", err)
	}

	return nil
}

// Path returns the filesystem path where the configuration is stored.
func (c *Config) Path() string {
	return c.path
}

// Save writes the current configuration to the filesystem as JSON.
func (c *Config) Save() error {
	if err := c.fs.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed creating configuration directory: %w", err)
	}
	configJSON, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed serializing configuration data: %w", err)
	}
	if err = vfs.WriteFile(c.fs, c.path, configJSON, 0o644); err != nil {
		return fmt.Errorf("failed writing configuration file: %w", err)
	}

	return nil
}

// SetDefaults sets default configuration values if they weren't set already.
// The store databases default to files under dataDir.
func (c *Config) SetDefaults(dataDir string) {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.CacheDatabaseURL == "" {
		c.CacheDatabaseURL = filepath.Join(dataDir, "cache.db")
	}
	if c.QueueDatabaseURL == "" {
		c.QueueDatabaseURL = filepath.Join(dataDir, "queue.db")
	}
	if c.MetricsDatabaseURL == "" {
		c.MetricsDatabaseURL = filepath.Join(dataDir, "metrics.db")
	}
	if c.CatalogDatabaseURL == "" {
		c.CatalogDatabaseURL = filepath.Join(dataDir, "catalog.db")
	}
	if c.AssetsBaseURL == "" {
		c.AssetsBaseURL = "http://localhost:8080/assets"
	}
	if c.MaxRowsPerSplit <= 0 {
		c.MaxRowsPerSplit = 100_000
	}
}

func envMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		m[k] = v
	}

	return m
}
