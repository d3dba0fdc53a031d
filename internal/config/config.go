// Package config handles loading and validation of service configuration.
// Supports both development (env vars, .env file) and production (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/joho/godotenv"

	"storesync/internal/model"
	"storesync/internal/reconcile"
	"storesync/internal/rest"
)

// Backend types.
const (
	BackendREST        = "rest"
	BackendWooCommerce = "woocommerce"
)

// DefaultRequestTimeout bounds each upstream call when not configured.
const DefaultRequestTimeout = 10 * time.Second

// Config holds all service configuration.
// Environment determines whether backend credentials load from env vars (development) or Secret Manager (production).
type Config struct {
	// Server settings
	Port        string
	Environment string // "development" or "production"
	LogLevel    string // "debug", "info", "warn", "error"

	// GCP settings (required in production)
	GCPProject string
	StoreID    string

	// BackendType selects the upstream dialect: "rest" or "woocommerce".
	BackendType string

	// Backend-specific configuration (loaded from secrets in production)
	Backend BackendConfig

	// Sync behavior
	RequestTimeout time.Duration
	DefaultLocale  string
	ChromeTLS      bool // Use the Chrome TLS fingerprint for upstream calls
	Discovery      bool // Query the backend profile for optional features
}

// BackendConfig contains the upstream store settings.
// In production, this is loaded from Secret Manager as JSON.
// In development, loaded from individual env vars or CONFIG_FILE.
type BackendConfig struct {
	BaseURL     string       `json:"base_url"`
	APIKey      string       `json:"api_key,omitempty"`
	Collections []model.Kind `json:"collections,omitempty"`

	// Endpoints overrides the REST path templates per collection.
	Endpoints map[model.Kind]rest.Endpoints `json:"endpoints,omitempty"`
}

// Strict reports whether collection invariant violations should panic.
func (c *Config) Strict() bool {
	return c.Environment != "production"
}

// EndpointsFor returns the REST endpoints configured for kind.
func (c *Config) EndpointsFor(kind model.Kind) rest.Endpoints {
	return c.Backend.Endpoints[kind]
}

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) → ENV vars / Secret Manager.
// Outside production a .env file (ENV_FILE, default ".env") seeds the
// environment without overriding variables that are already set.
// Validates all required fields and returns an error if any are missing.
func Load(ctx context.Context) (*Config, error) {
	if os.Getenv("ENVIRONMENT") != "production" {
		if err := loadDotEnv(envOrDefault("ENV_FILE", ".env")); err != nil {
			return nil, err
		}
	}

	// If CONFIG_FILE is set, load everything from the JSON file
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromFile(configPath)
	}

	cfg := &Config{
		Port:          envOrDefault("PORT", "8080"),
		Environment:   envOrDefault("ENVIRONMENT", "development"),
		LogLevel:      envOrDefault("LOG_LEVEL", "info"),
		GCPProject:    os.Getenv("GCP_PROJECT"),
		StoreID:       os.Getenv("STORE_ID"),
		BackendType:   envOrDefault("BACKEND_TYPE", BackendREST),
		DefaultLocale: os.Getenv("DEFAULT_LOCALE"),
	}

	var err error
	if cfg.RequestTimeout, err = parseTimeout(os.Getenv("REQUEST_TIMEOUT")); err != nil {
		return nil, err
	}
	if cfg.ChromeTLS, err = parseBool("CHROME_TLS", false); err != nil {
		return nil, err
	}
	if cfg.Discovery, err = parseBool("BACKEND_DISCOVERY", true); err != nil {
		return nil, err
	}

	// Load backend config based on environment
	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		if cfg.StoreID == "" {
			return nil, fmt.Errorf("STORE_ID required in production environment")
		}
		err = cfg.loadFromSecretManager(ctx)
	} else {
		err = cfg.loadFromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("loading backend config: %w", err)
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv loads path into the process environment. A missing file is
// not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// loadFromFile reads all configuration from a JSON file.
// Used for local development to avoid multiple ENV vars.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Use a struct that matches the JSON structure
	var fileConfig struct {
		Port           string        `json:"port"`
		Environment    string        `json:"environment"`
		LogLevel       string        `json:"log_level"`
		StoreID        string        `json:"store_id"`
		BackendType    string        `json:"backend_type"`
		Backend        BackendConfig `json:"backend"`
		RequestTimeout string        `json:"request_timeout"`
		DefaultLocale  string        `json:"default_locale"`
		ChromeTLS      bool          `json:"chrome_tls"`
		Discovery      *bool         `json:"discovery"`
	}

	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := &Config{
		Port:          withDefault(fileConfig.Port, "8080"),
		Environment:   withDefault(fileConfig.Environment, "development"),
		LogLevel:      withDefault(fileConfig.LogLevel, "info"),
		StoreID:       fileConfig.StoreID,
		BackendType:   fileConfig.BackendType,
		Backend:       fileConfig.Backend,
		DefaultLocale: fileConfig.DefaultLocale,
		ChromeTLS:     fileConfig.ChromeTLS,
		Discovery:     fileConfig.Discovery == nil || *fileConfig.Discovery,
	}
	if cfg.RequestTimeout, err = parseTimeout(fileConfig.RequestTimeout); err != nil {
		return nil, err
	}

	if cfg.BackendType == "" {
		return nil, fmt.Errorf("backend_type is required (rest or woocommerce)")
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withDefault returns val if non-empty, otherwise defaultVal.
func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

// loadFromSecretManager fetches backend config from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{store_id}/versions/latest
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
		c.GCPProject, c.StoreID)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	if err := json.Unmarshal(result.Payload.Data, &c.Backend); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}

	return nil
}

// loadFromEnv reads backend config from individual environment variables.
// Used in development mode for local testing.
func (c *Config) loadFromEnv() error {
	c.Backend = BackendConfig{
		BaseURL: os.Getenv("BACKEND_URL"),
		APIKey:  os.Getenv("BACKEND_API_KEY"),
	}

	if list := os.Getenv("COLLECTIONS"); list != "" {
		for _, name := range strings.Split(list, ",") {
			if name = strings.TrimSpace(name); name != "" {
				c.Backend.Collections = append(c.Backend.Collections, model.Kind(name))
			}
		}
	}

	// Parse endpoint overrides JSON if provided
	if endpointsJSON := os.Getenv("BACKEND_ENDPOINTS"); endpointsJSON != "" {
		if err := json.Unmarshal([]byte(endpointsJSON), &c.Backend.Endpoints); err != nil {
			return fmt.Errorf("parsing BACKEND_ENDPOINTS JSON: %w", err)
		}
	}

	return nil
}

// finish applies defaults and validates.
func (c *Config) finish() error {
	if len(c.Backend.Collections) == 0 {
		c.Backend.Collections = []model.Kind{model.KindCart}
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.DefaultLocale != "" {
		tag, err := reconcile.CanonicalLocale(c.DefaultLocale)
		if err != nil {
			return fmt.Errorf("invalid default_locale: %w", err)
		}
		c.DefaultLocale = tag
	}
	return c.validate()
}

// validate checks that all required configuration fields are present.
func (c *Config) validate() error {
	switch c.BackendType {
	case BackendREST:
	case BackendWooCommerce:
		// The Store API only exposes a cart
		for _, kind := range c.Backend.Collections {
			if kind != model.KindCart {
				return fmt.Errorf("woocommerce backend supports only the cart collection, got %q", kind)
			}
		}
	default:
		return fmt.Errorf("unsupported backend_type: %s", c.BackendType)
	}

	if c.Backend.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("invalid base_url: %q must be an absolute http(s) URL", c.Backend.BaseURL)
	}

	seen := make(map[model.Kind]bool, len(c.Backend.Collections))
	for _, kind := range c.Backend.Collections {
		if seen[kind] {
			return fmt.Errorf("duplicate collection %q", kind)
		}
		seen[kind] = true
	}
	for kind := range c.Backend.Endpoints {
		if !seen[kind] {
			return fmt.Errorf("endpoints configured for unknown collection %q", kind)
		}
	}
	return nil
}

// parseTimeout parses a Go duration ("10s"). Empty means the default.
func parseTimeout(s string) (time.Duration, error) {
	if s == "" {
		return DefaultRequestTimeout, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid request timeout %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("request timeout must be positive, got %s", d)
	}
	return d, nil
}

// parseBool reads a boolean env var, returning def when unset.
func parseBool(key string, def bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
