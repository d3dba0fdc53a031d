package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"storesync/internal/model"
)

var configEnv = []string{
	"PORT", "ENVIRONMENT", "LOG_LEVEL", "GCP_PROJECT", "STORE_ID",
	"BACKEND_TYPE", "BACKEND_URL", "BACKEND_API_KEY", "COLLECTIONS",
	"BACKEND_ENDPOINTS", "REQUEST_TIMEOUT", "DEFAULT_LOCALE", "CHROME_TLS",
	"BACKEND_DISCOVERY", "CONFIG_FILE",
}

// clearEnv blanks every variable Load reads; empty counts as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configEnv {
		t.Setenv(k, "")
	}
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("BACKEND_URL", "https://api.shop.example.com")
	t.Setenv("BACKEND_API_KEY", "key-123")
	t.Setenv("COLLECTIONS", "cart, compare")
	t.Setenv("BACKEND_ENDPOINTS", `{"compare":{"fetch":"/compare/list"}}`)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("REQUEST_TIMEOUT", "3s")
	t.Setenv("DEFAULT_LOCALE", "fr-fr")
	t.Setenv("CHROME_TLS", "true")

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Port = %s, want 9090", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
	}
	if cfg.BackendType != BackendREST {
		t.Errorf("BackendType = %s, want rest", cfg.BackendType)
	}
	if cfg.Backend.BaseURL != "https://api.shop.example.com" || cfg.Backend.APIKey != "key-123" {
		t.Errorf("Backend = %+v", cfg.Backend)
	}
	if len(cfg.Backend.Collections) != 2 || cfg.Backend.Collections[1] != model.KindCompare {
		t.Errorf("Collections = %v, want [cart compare]", cfg.Backend.Collections)
	}
	if got := cfg.EndpointsFor(model.KindCompare).Fetch; got != "/compare/list" {
		t.Errorf("compare fetch endpoint = %q", got)
	}
	if cfg.RequestTimeout != 3*time.Second {
		t.Errorf("RequestTimeout = %s, want 3s", cfg.RequestTimeout)
	}
	if cfg.DefaultLocale != "fr-FR" {
		t.Errorf("DefaultLocale = %s, want fr-FR", cfg.DefaultLocale)
	}
	if !cfg.ChromeTLS || !cfg.Discovery {
		t.Errorf("ChromeTLS = %v, Discovery = %v; want both true", cfg.ChromeTLS, cfg.Discovery)
	}
	if !cfg.Strict() {
		t.Error("development config should be strict")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("BACKEND_URL", "http://localhost:3000")

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != "8080" || cfg.Environment != "development" || cfg.LogLevel != "info" {
		t.Errorf("server defaults = %s %s %s", cfg.Port, cfg.Environment, cfg.LogLevel)
	}
	if len(cfg.Backend.Collections) != 1 || cfg.Backend.Collections[0] != model.KindCart {
		t.Errorf("Collections = %v, want [cart]", cfg.Backend.Collections)
	}
	if cfg.RequestTimeout != DefaultRequestTimeout {
		t.Errorf("RequestTimeout = %s", cfg.RequestTimeout)
	}
	if cfg.ChromeTLS || !cfg.Discovery {
		t.Errorf("ChromeTLS = %v, Discovery = %v", cfg.ChromeTLS, cfg.Discovery)
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	content := "BACKEND_URL=https://from-dotenv.example.com\nBACKEND_TYPE=woocommerce\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ENV_FILE", path)
	// Already-set variables win over the file. A variable set to the
	// empty string counts as set, so BACKEND_URL must be truly unset;
	// clearEnv's cleanup restores it.
	t.Setenv("BACKEND_TYPE", "rest")
	os.Unsetenv("BACKEND_URL")

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Backend.BaseURL != "https://from-dotenv.example.com" {
		t.Errorf("BaseURL = %s", cfg.Backend.BaseURL)
	}
	if cfg.BackendType != BackendREST {
		t.Errorf("BackendType = %s, want the environment value", cfg.BackendType)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing base url",
			env:     map[string]string{},
			wantErr: "base_url is required",
		},
		{
			name:    "relative base url",
			env:     map[string]string{"BACKEND_URL": "/api"},
			wantErr: "invalid base_url",
		},
		{
			name:    "unknown backend",
			env:     map[string]string{"BACKEND_URL": "https://x.example.com", "BACKEND_TYPE": "magento"},
			wantErr: "unsupported backend_type",
		},
		{
			name: "woocommerce with compare list",
			env: map[string]string{
				"BACKEND_URL": "https://x.example.com", "BACKEND_TYPE": "woocommerce", "COLLECTIONS": "cart,compare",
			},
			wantErr: "only the cart collection",
		},
		{
			name:    "duplicate collection",
			env:     map[string]string{"BACKEND_URL": "https://x.example.com", "COLLECTIONS": "cart,cart"},
			wantErr: "duplicate collection",
		},
		{
			name: "endpoints for unknown collection",
			env: map[string]string{
				"BACKEND_URL": "https://x.example.com", "BACKEND_ENDPOINTS": `{"listing":{"fetch":"/l"}}`,
			},
			wantErr: "unknown collection",
		},
		{
			name:    "bad timeout",
			env:     map[string]string{"BACKEND_URL": "https://x.example.com", "REQUEST_TIMEOUT": "soon"},
			wantErr: "invalid request timeout",
		},
		{
			name:    "bad locale",
			env:     map[string]string{"BACKEND_URL": "https://x.example.com", "DEFAULT_LOCALE": "??"},
			wantErr: "invalid default_locale",
		},
		{
			name:    "bad bool",
			env:     map[string]string{"BACKEND_URL": "https://x.example.com", "CHROME_TLS": "maybe"},
			wantErr: "invalid CHROME_TLS",
		},
		{
			name:    "production without project",
			env:     map[string]string{"ENVIRONMENT": "production", "STORE_ID": "shop"},
			wantErr: "GCP_PROJECT required",
		},
		{
			name:    "production without store id",
			env:     map[string]string{"ENVIRONMENT": "production", "GCP_PROJECT": "proj"},
			wantErr: "STORE_ID required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load(context.Background())
			if err == nil {
				t.Fatalf("Expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Error = %q, want containing %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"port": "7070",
		"environment": "production",
		"store_id": "demo",
		"backend_type": "woocommerce",
		"backend": {"base_url": "https://shop.example.com"},
		"request_timeout": "5s",
		"default_locale": "de",
		"chrome_tls": true,
		"discovery": false
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != "7070" || cfg.BackendType != BackendWooCommerce || cfg.StoreID != "demo" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.RequestTimeout != 5*time.Second || cfg.DefaultLocale != "de" {
		t.Errorf("RequestTimeout = %s, DefaultLocale = %s", cfg.RequestTimeout, cfg.DefaultLocale)
	}
	if !cfg.ChromeTLS || cfg.Discovery {
		t.Errorf("ChromeTLS = %v, Discovery = %v", cfg.ChromeTLS, cfg.Discovery)
	}
	if cfg.Strict() {
		t.Error("production config should not be strict")
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad json", `{`, "parsing config file"},
		{"no backend type", `{"backend":{"base_url":"https://x.example.com"}}`, "backend_type is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			path := filepath.Join(t.TempDir(), "config.json")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			t.Setenv("CONFIG_FILE", path)

			_, err := Load(context.Background())
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}

	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.json"))
	if _, err := Load(context.Background()); err == nil || !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("missing file err = %v", err)
	}
}
