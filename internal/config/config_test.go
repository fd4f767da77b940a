package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gatherer.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-gatherer
api:
  rest_url: https://sandbox.voltenergy.io/v1
  access_token: abc123
database:
  timescale:
    host: localhost
    port: 5432
    name: test_ts
    user: testuser
    password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-gatherer" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-gatherer")
	}
	if cfg.API.RestURL != "https://sandbox.voltenergy.io/v1" {
		t.Errorf("API.RestURL = %q, want %q", cfg.API.RestURL, "https://sandbox.voltenergy.io/v1")
	}
	if cfg.Database.Timescale.Host != "localhost" {
		t.Errorf("Database.Timescale.Host = %q, want %q", cfg.Database.Timescale.Host, "localhost")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_VOLT_TOKEN", "secret123")

	yaml := `
instance:
  id: test-gatherer
api:
  access_token: ${TEST_VOLT_TOKEN}
database:
  timescale:
    host: localhost
    name: test_ts
    user: testuser
    password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.API.AccessToken != "secret123" {
		t.Errorf("API.AccessToken = %q, want %q", cfg.API.AccessToken, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-gatherer
api:
  access_token: abc123
database:
  timescale:
    host: localhost
    name: test_ts
    user: testuser
    password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.API.RestURL != DefaultRestURL {
		t.Errorf("API.RestURL = %q, want default %q", cfg.API.RestURL, DefaultRestURL)
	}
	if cfg.Feed.ReconnectBaseDelay != DefaultReconnectBaseDelay {
		t.Errorf("Feed.ReconnectBaseDelay = %s, want default %s", cfg.Feed.ReconnectBaseDelay, DefaultReconnectBaseDelay)
	}
	if cfg.Feed.InactivityTimeout != 90*time.Second {
		t.Errorf("Feed.InactivityTimeout = %s, want 90s", cfg.Feed.InactivityTimeout)
	}
	if cfg.Database.Timescale.Port != DefaultDBPort {
		t.Errorf("Database.Timescale.Port = %d, want default %d", cfg.Database.Timescale.Port, DefaultDBPort)
	}
	if cfg.Writers.BatchSize != DefaultBatchSize {
		t.Errorf("Writers.BatchSize = %d, want default %d", cfg.Writers.BatchSize, DefaultBatchSize)
	}
}

func TestValidate(t *testing.T) {
	base := func() *GathererConfig {
		cfg := &GathererConfig{
			Instance: InstanceConfig{ID: "g1"},
			API:      APIConfig{AccessToken: "abc123"},
			Database: DatabaseConfig{
				Timescale: DBConfig{
					Host: "localhost", Name: "ts", User: "u", Password: "p",
				},
			},
		}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*GathererConfig)
		wantErr bool
	}{
		{"valid", func(c *GathererConfig) {}, false},
		{"missing instance id", func(c *GathererConfig) { c.Instance.ID = "" }, true},
		{"missing access token", func(c *GathererConfig) { c.API.AccessToken = "" }, true},
		{"missing db host", func(c *GathererConfig) { c.Database.Timescale.Host = "" }, true},
		{"base delay above max", func(c *GathererConfig) {
			c.Feed.ReconnectBaseDelay = 2 * time.Minute
		}, true},
		{"inactivity below read timeout", func(c *GathererConfig) {
			c.Feed.InactivityTimeout = time.Second
		}, true},
		{"zero batch size", func(c *GathererConfig) { c.Writers.BatchSize = -1 }, true},
		{"bad health port", func(c *GathererConfig) { c.Health.Port = 70000 }, true},
		{"min conns above max", func(c *GathererConfig) {
			c.Database.Timescale.MinConns = 20
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
