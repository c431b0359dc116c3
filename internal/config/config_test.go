package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	for _, path := range []string{"", filepath.Join(t.TempDir(), "missing.yaml")} {
		m := NewManager(path)
		cfg, err := m.Load()
		if err != nil {
			t.Fatalf("Load(%q): %v", path, err)
		}
		if cfg.Bridge.CentralContextURL != "http://localhost:9000" {
			t.Fatalf("url = %q", cfg.Bridge.CentralContextURL)
		}
		if cfg.Bridge.BucketName != "notifications" {
			t.Fatalf("bucket = %q", cfg.Bridge.BucketName)
		}
		if cfg.Bridge.Port != 9001 {
			t.Fatalf("port = %d", cfg.Bridge.Port)
		}
		if m.Get() != cfg {
			t.Fatal("Get() did not return committed config")
		}
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeConfig(t, "bridge.yaml", `
bridge:
  central_context_url: http://ctx.example:9000
  bucket_name: desk
logging:
  level: debug
  console: true
`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bridge.CentralContextURL != "http://ctx.example:9000" {
		t.Fatalf("url = %q", cfg.Bridge.CentralContextURL)
	}
	if cfg.Bridge.BucketName != "desk" {
		t.Fatalf("bucket = %q", cfg.Bridge.BucketName)
	}
	// untouched sections keep defaults
	if cfg.Bridge.Port != 9001 {
		t.Fatalf("port = %d", cfg.Bridge.Port)
	}
	if cfg.Stats.Schedule != "@every 5m" {
		t.Fatalf("schedule = %q", cfg.Stats.Schedule)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "bridge.yaml", `
bridge:
  central_context_url: http://ctx.example:9000
  not_a_field: true
`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvCentralContextURL, "http://env.example:9100")
	t.Setenv(EnvBucketName, "env-bucket")
	t.Setenv(EnvPort, "9102")

	path := writeConfig(t, "bridge.yaml", `
bridge:
  central_context_url: http://file.example:9000
  bucket_name: file-bucket
  port: 9001
`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bridge.CentralContextURL != "http://env.example:9100" {
		t.Fatalf("url = %q, env must win over file", cfg.Bridge.CentralContextURL)
	}
	if cfg.Bridge.BucketName != "env-bucket" {
		t.Fatalf("bucket = %q", cfg.Bridge.BucketName)
	}
	if cfg.Bridge.Port != 9102 {
		t.Fatalf("port = %d", cfg.Bridge.Port)
	}
}

func TestEnvInvalidPort(t *testing.T) {
	t.Setenv(EnvPort, "not-a-port")
	if _, err := NewManager("").Load(); err == nil {
		t.Fatal("expected error for invalid port override")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "defaults", mutate: func(*Config) {}, ok: true},
		{name: "empty url", mutate: func(c *Config) { c.Bridge.CentralContextURL = "" }},
		{name: "bad scheme", mutate: func(c *Config) { c.Bridge.CentralContextURL = "ftp://x" }},
		{name: "empty bucket", mutate: func(c *Config) { c.Bridge.BucketName = " " }},
		{name: "zero port", mutate: func(c *Config) { c.Bridge.Port = 0 }},
		{name: "huge port", mutate: func(c *Config) { c.Bridge.Port = 70000 }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
