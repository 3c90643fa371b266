package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_valid(t *testing.T) {
	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.Server.WriteTimeout != 30*time.Second {
		t.Errorf("Server.WriteTimeout = %v, want default 30s", cfg.Server.WriteTimeout)
	}
	if cfg.Identity.Issuer != "https://auth.example.com" {
		t.Errorf("Identity.Issuer = %q", cfg.Identity.Issuer)
	}
	if cfg.Identity.Audience != "ria-services" {
		t.Errorf("Identity.Audience = %q", cfg.Identity.Audience)
	}
	if len(cfg.Identity.Algorithms) != 2 {
		t.Errorf("Identity.Algorithms = %v, want 2 entries", cfg.Identity.Algorithms)
	}
	if cfg.Identity.RolePolicyFile != "/etc/ria/roles.yaml" || cfg.Identity.RoleCacheTTL != time.Minute {
		t.Errorf("role policy = %q ttl %v", cfg.Identity.RolePolicyFile, cfg.Identity.RoleCacheTTL)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.DSNEnv != "CATALOG_DSN" || cfg.Store.MaxConns != 20 {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if !cfg.Idempotency.Enabled || cfg.Idempotency.Store.Driver != "redis" {
		t.Errorf("Idempotency = %+v", cfg.Idempotency)
	}
	if cfg.Idempotency.Store.DefaultTTL != time.Hour {
		t.Errorf("Idempotency.Store.DefaultTTL = %v, want 1h", cfg.Idempotency.Store.DefaultTTL)
	}
	if cfg.Codegen.Package != "catalogclient" || len(cfg.Codegen.SharedSources) != 1 {
		t.Errorf("Codegen = %+v", cfg.Codegen)
	}
	if !cfg.Codegen.GenerateWebContext {
		t.Error("Codegen.GenerateWebContext should keep its default")
	}
	if cfg.Observability.Tracing.Exporter != "stdout" {
		t.Errorf("Tracing.Exporter = %q, want stdout", cfg.Observability.Tracing.Exporter)
	}
}

func TestLoad_missing_file(t *testing.T) {
	_, err := Load("testdata/nonexistent.yaml")
	if err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_empty_path_uses_defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("Store.Driver = %q, want memory", cfg.Store.Driver)
	}
}

func TestLoad_missing_identity(t *testing.T) {
	_, err := Load("testdata/missing_identity.yaml")
	if err == nil {
		t.Fatal("Load() with missing identity should return error")
	}
	for _, want := range []string{"identity.issuer", "identity.jwks_url", "identity.audience"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoad_unsupported_store_driver(t *testing.T) {
	_, err := Load("testdata/bad_driver.yaml")
	if err == nil || !strings.Contains(err.Error(), "store.driver") {
		t.Fatalf("Load() error = %v, want store.driver error", err)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Identity.Enabled {
		t.Error("identity should be disabled by default")
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want info", cfg.Observability.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RIA_SERVER_PORT", "3000")
	t.Setenv("RIA_IDENTITY_ISSUER", "https://env-issuer.com")
	t.Setenv("RIA_IDENTITY_AUDIENCE", "env-audience")
	t.Setenv("RIA_OBSERVABILITY_LOG_LEVEL", "error")
	t.Setenv("RIA_STORE_DRIVER", "memory")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000 (env override)", cfg.Server.Port)
	}
	if cfg.Identity.Issuer != "https://env-issuer.com" {
		t.Errorf("Identity.Issuer = %q, want env override", cfg.Identity.Issuer)
	}
	if cfg.Identity.Audience != "env-audience" {
		t.Errorf("Identity.Audience = %q, want env override", cfg.Identity.Audience)
	}
	if cfg.Observability.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error (env override)", cfg.Observability.LogLevel)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("Store.Driver = %q, want memory (env override)", cfg.Store.Driver)
	}
}

func TestEnvOverrides_invalid_port_ignored(t *testing.T) {
	t.Setenv("RIA_SERVER_PORT", "not-a-port")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want file value 9090", cfg.Server.Port)
	}
}

func TestValidate_invalid_port(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() with port 0 should return error")
	}
}

func TestValidate_idempotency_driver(t *testing.T) {
	cfg := Defaults()
	cfg.Idempotency.Enabled = true
	cfg.Idempotency.Store.Driver = "memcached"

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() with an unknown idempotency driver should return error")
	}
}
