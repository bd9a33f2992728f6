package config

import (
	"os"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENGINE_ADDR", "")
	t.Setenv("ENGINE_ALLOWED_ORIGINS", "")
	t.Setenv("ENGINE_MAX_PAYLOAD_BYTES", "")
	t.Setenv("ENGINE_PING_INTERVAL", "")
	t.Setenv("ENGINE_MAX_CLIENTS", "")
	t.Setenv("ENGINE_TLS_CERT", "")
	t.Setenv("ENGINE_TLS_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Address != DefaultAddr {
		t.Fatalf("expected default addr %q, got %q", DefaultAddr, cfg.Address)
	}
	if cfg.AllowedOrigins != nil {
		t.Fatalf("expected no allowed origins, got %#v", cfg.AllowedOrigins)
	}
	if cfg.MaxPayloadBytes != DefaultMaxPayloadBytes {
		t.Fatalf("expected default max payload %d, got %d", DefaultMaxPayloadBytes, cfg.MaxPayloadBytes)
	}
	if cfg.PingInterval != DefaultPingInterval {
		t.Fatalf("expected default ping interval %v, got %v", DefaultPingInterval, cfg.PingInterval)
	}
	if cfg.MaxClients != DefaultMaxClients {
		t.Fatalf("expected default max clients %d, got %d", DefaultMaxClients, cfg.MaxClients)
	}
	if cfg.TLSCertPath != "" || cfg.TLSKeyPath != "" {
		t.Fatalf("expected TLS paths to be empty, got cert=%q key=%q", cfg.TLSCertPath, cfg.TLSKeyPath)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENGINE_ADDR", "127.0.0.1:9000")
	t.Setenv("ENGINE_ALLOWED_ORIGINS", "https://example.com, https://demo.local")
	t.Setenv("ENGINE_MAX_PAYLOAD_BYTES", "2048")
	t.Setenv("ENGINE_PING_INTERVAL", "45s")
	t.Setenv("ENGINE_MAX_CLIENTS", "12")
	t.Setenv("ENGINE_TLS_CERT", "/tmp/cert.pem")
	t.Setenv("ENGINE_TLS_KEY", "/tmp/key.pem")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Address != "127.0.0.1:9000" {
		t.Fatalf("unexpected address: %q", cfg.Address)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "https://example.com" || cfg.AllowedOrigins[1] != "https://demo.local" {
		t.Fatalf("unexpected allowed origins: %#v", cfg.AllowedOrigins)
	}
	if cfg.MaxPayloadBytes != 2048 {
		t.Fatalf("expected overridden max payload, got %d", cfg.MaxPayloadBytes)
	}
	if cfg.PingInterval.String() != "45s" {
		t.Fatalf("expected ping interval 45s, got %v", cfg.PingInterval)
	}
	if cfg.MaxClients != 12 {
		t.Fatalf("expected max clients 12, got %d", cfg.MaxClients)
	}
	if cfg.TLSCertPath != "/tmp/cert.pem" || cfg.TLSKeyPath != "/tmp/key.pem" {
		t.Fatalf("unexpected TLS paths cert=%q key=%q", cfg.TLSCertPath, cfg.TLSKeyPath)
	}
}

func TestLoadReturnsValidationErrors(t *testing.T) {
	t.Setenv("ENGINE_MAX_PAYLOAD_BYTES", "-5")
	t.Setenv("ENGINE_PING_INTERVAL", "abc")
	t.Setenv("ENGINE_MAX_CLIENTS", "-1")
	t.Setenv("ENGINE_TLS_CERT", "/tmp/cert.pem")
	t.Setenv("ENGINE_TLS_KEY", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error from invalid configuration, got nil")
	}

	for _, want := range []string{
		"ENGINE_MAX_PAYLOAD_BYTES",
		"ENGINE_PING_INTERVAL",
		"ENGINE_MAX_CLIENTS",
		"ENGINE_TLS_CERT",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error to mention %s, got %q", want, err.Error())
		}
	}
}

func TestLoadIgnoresEmptyAllowedOrigins(t *testing.T) {
	t.Setenv("ENGINE_ALLOWED_ORIGINS", " , ,https://ok.example, ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "https://ok.example" {
		t.Fatalf("expected single cleaned origin, got %#v", cfg.AllowedOrigins)
	}
}

func TestLoadReturnsErrorWhenEnvUnsetAfterOverride(t *testing.T) {
	t.Setenv("ENGINE_MAX_PAYLOAD_BYTES", "1024")
	t.Setenv("ENGINE_TLS_CERT", "")
	t.Setenv("ENGINE_TLS_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.MaxPayloadBytes != 1024 {
		t.Fatalf("expected overridden payload value, got %d", cfg.MaxPayloadBytes)
	}
}

func TestLoadAllowsUnlimitedClients(t *testing.T) {
	t.Setenv("ENGINE_MAX_CLIENTS", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.MaxClients != 0 {
		t.Fatalf("expected zero to disable limit, got %d", cfg.MaxClients)
	}
}

func TestLoadWithCustomTLSPair(t *testing.T) {
	certFile := createTempFile(t)
	keyFile := createTempFile(t)

	t.Setenv("ENGINE_TLS_CERT", certFile)
	t.Setenv("ENGINE_TLS_KEY", keyFile)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.TLSCertPath != certFile || cfg.TLSKeyPath != keyFile {
		t.Fatalf("unexpected TLS pair cert=%q key=%q", cfg.TLSCertPath, cfg.TLSKeyPath)
	}
}

func TestLoadSnapshotAndJournalSettings(t *testing.T) {
	t.Setenv("ENGINE_SNAPSHOT_DIR", "/var/lib/engine/snapshots")
	t.Setenv("ENGINE_SNAPSHOT_INTERVAL", "90s")
	t.Setenv("ENGINE_JOURNAL_DIR", "/var/lib/engine/journal")
	t.Setenv("ENGINE_JOURNAL_MAX_AGE", "12h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.SnapshotDir != "/var/lib/engine/snapshots" {
		t.Fatalf("unexpected snapshot dir: %q", cfg.SnapshotDir)
	}
	if cfg.SnapshotInterval.String() != "1m30s" {
		t.Fatalf("expected snapshot interval 1m30s, got %v", cfg.SnapshotInterval)
	}
	if cfg.JournalDir != "/var/lib/engine/journal" {
		t.Fatalf("unexpected journal dir: %q", cfg.JournalDir)
	}
	if cfg.JournalMaxAge.String() != "12h0m0s" {
		t.Fatalf("expected journal max age 12h, got %v", cfg.JournalMaxAge)
	}
}

func TestLoadAuthSettings(t *testing.T) {
	t.Setenv("ENGINE_AUTH_SECRET", "super-secret")
	t.Setenv("ENGINE_AUTH_LEEWAY", "5s")
	t.Setenv("ENGINE_ADMIN_TOKEN", "ops-token")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.AuthSecret != "super-secret" {
		t.Fatalf("unexpected auth secret: %q", cfg.AuthSecret)
	}
	if cfg.AuthLeeway.String() != "5s" {
		t.Fatalf("expected leeway 5s, got %v", cfg.AuthLeeway)
	}
	if cfg.AdminToken != "ops-token" {
		t.Fatalf("unexpected admin token: %q", cfg.AdminToken)
	}
}

func TestLoadAuthLeewayDefaultsAndValidation(t *testing.T) {
	t.Setenv("ENGINE_AUTH_LEEWAY", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.AuthLeeway != DefaultAuthLeeway {
		t.Fatalf("expected default leeway %v, got %v", DefaultAuthLeeway, cfg.AuthLeeway)
	}

	t.Setenv("ENGINE_AUTH_LEEWAY", "-2s")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "ENGINE_AUTH_LEEWAY") {
		t.Fatalf("expected validation error mentioning ENGINE_AUTH_LEEWAY, got %v", err)
	}
}

func createTempFile(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp("", "engine-config-test-*")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	name := f.Name()
	f.Close()
	t.Cleanup(func() { _ = os.Remove(name) })
	return name
}
