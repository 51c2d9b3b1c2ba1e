package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/LightHostingFree/sslgen/internal/acme"
	"github.com/LightHostingFree/sslgen/internal/certerr"
	"github.com/LightHostingFree/sslgen/internal/config"
	"github.com/spf13/viper"
)

func baseViper() *viper.Viper {
	v := viper.New()
	config.SetDefaults(v)
	v.Set("secret.encryption_key", "k")
	v.Set("zone.host", "validation.example.net")
	v.Set("zone.api_url", "https://dns.example.net/v4")
	v.Set("zone.zone_id", "zone-1")
	v.Set("zone.api_token", "tok")
	return v
}

func TestLoad_defaults(t *testing.T) {
	cfg, err := config.Load(baseViper())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Zone.RetryAttempts != 3 || cfg.Zone.RetryBase != time.Second {
		t.Errorf("retry defaults: %d %v", cfg.Zone.RetryAttempts, cfg.Zone.RetryBase)
	}
	if cfg.ACME.PropagationDelay != 20*time.Second || !cfg.ACME.Precheck {
		t.Errorf("acme defaults: %+v", cfg.ACME)
	}
	if cfg.Certificate.Validity != 90*24*time.Hour {
		t.Errorf("validity: %v", cfg.Certificate.Validity)
	}
	if cfg.SMTPEnabled() {
		t.Error("SMTP should be disabled without a host")
	}

	cas := cfg.CAs()
	if cas[config.CALetsEncrypt].DirectoryURL != acme.LetsEncryptProduction {
		t.Errorf("production directory: %q", cas[config.CALetsEncrypt].DirectoryURL)
	}
	if cas[config.CALetsEncryptStaging].DirectoryURL != acme.LetsEncryptStaging {
		t.Errorf("staging directory: %q", cas[config.CALetsEncryptStaging].DirectoryURL)
	}
	if _, ok := cas[config.CAExternal]; ok {
		t.Error("EAB profile must not exist without credentials")
	}
}

func TestLoad_eabProfile(t *testing.T) {
	v := baseViper()
	v.Set("acme.eab_kid", "kid-1")
	v.Set("acme.eab_hmac_key", "c2VjcmV0")
	cfg, err := config.Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ca, ok := cfg.CAs()[config.CAExternal]
	if !ok || ca.EAB == nil || ca.EAB.KID != "kid-1" {
		t.Errorf("EAB profile: %+v", ca)
	}
}

func TestLoad_invalid(t *testing.T) {
	tests := []struct {
		name string
		set  map[string]any
	}{
		{"missing encryption key", map[string]any{"secret.encryption_key": ""}},
		{"missing zone token", map[string]any{"zone.api_token": ""}},
		{"unknown provider", map[string]any{"zone.provider": "route53"}},
		{"acmedns without url", map[string]any{"zone.provider": "acmedns"}},
		{"half EAB", map[string]any{"acme.eab_kid": "kid-1"}},
		{"unknown default CA", map[string]any{"acme.default_ca": "zerossl"}},
		{"threshold past validity", map[string]any{"certificate.expiry_threshold": 100 * 24 * time.Hour}},
		{"zero attempts", map[string]any{"zone.retry_attempts": 0}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := baseViper()
			for k, val := range tc.set {
				v.Set(k, val)
			}
			_, err := config.Load(v)
			if !errors.Is(err, certerr.Config) {
				t.Errorf("expected Config error, got %v", err)
			}
		})
	}
}

func TestNewViper_fileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "sslgen.yaml")
	yaml := []byte("secret:\n  encryption_key: from-file\nzone:\n  provider: acmedns\n  acmedns_url: https://auth.acme-dns.io\n")
	if err := os.WriteFile(file, yaml, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ACME_ISSUE_TIMEOUT", "90s")

	v, err := config.NewViper(file)
	if err != nil {
		t.Fatalf("NewViper: %v", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.EncryptionKey != "from-file" || cfg.Zone.Provider != "acmedns" {
		t.Errorf("file values: %+v", cfg)
	}
	if cfg.ACME.IssueTimeout != 90*time.Second {
		t.Errorf("env override: %v", cfg.ACME.IssueTimeout)
	}
}
