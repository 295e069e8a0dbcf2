package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testAdmin = "0x1111111111111111111111111111111111111111"
const testSafe = "0x2222222222222222222222222222222222222222"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected error demanding operator addresses")
	}
	if !strings.Contains(err.Error(), "AdminAddress") {
		t.Fatalf("error should mention missing addresses: %v", err)
	}
	raw, readErr := os.ReadFile(path)
	if readErr != nil {
		t.Fatalf("default file not written: %v", readErr)
	}
	if !strings.Contains(string(raw), "VESTD_AUTH_SECRET") {
		t.Fatalf("default file missing auth secret env: %s", raw)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
AdminAddress = "`+testAdmin+`"
SafeAddress = "`+testSafe+`"

[Auth]
Enabled = false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != ":8547" {
		t.Fatalf("rpc address default = %q", cfg.RPCAddress)
	}
	if cfg.VaultAddress != DefaultVaultAddress {
		t.Fatalf("vault address default = %q", cfg.VaultAddress)
	}
	if cfg.RateLim.RequestsPerMinute != 120 || cfg.RateLim.Burst != 30 {
		t.Fatalf("rate limit defaults = %+v", cfg.RateLim)
	}
	if cfg.ServiceName != "vestd" {
		t.Fatalf("service name default = %q", cfg.ServiceName)
	}
}

func TestLoadRejectsBadAddresses(t *testing.T) {
	path := writeConfig(t, `
AdminAddress = "not-an-address"
SafeAddress = "`+testSafe+`"

[Auth]
Enabled = false
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for invalid admin address")
	}
}

func TestValidateAuthSecret(t *testing.T) {
	path := writeConfig(t, `
AdminAddress = "`+testAdmin+`"
SafeAddress = "`+testSafe+`"

[Auth]
Enabled = true
SecretEnv = "VESTD_TEST_SECRET"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error when secret env is empty")
	}
	t.Setenv("VESTD_TEST_SECRET", "super-secret")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load with secret set: %v", err)
	}
	if cfg.AuthSecret() != "super-secret" {
		t.Fatalf("auth secret = %q", cfg.AuthSecret())
	}
}

func TestValidateGenesisBalances(t *testing.T) {
	path := writeConfig(t, `
AdminAddress = "`+testAdmin+`"
SafeAddress = "`+testSafe+`"

[Auth]
Enabled = false

[GenesisBalances]
"bogus" = "100"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for invalid genesis balance key")
	}
}

func TestParseAddress(t *testing.T) {
	if _, err := ParseAddress(testAdmin); err != nil {
		t.Fatalf("parse valid address: %v", err)
	}
	if _, err := ParseAddress("0x0000000000000000000000000000000000000000"); err == nil {
		t.Fatalf("expected rejection of zero address")
	}
	if _, err := ParseAddress("0x123"); err == nil {
		t.Fatalf("expected rejection of short address")
	}
	if _, err := ParseAddress(""); err == nil {
		t.Fatalf("expected rejection of empty address")
	}
}
