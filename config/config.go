package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Config is the vestd service configuration, loaded from a TOML file.
type Config struct {
	RPCAddress          string `toml:"RPCAddress"`
	DataDir             string `toml:"DataDir"`
	ServiceName         string `toml:"ServiceName"`
	Env                 string `toml:"Env"`
	AdminAddress        string `toml:"AdminAddress"`
	SafeAddress         string `toml:"SafeAddress"`
	VaultAddress        string `toml:"VaultAddress"`
	AllowPastStartTimes bool   `toml:"AllowPastStartTimes"`

	Auth    AuthConfig      `toml:"Auth"`
	RateLim RateLimitConfig `toml:"RateLimit"`
	Audit   AuditConfig     `toml:"Audit"`
	Log     LogConfig       `toml:"Log"`

	// GenesisBalances seeds account balances the first time the data
	// directory is initialised, keyed by 0x address. Amounts are decimal
	// strings of base units.
	GenesisBalances map[string]string `toml:"GenesisBalances"`
}

// AuthConfig controls the JWT bearer authentication on the admin API.
type AuthConfig struct {
	Enabled   bool   `toml:"Enabled"`
	SecretEnv string `toml:"SecretEnv"`
	Issuer    string `toml:"Issuer"`
	Audience  string `toml:"Audience"`
}

// RateLimitConfig controls per-client request throttling.
type RateLimitConfig struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

// AuditConfig selects the audit journal backend. An empty DatabaseURL keeps
// the journal in a SQLite file under DataDir; a postgres DSN switches to the
// shared database.
type AuditConfig struct {
	Enabled     bool   `toml:"Enabled"`
	DatabaseURL string `toml:"DatabaseURL"`
}

// LogConfig controls structured log output. When File is set, logs are
// written there with size-based rotation instead of stdout.
type LogConfig struct {
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Load loads the configuration from the given path, creating a commented
// default file when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the address fields and the auth wiring.
func (c *Config) Validate() error {
	if _, err := ParseAddress(c.SafeAddress); err != nil {
		return fmt.Errorf("config: SafeAddress: %w", err)
	}
	if _, err := ParseAddress(c.AdminAddress); err != nil {
		return fmt.Errorf("config: AdminAddress: %w", err)
	}
	if _, err := ParseAddress(c.VaultAddress); err != nil {
		return fmt.Errorf("config: VaultAddress: %w", err)
	}
	if c.Auth.Enabled {
		if strings.TrimSpace(c.Auth.SecretEnv) == "" {
			return fmt.Errorf("config: Auth.SecretEnv required when auth is enabled")
		}
		if strings.TrimSpace(os.Getenv(c.Auth.SecretEnv)) == "" {
			return fmt.Errorf("config: environment variable %s is empty", c.Auth.SecretEnv)
		}
	}
	for addr := range c.GenesisBalances {
		if _, err := ParseAddress(addr); err != nil {
			return fmt.Errorf("config: GenesisBalances key %q: %w", addr, err)
		}
	}
	return nil
}

// AuthSecret resolves the HMAC secret from the configured environment
// variable.
func (c *Config) AuthSecret() string {
	if c == nil || strings.TrimSpace(c.Auth.SecretEnv) == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.Auth.SecretEnv))
}

// ParseAddress decodes a 0x-prefixed hex address and rejects the zero
// address.
func ParseAddress(s string) ([20]byte, error) {
	trimmed := strings.TrimSpace(s)
	if !common.IsHexAddress(trimmed) {
		return [20]byte{}, fmt.Errorf("invalid address %q", s)
	}
	addr := common.HexToAddress(trimmed)
	if addr == (common.Address{}) {
		return [20]byte{}, fmt.Errorf("zero address not allowed")
	}
	return addr, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8547"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./vestd-data"
	}
	if strings.TrimSpace(cfg.ServiceName) == "" {
		cfg.ServiceName = "vestd"
	}
	if strings.TrimSpace(cfg.VaultAddress) == "" {
		cfg.VaultAddress = DefaultVaultAddress
	}
	if cfg.RateLim.RequestsPerMinute <= 0 {
		cfg.RateLim.RequestsPerMinute = 120
	}
	if cfg.RateLim.Burst <= 0 {
		cfg.RateLim.Burst = 30
	}
	if strings.TrimSpace(cfg.Auth.SecretEnv) == "" {
		cfg.Auth.SecretEnv = "VESTD_AUTH_SECRET"
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Log.MaxBackups <= 0 {
		cfg.Log.MaxBackups = 3
	}
}

// DefaultVaultAddress is the module account that escrows all vesting funds.
const DefaultVaultAddress = "0x0000000000000000000000000000564553544400"

// createDefault creates and saves a default configuration file. The admin and
// safe addresses have no sensible default, so the generated file fails
// validation until the operator fills them in.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:   ":8547",
		DataDir:      "./vestd-data",
		ServiceName:  "vestd",
		VaultAddress: DefaultVaultAddress,
		Auth: AuthConfig{
			Enabled:   true,
			SecretEnv: "VESTD_AUTH_SECRET",
			Issuer:    "vestd",
			Audience:  "vestd-admin",
		},
		RateLim: RateLimitConfig{RequestsPerMinute: 120, Burst: 30},
		Audit:   AuditConfig{Enabled: true},
		Log:     LogConfig{MaxSizeMB: 100, MaxBackups: 3},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, fmt.Errorf("config: wrote default config to %s; set AdminAddress and SafeAddress before starting", path)
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
