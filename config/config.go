package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"aerocdp/crypto"
	"aerocdp/native/cdp"
)

// Config is the cdpd daemon configuration.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	KeeperAddress string `toml:"KeeperAddress"`
	DataDir       string `toml:"DataDir"`
	Environment   string `toml:"Environment"`
	// Pauses lists modules ("cdp") or actions ("cdp.redeem") paused at start.
	Pauses []string `toml:"Pauses"`

	Engine    Engine    `toml:"engine"`
	Fees      Fees      `toml:"fees"`
	Oracle    Oracle    `toml:"oracle"`
	Journal   Journal   `toml:"journal"`
	Auth      Auth      `toml:"auth"`
	RateLimit RateLimit `toml:"rate_limit"`
	Logging   Logging   `toml:"logging"`
	Telemetry Telemetry `toml:"telemetry"`
}

// Default returns a configuration suitable for a local devnet.
func Default() *Config {
	params := cdp.DefaultParams()
	return &Config{
		ListenAddress: ":8545",
		KeeperAddress: ":9545",
		DataDir:       "./cdp-data",
		Environment:   "local",
		Pauses:        []string{},
		Engine: Engine{
			MinimumCollateralRatio:  params.MinimumCollateralRatio,
			ProtocolFeePercent:      params.ProtocolFeePercent,
			MinimumLoanAmount:       params.MinimumLoanAmount,
			MinimumCollateralAmount: params.MinimumCollateralAmount,
			MaxLiquidationBatch:     params.MaxLiquidationBatch,
			StableDenom:             params.StableDenom,
			CollateralDenoms:        []string{"atom"},
		},
		Fees: Fees{
			StakeEnabled: true,
			StakeAddress: crypto.ModuleAddress("fee-collector").String(),
		},
		Oracle:    Oracle{MaxAgeSeconds: 300},
		Journal:   Journal{Driver: "sqlite", DSN: "journal.db"},
		RateLimit: RateLimit{RequestsPerMinute: 120, Burst: 20},
		Logging:   Logging{Level: "info", Format: "json"},
	}
}

// Load reads the configuration at path, writing a default file first when none
// exists. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := Default()
	cfg.Engine.CollateralDenoms = nil
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	cfg.resolveEnv()
	cfg.resolvePaths(path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) resolveEnv() {
	if c.Auth.HMACSecretEnv != "" {
		if v := strings.TrimSpace(os.Getenv(c.Auth.HMACSecretEnv)); v != "" {
			c.Auth.HMACSecret = v
		}
	}
	if c.Auth.KeeperTokenEnv != "" {
		if v := strings.TrimSpace(os.Getenv(c.Auth.KeeperTokenEnv)); v != "" {
			c.Auth.KeeperToken = v
		}
	}
	if c.Journal.DSNEnv != "" {
		if v := strings.TrimSpace(os.Getenv(c.Journal.DSNEnv)); v != "" {
			c.Journal.DSN = v
		}
	}
}

// resolvePaths anchors relative file paths at the config file's directory.
func (c *Config) resolvePaths(configPath string) {
	base := filepath.Dir(configPath)
	anchor := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.DataDir = anchor(c.DataDir)
	c.Oracle.SeedFile = anchor(c.Oracle.SeedFile)
	if c.Journal.Driver == "sqlite" && !strings.HasPrefix(c.Journal.DSN, "file:") {
		c.Journal.DSN = anchor(c.Journal.DSN)
	}
	c.Logging.File = anchor(c.Logging.File)
}

func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	cfg.resolvePaths(path)
	return cfg, nil
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
