package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the ledger node configuration. A missing file is created with
// defaults on first load so a bare binary starts without ceremony.
type Config struct {
	DataDir        string `toml:"DataDir"`
	StorageBackend string `toml:"StorageBackend"`
	GenesisFile    string `toml:"GenesisFile"`
	NetworkName    string `toml:"NetworkName"`
	ServiceName    string `toml:"ServiceName"`
	Env            string `toml:"Env"`
	RPCAddress     string `toml:"RPCAddress"`
	MetricsAddress string `toml:"MetricsAddress"`
	Pauses         Pauses `toml:"Pauses"`
}

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}

	for _, undecoded := range meta.Undecoded() {
		if len(undecoded) == 1 && undecoded[0] == "Backend" {
			return nil, fmt.Errorf("config file %s uses deprecated Backend field; rename it to StorageBackend", path)
		}
	}

	applyDefaults(cfg)
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// NormalizedBackend returns the configured storage backend in canonical form.
func (c *Config) NormalizedBackend() string {
	return strings.ToLower(strings.TrimSpace(c.StorageBackend))
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./ledger-data"
	}
	if strings.TrimSpace(cfg.StorageBackend) == "" {
		cfg.StorageBackend = BackendLevelDB
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "marginledger-local"
	}
	if strings.TrimSpace(cfg.ServiceName) == "" {
		cfg.ServiceName = "ledgerd"
	}
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = "127.0.0.1:8645"
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
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
