package config

import (
	"fmt"
	"strings"
)

// Supported storage backends.
const (
	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
)

// ValidateConfig rejects configurations the node cannot run with.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config must not be nil")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("DataDir must be provided")
	}
	switch cfg.NormalizedBackend() {
	case BackendMemory, BackendLevelDB, BackendBolt:
	default:
		return fmt.Errorf("StorageBackend %q is not supported", cfg.StorageBackend)
	}
	return nil
}
