// Package config loads gateway settings from the environment. CLI flags in
// cmd/oracled override what is read here.
package config

import (
	"fmt"
	"os"
)

// Environment variable names.
const (
	EnvWSPort   = "ORACLE_WS_PORT"
	EnvAPIPort  = "ORACLE_API_PORT"
	EnvDBPath   = "ORACLE_DB_PATH"
	EnvLogLevel = "ORACLE_LOG_LEVEL"

	EnvChainRPCURL     = "ORACLE_CHAIN_RPC_URL"
	EnvChainPackage    = "ORACLE_CHAIN_PACKAGE"
	EnvChainRegistry   = "ORACLE_CHAIN_REGISTRY"
	EnvChainSigningKey = "ORACLE_CHAIN_SIGNING_KEY"
)

// Defaults.
const (
	DefaultWSPort   = "8080"
	DefaultAPIPort  = "8081"
	DefaultDBPath   = "oracle.db"
	DefaultLogLevel = "info"
)

// Config is the process configuration.
type Config struct {
	WSPort   string
	APIPort  string
	DBPath   string
	LogLevel string

	// Chain settings. All four must be present for chain mirroring; the
	// gateway otherwise runs local-only and stages submissions durably.
	ChainRPCURL     string
	ChainPackage    string
	ChainRegistry   string
	ChainSigningKey string
}

// ChainEnabled reports whether every chain setting is present.
func (c *Config) ChainEnabled() bool {
	return c.ChainRPCURL != "" && c.ChainPackage != "" && c.ChainRegistry != "" && c.ChainSigningKey != ""
}

// Validate rejects partially configured chain settings, which are almost
// certainly a deployment mistake rather than an intentional local-only run.
func (c *Config) Validate() error {
	set := 0
	for _, v := range []string{c.ChainRPCURL, c.ChainPackage, c.ChainRegistry, c.ChainSigningKey} {
		if v != "" {
			set++
		}
	}
	if set != 0 && set != 4 {
		return fmt.Errorf("partial chain configuration: %s, %s, %s and %s must all be set or all be empty",
			EnvChainRPCURL, EnvChainPackage, EnvChainRegistry, EnvChainSigningKey)
	}
	return nil
}

// FromEnv reads the configuration from the environment, applying defaults.
func FromEnv() *Config {
	return &Config{
		WSPort:          envOr(EnvWSPort, DefaultWSPort),
		APIPort:         envOr(EnvAPIPort, DefaultAPIPort),
		DBPath:          envOr(EnvDBPath, DefaultDBPath),
		LogLevel:        envOr(EnvLogLevel, DefaultLogLevel),
		ChainRPCURL:     os.Getenv(EnvChainRPCURL),
		ChainPackage:    os.Getenv(EnvChainPackage),
		ChainRegistry:   os.Getenv(EnvChainRegistry),
		ChainSigningKey: os.Getenv(EnvChainSigningKey),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
