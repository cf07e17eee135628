package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ordervault/crypto"

	"github.com/BurntSushi/toml"
)

type Config struct {
	RPCAddress          string  `toml:"RPCAddress"`
	DataDir             string  `toml:"DataDir"`
	GenesisFile         string  `toml:"GenesisFile"`
	ServiceKeystorePath string  `toml:"ServiceKeystorePath"`
	Environment         string  `toml:"Environment"`
	LogFile             string  `toml:"LogFile"`
	AuditDSN            string  `toml:"AuditDSN"`
	RPCAuthSecretEnv    string  `toml:"RPCAuthSecretEnv"`
	RPCRateLimit        float64 `toml:"RPCRateLimit"`
	RPCRateBurst        int     `toml:"RPCRateBurst"`
	OTLPEndpoint        string  `toml:"OTLPEndpoint"`
}

// Load loads the configuration from the given path. A missing file is not an
// error: a default config is created, persisted, and returned.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress must not be empty")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir must not be empty")
	}
	if c.RPCRateLimit <= 0 {
		return fmt.Errorf("config: RPCRateLimit must be positive")
	}
	if c.RPCRateBurst <= 0 {
		return fmt.Errorf("config: RPCRateBurst must be positive")
	}
	switch c.Environment {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("config: unknown Environment %q", c.Environment)
	}
	return nil
}

// AuthSecret resolves the RPC bearer-token signing secret from the configured
// environment variable. Empty means authentication is disabled.
func (c *Config) AuthSecret() string {
	env := strings.TrimSpace(c.RPCAuthSecretEnv)
	if env == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(env))
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "development"
	}
	if cfg.RPCRateLimit == 0 {
		cfg.RPCRateLimit = 50
	}
	if cfg.RPCRateBurst == 0 {
		cfg.RPCRateBurst = 100
	}
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.ServiceKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.ServiceKeystorePath != keystorePath {
		cfg.ServiceKeystorePath = keystorePath
		return persist(configPath, cfg)
	}

	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCAddress:  ":8080",
		DataDir:     "./ordervault-data",
		GenesisFile: "",
		Environment: "development",
	}
	cfg.ServiceKeystorePath = keystorePath
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

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "service.keystore")
}
