package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.RPCAddress)
	require.Equal(t, "development", cfg.Environment)
	require.NotEmpty(t, cfg.ServiceKeystorePath)

	// The default file and the keystore are persisted.
	_, err = os.Stat(path)
	require.NoError(t, err)
	_, err = os.Stat(cfg.ServiceKeystorePath)
	require.NoError(t, err)

	// A second load round-trips the persisted file.
	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.RPCAddress, again.RPCAddress)
	require.Equal(t, cfg.ServiceKeystorePath, again.ServiceKeystorePath)
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
RPCAddress = ":9090"
DataDir = "./data"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.RPCAddress)
	require.Equal(t, "development", cfg.Environment)
	require.Equal(t, float64(50), cfg.RPCRateLimit)
	require.Equal(t, 100, cfg.RPCRateBurst)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			RPCAddress:   ":8080",
			DataDir:      "./data",
			Environment:  "production",
			RPCRateLimit: 10,
			RPCRateBurst: 20,
		}
	}

	require.NoError(t, base().Validate())

	cfg := base()
	cfg.RPCAddress = " "
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.DataDir = ""
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Environment = "qa"
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.RPCRateLimit = 0
	require.Error(t, cfg.Validate())
}

func TestAuthSecret(t *testing.T) {
	cfg := &Config{}
	require.Empty(t, cfg.AuthSecret())

	cfg.RPCAuthSecretEnv = "ORDERVAULT_TEST_SECRET"
	t.Setenv("ORDERVAULT_TEST_SECRET", "  hunter2  ")
	require.Equal(t, "hunter2", cfg.AuthSecret())
}
