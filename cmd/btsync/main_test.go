package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/openmined/btsync/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable loadConfig reads. Empty values are ignored by
// viper, and t.Setenv restores the originals on cleanup.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"_API_KEY", "_API_URL", "_ORG_NAME", "_ENV_FILE"} {
		t.Setenv(envPrefix+key, "")
	}
}

func parseRoot(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags(args))
	return loadConfig(cmd)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("BRAINTRUST_API_KEY", "sk-env")
	t.Setenv("BRAINTRUST_ORG_NAME", "acme")

	missing := filepath.Join(t.TempDir(), "missing.json")
	cfg, err := parseRoot(t, "--config", missing)
	require.NoError(t, err)

	assert.Equal(t, "sk-env", cfg.APIKey)
	assert.Equal(t, config.DefaultAPIURL, cfg.APIURL)
	assert.Equal(t, "acme", cfg.OrgName)
	assert.Equal(t, missing, cfg.Path)
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"api_key":"sk-file","api_url":"https://bt.example.com","org_name":"file-org"}`), 0o600))

	cfg, err := parseRoot(t, "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "sk-file", cfg.APIKey)
	assert.Equal(t, "https://bt.example.com", cfg.APIURL)
	assert.Equal(t, "file-org", cfg.OrgName)
}

func TestLoadConfig_Precedence(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"api_key":"sk-file","org_name":"file-org"}`), 0o600))
	t.Setenv("BRAINTRUST_API_KEY", "sk-env")

	cfg, err := parseRoot(t, "--config", path, "--org", "flag-org")
	require.NoError(t, err)
	assert.Equal(t, "sk-env", cfg.APIKey, "env beats the config file")
	assert.Equal(t, "flag-org", cfg.OrgName, "flags beat everything")

	cfg, err = parseRoot(t, "--config", path, "--api-key", "sk-flag")
	require.NoError(t, err)
	assert.Equal(t, "sk-flag", cfg.APIKey)
}

func TestLoadConfig_EnvFile(t *testing.T) {
	clearEnv(t)
	// godotenv only fills variables that are unset
	require.NoError(t, os.Unsetenv("BRAINTRUST_API_KEY"))

	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("BRAINTRUST_API_KEY=sk-dotenv\n"), 0o600))

	cfg, err := parseRoot(t, "--config", filepath.Join(dir, "missing.json"), "--env-file", envFile)
	require.NoError(t, err)
	assert.Equal(t, "sk-dotenv", cfg.APIKey)
}

func TestLoadConfig_Errors(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	_, err := parseRoot(t, "--config", filepath.Join(dir, "missing.json"), "--env-file", filepath.Join(dir, "nope.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load env file")

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o600))
	_, err = parseRoot(t, "--config", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config read")
}
