package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the loader at a config file under a temp dir so the test is
// independent of any popwatch.yml in the working directory.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("POPWATCH_CONFIG_FILE", filepath.Join(dir, "popwatch.yml"))
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Server.RateLimit.Enabled)
	assert.Equal(t, 24*time.Hour, cfg.License.TokenTTL)
	assert.Equal(t, 2, cfg.License.OfflineGraceDays)
	assert.Equal(t, time.Hour, cfg.License.RecheckInterval)
	assert.Equal(t, 70*time.Second, cfg.Client.Timeout)
	assert.Equal(t, 3, cfg.Client.RetryAttempts)
	assert.Equal(t, 3, cfg.Client.PromptAttempts)
	assert.Empty(t, cfg.Database.DSN)
	assert.Contains(t, cfg.Paths.DataDir, ".popwatch")
}

func TestLoadYAMLFile(t *testing.T) {
	dir := isolate(t)
	yml := `
server:
  port: 9000
license:
  secret: from-yaml
  offline_grace_days: 5
client:
  server_url: https://license.example.com
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "popwatch.yml"), []byte(yml), 0o600))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "from-yaml", cfg.License.Secret)
	assert.Equal(t, 5, cfg.License.OfflineGraceDays)
	assert.Equal(t, "https://license.example.com", cfg.Client.ServerURL)

	t.Run("unset values keep defaults", func(t *testing.T) {
		assert.Equal(t, 24*time.Hour, cfg.License.TokenTTL)
		assert.Equal(t, 3, cfg.Client.RetryAttempts)
	})
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	dir := isolate(t)
	yml := "server:\n  port: 9000\nlicense:\n  secret: from-yaml\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "popwatch.yml"), []byte(yml), 0o600))

	t.Setenv("POPWATCH_SERVER_PORT", "9100")
	t.Setenv("POPWATCH_LICENSE_SECRET", "from-env")
	t.Setenv("POPWATCH_DATABASE_DSN", "postgres://localhost/popwatch")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.License.Secret)
	assert.Equal(t, "postgres://localhost/popwatch", cfg.Database.DSN)
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		yml  string
	}{
		{"port out of range", "server:\n  port: 0\n"},
		{"zero token ttl", "license:\n  token_ttl: 0\n"},
		{"negative grace", "license:\n  offline_grace_days: -1\n"},
		{"zero retry attempts", "client:\n  retry_attempts: 0\n"},
		{"zero prompt attempts", "client:\n  prompt_attempts: 0\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := isolate(t)
			require.NoError(t, os.WriteFile(filepath.Join(dir, "popwatch.yml"), []byte(tc.yml), 0o600))
			_, err := Load()
			assert.Error(t, err)
		})
	}

	t.Run("malformed yaml", func(t *testing.T) {
		dir := isolate(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "popwatch.yml"), []byte("server: ["), 0o600))
		_, err := Load()
		assert.Error(t, err)
	})
}

func TestRequireSecret(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.RequireSecret())

	cfg.License.Secret = "shared-secret"
	assert.NoError(t, cfg.RequireSecret())
}

func TestOfflineGrace(t *testing.T) {
	cfg := LicenseConfig{OfflineGraceDays: 2}
	assert.Equal(t, 48*time.Hour, cfg.OfflineGrace())

	cfg.OfflineGraceDays = 0
	assert.Equal(t, time.Duration(0), cfg.OfflineGrace())
}

func TestPaths(t *testing.T) {
	dir := isolate(t)
	t.Setenv("POPWATCH_PATHS_DATA_DIR", filepath.Join(dir, "state"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "state"), cfg.Paths.DataDir)
	assert.Equal(t, filepath.Join(dir, "state", "device.id"), cfg.DeviceIDPath())
	assert.Equal(t, filepath.Join(dir, "state", "license.key"), cfg.LicenseKeyPath())
	assert.Equal(t, filepath.Join(dir, "state", "license.cache"), cfg.TokenCachePath())

	require.NoError(t, cfg.EnsureDataDir())
	info, err := os.Stat(cfg.Paths.DataDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
