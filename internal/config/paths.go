package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Client-side state files inside the data directory.
const (
	deviceIDFile   = "device.id"
	licenseKeyFile = "license.key"
	tokenCacheFile = "license.cache"
)

// resolvePaths fills in the default data directory and makes it absolute.
func (c *Config) resolvePaths() error {
	if c.Paths.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to resolve home directory: %w", err)
		}
		c.Paths.DataDir = filepath.Join(home, ".popwatch")
	}
	abs, err := filepath.Abs(c.Paths.DataDir)
	if err != nil {
		return fmt.Errorf("failed to resolve data dir: %w", err)
	}
	c.Paths.DataDir = abs
	return nil
}

// EnsureDataDir creates the data directory if it does not exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.Paths.DataDir, 0o700)
}

// DeviceIDPath is the persisted device fingerprint file.
func (c *Config) DeviceIDPath() string {
	return filepath.Join(c.Paths.DataDir, deviceIDFile)
}

// LicenseKeyPath is the persisted license key file.
func (c *Config) LicenseKeyPath() string {
	return filepath.Join(c.Paths.DataDir, licenseKeyFile)
}

// TokenCachePath is the cached credential file.
func (c *Config) TokenCachePath() string {
	return filepath.Join(c.Paths.DataDir, tokenCacheFile)
}
