//go:build darwin

package config

import (
	"os"
	"path/filepath"
)

func defaultDataDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, "Library", "Application Support", "cory")
	}
	return "cory-data"
}

// SecretHint tells users where secrets may be stored besides the environment.
func SecretHint() string {
	return "macOS Keychain (service: cory)"
}
