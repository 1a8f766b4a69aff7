//go:build !darwin

package config

import (
	"os"
	"path/filepath"
)

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "cory-data"
		}
	}
	return filepath.Join(dir, "cory")
}

// SecretHint tells users where secrets may be stored besides the environment.
func SecretHint() string {
	return secretsFilePath() + ` ({"cory": {"openai_api_key": "..."}})`
}
