package config

import (
	"os"
	"path/filepath"
)

// Path returns the config file location: $BTK_CONFIG if set, otherwise
// ~/.behavior-knowledge/config.
func Path() (string, error) {
	if p := os.Getenv("BTK_CONFIG"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".behavior-knowledge", "config"), nil
}
