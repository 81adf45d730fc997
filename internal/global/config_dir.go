package global

import (
	"os"
	"path/filepath"
	"strings"
)

const ConfigDirEnv = "ECHODESK_CONFIG_DIR"

// DefaultConfigDir returns ~/.config/echodesk.
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv(ConfigDirEnv)); override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "echodesk"), nil
}

// DefaultDBPath is the SQLite task store inside the config dir.
func DefaultDBPath(configDir string) string {
	return filepath.Join(configDir, "echodesk.db")
}
