package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - NEWTAB_SYNC_CONFIG_PATH: config file location (default: ~/.config/newtab-sync.toml)
//   - NEWTAB_SYNC_HOME: base directory for sync data (default: ~/.local/share/newtab-sync)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// getConfigPath returns the config file path, checking NEWTAB_SYNC_CONFIG_PATH
// first, then falling back to the default ~/.config/newtab-sync.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("NEWTAB_SYNC_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "newtab-sync.toml"), nil
}

// getBaseDir returns the base directory for sync data, checking
// NEWTAB_SYNC_HOME first, then falling back to the XDG default
// ~/.local/share/newtab-sync.
func getBaseDir() (string, error) {
	if path := os.Getenv("NEWTAB_SYNC_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "newtab-sync"), nil
}
