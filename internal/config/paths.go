package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	configDirName  = "abigen"
	configFileName = "abigen.yaml"
)

// GetConfigDir returns the user configuration directory path (~/.config/abigen)
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".config", configDirName)
	return configDir, nil
}

// SearchPaths returns the config file locations in lookup order: the
// working directory first, then the user configuration directory.
func SearchPaths() []string {
	paths := []string{configFileName}
	if dir, err := GetConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, configFileName))
	}
	return paths
}

// FindConfigFile returns the first existing file among paths, or "" if none exists.
func FindConfigFile(paths []string) (string, error) {
	for _, p := range paths {
		info, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to stat config file: %w", err)
		}
		if !info.IsDir() {
			return p, nil
		}
	}
	return "", nil
}
