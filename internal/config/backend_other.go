//go:build !darwin

package config

import (
	"os"
	"path/filepath"
)

func defaultDataDir() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), "clipsage")
}

func secretHint(account string) string {
	return " or " + filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), "clipsage", "secrets.json") +
		" (service: " + keychainService + ", account: " + account + ")"
}

func newPlatformBackend() ConfigBackend {
	return newFileBackend(configFilePath())
}

func configFilePath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "clipsage", "config.yaml")
}

// xdgDir returns $env, or the home-relative fallback when it is unset.
func xdgDir(env string, fallback ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(append([]string{home}, fallback...)...)
	}
	return "."
}
