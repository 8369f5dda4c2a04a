//go:build !darwin

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func newPlatformSecrets() keychain {
	return secretsFile{path: filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), "clipsage", "secrets.json")}
}

// secretsFile stands in for a keychain where none exists. It is a JSON file
// shaped {"service": {"account": "value"}} that must not be readable by
// group or others.
type secretsFile struct {
	path string
}

func (f secretsFile) Get(service, account string) (string, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return "", fmt.Errorf("secret store not available: %w", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return "", fmt.Errorf("refusing to read %s: mode %v is readable by others, chmod 600 it", f.path, info.Mode().Perm())
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return "", err
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return "", fmt.Errorf("parsing %s: %w", f.path, err)
	}
	val, ok := secrets[service][account]
	if !ok {
		return "", fmt.Errorf("no secret for %s/%s in %s", service, account, f.path)
	}
	return strings.TrimSpace(val), nil
}
