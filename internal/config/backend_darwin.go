//go:build darwin

package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultsDomain = "com.clipsage.app"

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "Library", "Application Support", "clipsage")
	}
	return "clipsage-data"
}

func secretHint(account string) string {
	return fmt.Sprintf(" or macOS Keychain (service: %s, account: %s)", keychainService, account)
}

// errNoDefault is what the defaults tool reports for a missing key.
var errNoDefault = errors.New("default does not exist")

// defaultsRunner runs the defaults tool and returns its trimmed output.
type defaultsRunner func(args ...string) (string, error)

func runDefaults(args ...string) (string, error) {
	var out bytes.Buffer
	cmd := exec.Command("defaults", args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	text := strings.TrimSpace(out.String())
	if err != nil {
		if strings.Contains(text, "does not exist") {
			return "", errNoDefault
		}
		return "", fmt.Errorf("defaults %s: %w: %s", strings.Join(args, " "), err, text)
	}
	return text, nil
}

// darwinBackend keeps settings in the UserDefaults domain, one flat key per
// dotted config key.
type darwinBackend struct {
	domain string
	run    defaultsRunner
}

func newPlatformBackend() ConfigBackend {
	return &darwinBackend{domain: defaultsDomain, run: runDefaults}
}

func (b *darwinBackend) GetString(key string) (string, bool, error) {
	v, err := b.run("read", b.domain, key)
	if errors.Is(err, errNoDefault) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (b *darwinBackend) GetInt(key string) (int, bool, error) {
	s, ok, err := b.GetString(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, true, fmt.Errorf("%s is not an integer: %q", key, s)
	}
	return i, true, nil
}

func (b *darwinBackend) SetString(key, val string) error {
	_, err := b.run("write", b.domain, key, "-string", val)
	return err
}

func (b *darwinBackend) SetInt(key string, val int) error {
	_, err := b.run("write", b.domain, key, "-int", strconv.Itoa(val))
	return err
}

func (b *darwinBackend) Delete(key string) error {
	if _, err := b.run("delete", b.domain, key); err != nil && !errors.Is(err, errNoDefault) {
		return err
	}
	return nil
}
