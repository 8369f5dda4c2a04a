//go:build darwin

package config

import (
	"os/exec"
	"strings"
)

func newPlatformSecrets() keychain {
	return macKeychain{}
}

// macKeychain reads generic passwords from the login keychain.
type macKeychain struct{}

func (macKeychain) Get(service, account string) (string, error) {
	out, err := exec.Command("security", "find-generic-password", "-s", service, "-a", account, "-w").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
