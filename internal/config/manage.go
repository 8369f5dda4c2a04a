package config

import (
	"fmt"
	"slices"
)

// KeyInfo is one config key as shown to the user.
type KeyInfo struct {
	Key     string
	EnvVar  string
	Value   string
	Default bool
}

// ShowAll lists every non-secret key with its effective value, sorted by key.
// Default marks values that match the built-in default.
func ShowAll(cfg Config) []KeyInfo {
	def := defaults()
	var out []KeyInfo
	for _, s := range specs {
		if s.secret {
			continue
		}
		v := fmt.Sprint(s.extract(cfg))
		out = append(out, KeyInfo{
			Key:     s.key,
			EnvVar:  s.env,
			Value:   v,
			Default: v == fmt.Sprint(s.extract(def)),
		})
	}
	slices.SortFunc(out, func(a, b KeyInfo) int {
		switch {
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		}
		return 0
	})
	return out
}

// SetKey validates value against the key's type and stores it in the
// platform backend.
func SetKey(key, value string) error {
	return setKey(newPlatformBackend(), key, value)
}

// UnsetKey removes a stored value so the default applies again.
func UnsetKey(key string) error {
	return unsetKey(newPlatformBackend(), key)
}

func writableSpec(key string) (keySpec, error) {
	s, ok := lookupSpec(key)
	if !ok {
		return keySpec{}, fmt.Errorf("unknown config key: %q", key)
	}
	if s.secret {
		return keySpec{}, fmt.Errorf("%s is a secret; set it with environment variable %s%s", key, s.env, secretHint(s.account()))
	}
	return s, nil
}

func setKey(b ConfigBackend, key, value string) error {
	s, err := writableSpec(key)
	if err != nil {
		return err
	}
	v, err := parseValue(s, value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if s.typ == kInt {
		return b.SetInt(key, v.(int))
	}
	return b.SetString(key, fmt.Sprint(v))
}

func unsetKey(b ConfigBackend, key string) error {
	if _, err := writableSpec(key); err != nil {
		return err
	}
	return b.Delete(key)
}

// ValidKeys lists the keys accepted by SetKey.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	slices.Sort(keys)
	return keys
}
