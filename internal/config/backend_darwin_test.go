//go:build darwin

package config

import (
	"strings"
	"testing"
)

// fakeDefaults emulates one UserDefaults domain.
type fakeDefaults map[string]string

func (f fakeDefaults) run(args ...string) (string, error) {
	switch args[0] {
	case "read":
		v, ok := f[args[2]]
		if !ok {
			return "", errNoDefault
		}
		return v, nil
	case "write":
		f[args[2]] = args[4]
		return "", nil
	case "delete":
		if _, ok := f[args[2]]; !ok {
			return "", errNoDefault
		}
		delete(f, args[2])
		return "", nil
	}
	return "", nil
}

func TestDarwinBackend_RoundTrip(t *testing.T) {
	store := fakeDefaults{}
	b := &darwinBackend{domain: "test", run: store.run}

	if err := setKey(b, "jobs.max_concurrent", "4"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if err := setKey(b, "ollama.model", "qwen2.5vl"); err != nil {
		t.Fatalf("setKey: %v", err)
	}

	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		t.Fatalf("applyBackend: %v", err)
	}
	if cfg.Jobs.MaxConcurrent != 4 || cfg.Ollama.Model != "qwen2.5vl" {
		t.Errorf("cfg = %+v %+v", cfg.Jobs, cfg.Ollama)
	}

	if err := b.Delete("ollama.model"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := b.Delete("ollama.model"); err != nil {
		t.Errorf("deleting a missing key: %v", err)
	}
}

func TestDarwinBackend_BadInt(t *testing.T) {
	b := &darwinBackend{domain: "test", run: fakeDefaults{"jobs.max_concurrent": "many"}.run}
	_, ok, err := b.GetInt("jobs.max_concurrent")
	if !ok || err == nil || !strings.Contains(err.Error(), "not an integer") {
		t.Fatalf("GetInt = %v, %v", ok, err)
	}
}
