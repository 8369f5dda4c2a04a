package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	values map[string]string
}

func (m mockKeychain) Get(service, account string) (string, error) {
	if v, ok := m.values[service+"/"+account]; ok {
		return v, nil
	}
	return "", errors.New("not found")
}

func writeTempConfig(t *testing.T, content string) *fileBackend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return newFileBackend(path)
}

// clearEnv blanks every CLIPSAGE_* variable so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := loadWith(writeTempConfig(t, "# empty\n"), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Gateway.Backend != BackendOllama {
		t.Errorf("Gateway.Backend = %q, want %q", cfg.Gateway.Backend, BackendOllama)
	}
	if cfg.Gateway.RateLimitRPS != 2 || cfg.Gateway.RateLimitBurst != 2 {
		t.Errorf("rate limit = %v/%d, want 2/2", cfg.Gateway.RateLimitRPS, cfg.Gateway.RateLimitBurst)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("Ollama.BaseURL = %q", cfg.Ollama.BaseURL)
	}
	if cfg.Ollama.Model != "gemma3" {
		t.Errorf("Ollama.Model = %q", cfg.Ollama.Model)
	}
	if cfg.Ollama.KeepAlive != "10m" || cfg.Ollama.ContextWindow != 32768 {
		t.Errorf("Ollama keep-alive/context = %q/%d", cfg.Ollama.KeepAlive, cfg.Ollama.ContextWindow)
	}
	if cfg.Storage.Driver != DriverSQLite {
		t.Errorf("Storage.Driver = %q", cfg.Storage.Driver)
	}
	if cfg.Limits.MaxUploadBytes() != 200<<20 {
		t.Errorf("MaxUploadBytes = %d, want %d", cfg.Limits.MaxUploadBytes(), 200<<20)
	}
	if cfg.Notify.TTL().Seconds() != 6 {
		t.Errorf("Notify.TTL = %v, want 6s", cfg.Notify.TTL())
	}
	if cfg.Notify.NATSSubject != "clipsage.notifications" {
		t.Errorf("Notify.NATSSubject = %q", cfg.Notify.NATSSubject)
	}
	if cfg.Resilience.RetryMaxAttempts != 3 || !cfg.Resilience.BreakerEnabled {
		t.Errorf("Resilience = %+v", cfg.Resilience)
	}
	if cfg.Jobs.MaxConcurrent != 2 {
		t.Errorf("Jobs.MaxConcurrent = %d, want 2", cfg.Jobs.MaxConcurrent)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

// TestYAMLParsing verifies that nested YAML sections map onto dotted keys.
func TestYAMLParsing(t *testing.T) {
	clearEnv(t)
	b := writeTempConfig(t, `
gateway:
  backend: openrouter
  rate_limit_rps: 0.5
  rate_limit_burst: 4
ollama:
  base_url: http://custom:11434
  model: llava
proxy:
  model: openai/gpt-4o
storage:
  data_dir: /tmp/clipsage-test
limits:
  max_upload_mb: 50
resilience:
  breaker_enabled: false
jobs:
  max_concurrent: 5
`)
	kc := mockKeychain{values: map[string]string{"clipsage/openrouter_api_key": "kc-key"}}

	cfg, err := loadWith(b, kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Gateway.Backend != BackendOpenRouter {
		t.Errorf("Gateway.Backend = %q", cfg.Gateway.Backend)
	}
	if cfg.Gateway.RateLimitRPS != 0.5 || cfg.Gateway.RateLimitBurst != 4 {
		t.Errorf("rate limit = %v/%d", cfg.Gateway.RateLimitRPS, cfg.Gateway.RateLimitBurst)
	}
	if cfg.Ollama.BaseURL != "http://custom:11434" || cfg.Ollama.Model != "llava" {
		t.Errorf("Ollama = %+v", cfg.Ollama)
	}
	if cfg.Proxy.Model != "openai/gpt-4o" {
		t.Errorf("Proxy.Model = %q", cfg.Proxy.Model)
	}
	if cfg.Storage.DataDir != "/tmp/clipsage-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Limits.MaxUploadMB != 50 {
		t.Errorf("Limits.MaxUploadMB = %d", cfg.Limits.MaxUploadMB)
	}
	if cfg.Resilience.BreakerEnabled {
		t.Error("Resilience.BreakerEnabled = true, want false")
	}
	if cfg.Jobs.MaxConcurrent != 5 {
		t.Errorf("Jobs.MaxConcurrent = %d", cfg.Jobs.MaxConcurrent)
	}
	if cfg.Proxy.OpenRouterAPIKey != "kc-key" {
		t.Errorf("OpenRouterAPIKey = %q, want keychain value", cfg.Proxy.OpenRouterAPIKey)
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	b := writeTempConfig(t, "ollama:\n  model: file-model\n")
	t.Setenv("CLIPSAGE_OLLAMA_MODEL", "env-model")
	t.Setenv("CLIPSAGE_JOBS_MAX_CONCURRENT", "7")
	t.Setenv("CLIPSAGE_RESILIENCE_BREAKER_ENABLED", "false")

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Ollama.Model != "env-model" {
		t.Errorf("Ollama.Model = %q, want env-model", cfg.Ollama.Model)
	}
	if cfg.Jobs.MaxConcurrent != 7 {
		t.Errorf("Jobs.MaxConcurrent = %d, want 7", cfg.Jobs.MaxConcurrent)
	}
	if cfg.Resilience.BreakerEnabled {
		t.Error("BreakerEnabled = true, want env override to false")
	}
}

// TestEnvOverride_Unparsable verifies bad values keep the default.
func TestEnvOverride_Unparsable(t *testing.T) {
	clearEnv(t)
	t.Setenv("CLIPSAGE_LIMITS_MAX_UPLOAD_MB", "lots")

	cfg, err := loadWith(writeTempConfig(t, ""), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Limits.MaxUploadMB != 200 {
		t.Errorf("MaxUploadMB = %d, want default 200", cfg.Limits.MaxUploadMB)
	}
}

// TestMissingRequiredField verifies a clear error when the API key is missing everywhere.
func TestMissingRequiredField(t *testing.T) {
	clearEnv(t)
	t.Setenv("CLIPSAGE_GATEWAY_BACKEND", "openrouter")

	_, err := loadWith(writeTempConfig(t, ""), mockKeychain{})
	if err == nil {
		t.Fatal("expected error for missing API key, got nil")
	}
	if !strings.Contains(err.Error(), "missing required config") {
		t.Errorf("error = %q, want it to contain %q", err, "missing required config")
	}
}

// TestOllamaNeedsNoKey verifies the local backend loads without secrets.
func TestOllamaNeedsNoKey(t *testing.T) {
	clearEnv(t)
	cfg, err := loadWith(writeTempConfig(t, ""), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Proxy.OpenRouterAPIKey != "" {
		t.Errorf("OpenRouterAPIKey = %q, want empty", cfg.Proxy.OpenRouterAPIKey)
	}
}

func TestPostgresRequiresDSN(t *testing.T) {
	clearEnv(t)
	t.Setenv("CLIPSAGE_STORAGE_DRIVER", "postgres")

	if _, err := loadWith(writeTempConfig(t, ""), mockKeychain{}); err == nil || !strings.Contains(err.Error(), "Postgres DSN") {
		t.Fatalf("err = %v, want missing DSN", err)
	}

	t.Setenv("CLIPSAGE_STORAGE_POSTGRES_DSN", "postgres://localhost/clipsage")
	cfg, err := loadWith(writeTempConfig(t, ""), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.PostgresDSN != "postgres://localhost/clipsage" {
		t.Errorf("PostgresDSN = %q", cfg.Storage.PostgresDSN)
	}
}

func TestInvalidBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("CLIPSAGE_GATEWAY_BACKEND", "gpt-local")
	if _, err := loadWith(writeTempConfig(t, ""), mockKeychain{}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

// TestSecretsIgnoredInFile verifies secrets are never read from the plain config file.
func TestSecretsIgnoredInFile(t *testing.T) {
	clearEnv(t)
	b := writeTempConfig(t, "gateway:\n  backend: openrouter\nproxy:\n  openrouter_api_key: leaked\n")
	if _, err := loadWith(b, mockKeychain{}); err == nil {
		t.Fatal("expected the file key to be ignored")
	}
}

func TestSetKey_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	b := newFileBackend(path)

	if err := setKey(b, "jobs.max_concurrent", "4"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if err := setKey(b, "ollama.model", "llava"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if err := setKey(b, "resilience.breaker_enabled", "no"); err == nil {
		t.Error("expected invalid bool to be rejected")
	}
	if err := setKey(b, "proxy.openrouter_api_key", "x"); err == nil {
		t.Error("expected secret to be rejected")
	}
	if err := setKey(b, "server.port", "1"); err == nil {
		t.Error("expected unknown key to be rejected")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading config: %v", err)
	}
	if !strings.Contains(string(raw), "jobs:\n    max_concurrent: 4") {
		t.Errorf("config file not nested:\n%s", raw)
	}

	cfg, err := loadWith(newFileBackend(path), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Jobs.MaxConcurrent != 4 || cfg.Ollama.Model != "llava" {
		t.Errorf("reloaded = %+v / %+v", cfg.Jobs, cfg.Ollama)
	}
}

func TestShowAll_HidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Proxy.OpenRouterAPIKey = "sk-secret"
	for _, info := range ShowAll(cfg) {
		if strings.Contains(info.Value, "sk-secret") {
			t.Errorf("secret shown under %s", info.Key)
		}
		if !strings.HasPrefix(info.EnvVar, "CLIPSAGE_") {
			t.Errorf("%s env = %q", info.Key, info.EnvVar)
		}
	}
	if len(ValidKeys()) != len(ShowAll(cfg)) {
		t.Errorf("ValidKeys and ShowAll disagree")
	}
}

func TestUnsetKey_RestoresDefault(t *testing.T) {
	clearEnv(t)
	b := newFileBackend(filepath.Join(t.TempDir(), "config.yaml"))
	if err := setKey(b, "ollama.model", "llava"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if err := unsetKey(b, "ollama.model"); err != nil {
		t.Fatalf("unsetKey: %v", err)
	}
	if err := unsetKey(b, "proxy.openrouter_api_key"); err == nil {
		t.Error("expected secret to be rejected")
	}

	cfg, err := loadWith(newFileBackend(b.path), mockKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Ollama.Model != "gemma3" {
		t.Errorf("Ollama.Model = %q, want default gemma3", cfg.Ollama.Model)
	}
}

func TestShowAll_MarksDefaults(t *testing.T) {
	cfg := defaults()
	cfg.Jobs.MaxConcurrent = 8

	infos := ShowAll(cfg)
	for i := 1; i < len(infos); i++ {
		if infos[i-1].Key > infos[i].Key {
			t.Fatalf("keys not sorted: %s before %s", infos[i-1].Key, infos[i].Key)
		}
	}
	for _, info := range infos {
		switch info.Key {
		case "jobs.max_concurrent":
			if info.Default || info.Value != "8" {
				t.Errorf("jobs.max_concurrent = %+v, want changed 8", info)
			}
		case "ollama.model":
			if !info.Default {
				t.Errorf("ollama.model should be marked default")
			}
		}
	}
}
