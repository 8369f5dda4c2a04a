package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
)

// Gateway backends.
const (
	BackendOllama     = "ollama"
	BackendOpenRouter = "openrouter"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// keychainService is the secret store service name for clipsage secrets.
const keychainService = "clipsage"

type Config struct {
	Gateway    GatewayConfig
	Ollama     OllamaConfig
	Proxy      ProxyConfig
	Storage    StorageConfig
	Limits     LimitsConfig
	Probe      ProbeConfig
	Notify     NotifyConfig
	Resilience ResilienceConfig
	Jobs       JobsConfig
	Log        LogConfig
	Metrics    MetricsConfig
}

type GatewayConfig struct {
	Backend        string
	RateLimitRPS   float64
	RateLimitBurst int
}

type OllamaConfig struct {
	BaseURL       string
	Model         string
	KeepAlive     string
	ContextWindow int
}

type ProxyConfig struct {
	OpenRouterAPIKey string
	Model            string
}

type StorageConfig struct {
	Driver      string
	DataDir     string
	PostgresDSN string
}

type LimitsConfig struct {
	MaxUploadMB int
}

// MaxUploadBytes is the upload limit in bytes.
func (l LimitsConfig) MaxUploadBytes() int64 {
	return int64(l.MaxUploadMB) << 20
}

type ProbeConfig struct {
	FFProbeBin string
}

type NotifyConfig struct {
	TTLSeconds  int
	NATSURL     string
	NATSSubject string
}

// TTL is the notification lifetime.
func (n NotifyConfig) TTL() time.Duration {
	return time.Duration(n.TTLSeconds) * time.Second
}

type ResilienceConfig struct {
	RetryMaxAttempts int
	BreakerEnabled   bool
}

type JobsConfig struct {
	MaxConcurrent int
}

type LogConfig struct {
	Level string
	File  string
}

type MetricsConfig struct {
	Textfile string
}

func defaults() Config {
	return Config{
		Gateway: GatewayConfig{
			Backend:        BackendOllama,
			RateLimitRPS:   2,
			RateLimitBurst: 2,
		},
		Ollama: OllamaConfig{
			BaseURL:       "http://localhost:11434",
			Model:         "gemma3",
			KeepAlive:     "10m",
			ContextWindow: 32768,
		},
		Proxy: ProxyConfig{
			Model: "google/gemini-2.5-flash",
		},
		Storage: StorageConfig{
			Driver:  DriverSQLite,
			DataDir: defaultDataDir(),
		},
		Limits:     LimitsConfig{MaxUploadMB: 200},
		Probe:      ProbeConfig{FFProbeBin: "ffprobe"},
		Notify:     NotifyConfig{TTLSeconds: 6, NATSSubject: "clipsage.notifications"},
		Resilience: ResilienceConfig{RetryMaxAttempts: 3, BreakerEnabled: true},
		Jobs:       JobsConfig{MaxConcurrent: 2},
		Log:        LogConfig{Level: "info"},
	}
}

// Load reads configuration from the platform-native backend, a .env file in
// the working directory, environment variables, and the platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.clipsage.app) and secrets
// fall back to macOS Keychain.
// Elsewhere the backend is a YAML file at $XDG_CONFIG_HOME/clipsage/config.yaml
// and secrets fall back to $XDG_DATA_HOME/clipsage/secrets.json.
//
// Environment variables (CLIPSAGE_*) override backend values on all platforms.
// Values from .env never override variables already set.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("reading .env: %w", err)
	}
	return loadWith(newPlatformBackend(), newPlatformSecrets())
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Proxy.OpenRouterAPIKey == "" && cfg.Gateway.Backend == BackendOpenRouter {
		if key, err := kc.Get(keychainService, "openrouter_api_key"); err == nil && key != "" {
			cfg.Proxy.OpenRouterAPIKey = key
		}
	}
	if cfg.Storage.PostgresDSN == "" && cfg.Storage.Driver == DriverPostgres {
		if dsn, err := kc.Get(keychainService, "postgres_dsn"); err == nil && dsn != "" {
			cfg.Storage.PostgresDSN = dsn
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	switch cfg.Gateway.Backend {
	case BackendOllama:
	case BackendOpenRouter:
		if cfg.Proxy.OpenRouterAPIKey == "" {
			return fmt.Errorf("missing required config: OpenRouter API key. "+
				"Set it via environment variable CLIPSAGE_OPENROUTER_API_KEY%s", secretHint("openrouter_api_key"))
		}
	default:
		return fmt.Errorf("invalid gateway.backend %q: want %s or %s", cfg.Gateway.Backend, BackendOllama, BackendOpenRouter)
	}

	switch cfg.Storage.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if cfg.Storage.PostgresDSN == "" {
			return fmt.Errorf("missing required config: Postgres DSN. "+
				"Set it via environment variable CLIPSAGE_STORAGE_POSTGRES_DSN%s", secretHint("postgres_dsn"))
		}
	default:
		return fmt.Errorf("invalid storage.driver %q: want %s or %s", cfg.Storage.Driver, DriverSQLite, DriverPostgres)
	}

	if cfg.Limits.MaxUploadMB <= 0 {
		return fmt.Errorf("limits.max_upload_mb must be positive, got %d", cfg.Limits.MaxUploadMB)
	}
	if cfg.Jobs.MaxConcurrent <= 0 {
		return fmt.Errorf("jobs.max_concurrent must be positive, got %d", cfg.Jobs.MaxConcurrent)
	}
	return nil
}
