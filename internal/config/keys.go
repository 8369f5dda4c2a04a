package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "gateway.backend", typ: kString, env: "CLIPSAGE_GATEWAY_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Gateway.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.Backend },
	},
	{
		key: "gateway.rate_limit_rps", typ: kFloat, env: "CLIPSAGE_GATEWAY_RATE_LIMIT_RPS",
		apply:   func(cfg *Config, v any) { cfg.Gateway.RateLimitRPS = v.(float64) },
		extract: func(cfg Config) any { return cfg.Gateway.RateLimitRPS },
	},
	{
		key: "gateway.rate_limit_burst", typ: kInt, env: "CLIPSAGE_GATEWAY_RATE_LIMIT_BURST",
		apply:   func(cfg *Config, v any) { cfg.Gateway.RateLimitBurst = v.(int) },
		extract: func(cfg Config) any { return cfg.Gateway.RateLimitBurst },
	},
	{
		key: "ollama.base_url", typ: kString, env: "CLIPSAGE_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.model", typ: kString, env: "CLIPSAGE_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Model },
	},
	{
		key: "ollama.keep_alive", typ: kString, env: "CLIPSAGE_OLLAMA_KEEP_ALIVE",
		apply:   func(cfg *Config, v any) { cfg.Ollama.KeepAlive = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.KeepAlive },
	},
	{
		key: "ollama.context_window", typ: kInt, env: "CLIPSAGE_OLLAMA_CONTEXT_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Ollama.ContextWindow = v.(int) },
		extract: func(cfg Config) any { return cfg.Ollama.ContextWindow },
	},
	{
		key: "proxy.openrouter_api_key", typ: kString, env: "CLIPSAGE_OPENROUTER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Proxy.OpenRouterAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Proxy.OpenRouterAPIKey },
	},
	{
		key: "proxy.model", typ: kString, env: "CLIPSAGE_PROXY_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Proxy.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Proxy.Model },
	},
	{
		key: "storage.driver", typ: kString, env: "CLIPSAGE_STORAGE_DRIVER",
		apply:   func(cfg *Config, v any) { cfg.Storage.Driver = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Driver },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CLIPSAGE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.postgres_dsn", typ: kString, env: "CLIPSAGE_STORAGE_POSTGRES_DSN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Storage.PostgresDSN = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.PostgresDSN },
	},
	{
		key: "limits.max_upload_mb", typ: kInt, env: "CLIPSAGE_LIMITS_MAX_UPLOAD_MB",
		apply:   func(cfg *Config, v any) { cfg.Limits.MaxUploadMB = v.(int) },
		extract: func(cfg Config) any { return cfg.Limits.MaxUploadMB },
	},
	{
		key: "probe.ffprobe_bin", typ: kString, env: "CLIPSAGE_PROBE_FFPROBE_BIN",
		apply:   func(cfg *Config, v any) { cfg.Probe.FFProbeBin = v.(string) },
		extract: func(cfg Config) any { return cfg.Probe.FFProbeBin },
	},
	{
		key: "notify.ttl_seconds", typ: kInt, env: "CLIPSAGE_NOTIFY_TTL_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Notify.TTLSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Notify.TTLSeconds },
	},
	{
		key: "notify.nats_url", typ: kString, env: "CLIPSAGE_NOTIFY_NATS_URL",
		apply:   func(cfg *Config, v any) { cfg.Notify.NATSURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.NATSURL },
	},
	{
		key: "notify.nats_subject", typ: kString, env: "CLIPSAGE_NOTIFY_NATS_SUBJECT",
		apply:   func(cfg *Config, v any) { cfg.Notify.NATSSubject = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.NATSSubject },
	},
	{
		key: "resilience.retry_max_attempts", typ: kInt, env: "CLIPSAGE_RESILIENCE_RETRY_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Resilience.RetryMaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Resilience.RetryMaxAttempts },
	},
	{
		key: "resilience.breaker_enabled", typ: kBool, env: "CLIPSAGE_RESILIENCE_BREAKER_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Resilience.BreakerEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Resilience.BreakerEnabled },
	},
	{
		key: "jobs.max_concurrent", typ: kInt, env: "CLIPSAGE_JOBS_MAX_CONCURRENT",
		apply:   func(cfg *Config, v any) { cfg.Jobs.MaxConcurrent = v.(int) },
		extract: func(cfg Config) any { return cfg.Jobs.MaxConcurrent },
	},
	{
		key: "log.level", typ: kString, env: "CLIPSAGE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.file", typ: kString, env: "CLIPSAGE_LOG_FILE",
		apply:   func(cfg *Config, v any) { cfg.Log.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.File },
	},
	{
		key: "metrics.textfile", typ: kString, env: "CLIPSAGE_METRICS_TEXTFILE",
		apply:   func(cfg *Config, v any) { cfg.Metrics.Textfile = v.(string) },
		extract: func(cfg Config) any { return cfg.Metrics.Textfile },
	},
}

// account is the secret store account name for a secret key.
func (s keySpec) account() string {
	_, leaf, _ := strings.Cut(s.key, ".")
	return leaf
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parseValue converts raw text to the key's type.
func parseValue(s keySpec, raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := parseValue(s, raw)
		if err != nil {
			slog.Warn("ignoring unparsable config value", "key", s.key, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s, raw)
		if err != nil {
			slog.Warn("ignoring unparsable environment variable", "env", s.env, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
}
