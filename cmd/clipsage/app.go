package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kalambet/clipsage/internal/cache"
	"github.com/kalambet/clipsage/internal/config"
	"github.com/kalambet/clipsage/internal/gateway"
	"github.com/kalambet/clipsage/internal/media"
	"github.com/kalambet/clipsage/internal/metrics"
	"github.com/kalambet/clipsage/internal/notify"
	"github.com/kalambet/clipsage/internal/ollama"
	"github.com/kalambet/clipsage/internal/orchestrator"
	"github.com/kalambet/clipsage/internal/proxy"
	"github.com/kalambet/clipsage/internal/resilience"
	"github.com/kalambet/clipsage/internal/storage"
	"github.com/kalambet/clipsage/internal/storage/postgres"
)

// projectStore is what both storage drivers provide.
type projectStore interface {
	orchestrator.Store
	cache.Store
	Close() error
}

// app is one running orchestrator with everything it depends on.
type app struct {
	cfg     config.Config
	orch    *orchestrator.Orchestrator
	emitter *notify.Emitter
	metrics *metrics.Metrics
	logger  *slog.Logger
	closers []func()
}

// appMode says whether a command runs inference.
type appMode int

const (
	// storeOnly opens projects and storage; the model is not contacted.
	storeOnly appMode = iota
	// withModel also makes sure the model is reachable and pulled.
	withModel
)

// openApp loads config, takes the data directory lock, wires the
// orchestrator and reloads persisted projects.
func openApp(ctx context.Context, mode appMode) (_ *app, err error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	logger, logCloser := setupLogging(cfg.Log)
	a.logger = logger
	if logCloser != nil {
		a.onClose(func() { logCloser.Close() })
	}

	lockPath := pidFilePath(cfg.Storage.DataDir)
	if err := acquirePIDFile(lockPath); err != nil {
		return nil, err
	}
	a.onClose(func() { removePIDFile(lockPath) })

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.onClose(func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing storage", "error", err)
		}
	})

	gw, err := openGateway(ctx, cfg, logger, mode == withModel)
	if err != nil {
		return nil, err
	}

	a.metrics = metrics.New()
	emitterOpts := []notify.Option{notify.WithLogger(logger), notify.WithSink(notify.LogSink{Logger: logger})}
	if cfg.Notify.NATSURL != "" {
		sink, err := notify.ConnectNATS(cfg.Notify.NATSURL, cfg.Notify.NATSSubject, logger)
		if err != nil {
			logger.Warn("NATS unavailable, notifications stay local", "url", cfg.Notify.NATSURL, "error", err)
		} else {
			emitterOpts = append(emitterOpts, notify.WithSink(sink))
			a.onClose(sink.Close)
		}
	}
	a.emitter = notify.NewEmitter(cfg.Notify.TTL(), emitterOpts...)

	a.orch = orchestrator.New(orchestrator.Deps{
		Store:          store,
		Gateway:        gw,
		Cache:          cache.New(store),
		Prober:         media.NewFFProbe(cfg.Probe.FFProbeBin),
		Notifier:       a.emitter,
		Observer:       a.metrics,
		Logger:         logger,
		MaxUploadBytes: cfg.Limits.MaxUploadBytes(),
		MaxConcurrent:  cfg.Jobs.MaxConcurrent,
	})
	a.onClose(func() {
		a.orch.Close()
		if err := a.metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.Warn("writing metrics textfile", "path", cfg.Metrics.Textfile, "error", err)
		}
	})

	if err := a.orch.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading projects: %w", err)
	}
	return a, nil
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close shuts components down in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func setupLogging(cfg config.LogConfig) (*slog.Logger, io.Closer) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var w io.Writer = os.Stderr
	var closer io.Closer
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		}
		w, closer = lj, lj
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger, closer
}

func openStore(ctx context.Context, cfg config.StorageConfig) (projectStore, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		return s, nil
	default:
		s, err := storage.Open(ctx, cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		return s, nil
	}
}

// openGateway builds the guarded backend. With ensure set, a local model is
// checked, pulled if missing and warmed up before returning.
func openGateway(ctx context.Context, cfg config.Config, logger *slog.Logger, ensure bool) (gateway.Gateway, error) {
	var backend gateway.Gateway
	switch cfg.Gateway.Backend {
	case config.BackendOpenRouter:
		backend = gateway.NewOpenRouter(proxy.NewClient(cfg.Proxy.OpenRouterAPIKey), cfg.Proxy.Model)
	default:
		client := ollama.New(cfg.Ollama.BaseURL,
			ollama.WithKeepAlive(cfg.Ollama.KeepAlive),
			ollama.WithContextWindow(cfg.Ollama.ContextWindow))
		if ensure {
			if err := ollama.EnsureReady(ctx, client, cfg.Ollama.Model, os.Stderr); err != nil {
				return nil, err
			}
		}
		backend = gateway.NewOllama(client, cfg.Ollama.Model)
	}

	rcfg := resilience.DefaultConfig()
	rcfg.RetryMaxAttempts = cfg.Resilience.RetryMaxAttempts
	rcfg.BreakerEnabled = cfg.Resilience.BreakerEnabled
	return gateway.NewGuarded(
		backend,
		gateway.NewLimiter(cfg.Gateway.RateLimitRPS, cfg.Gateway.RateLimitBurst),
		resilience.NewExecutor(rcfg, logger),
	), nil
}

// --- PID lock ---

// The PID file keeps two processes on one host from reconciling each other's
// running projects as interrupted. Postgres adds a database-wide lock.

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "clipsage.pid")
}

func acquirePIDFile(path string) error {
	if pid, err := readPIDFile(path); err == nil && pid != os.Getpid() && processAlive(pid) {
		return fmt.Errorf("clipsage is already running (PID %d); stop it or wait for it to finish", pid)
	}
	return writePIDFile(path)
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	if pid, err := readPIDFile(path); err == nil && pid == os.Getpid() {
		os.Remove(path)
	}
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
