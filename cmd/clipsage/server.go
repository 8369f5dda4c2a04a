package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/clipsage/internal/api"
	"github.com/kalambet/clipsage/internal/config"
	"github.com/kalambet/clipsage/internal/ollama"
	"github.com/kalambet/clipsage/internal/project"
	"github.com/kalambet/clipsage/internal/proxy"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve projects to MCP clients over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(withModel, func(ctx context.Context, a *app) error {
			mcpSrv := api.NewMCPServer(api.MCPDeps{
				Projects:       a.orch,
				MaxUploadBytes: a.cfg.Limits.MaxUploadBytes(),
				Version:        version,
			})
			a.logger.Info("MCP server started (stdio transport)")
			err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("MCP stdio server: %w", err)
			}
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show clipsage system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

// storeStats is what status reads from either storage driver.
type storeStats interface {
	projectStore
	CountCacheEntries(ctx context.Context) (int, error)
}

func showStatus(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	if pid, err := readPIDFile(pidPath); err == nil && processAlive(pid) {
		printStatus("Process", "running (PID %d)", pid)
	} else {
		printStatus("Process", "idle")
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	printStatus("Gateway", "%s", cfg.Gateway.Backend)
	switch cfg.Gateway.Backend {
	case config.BackendOpenRouter:
		printStatus("Model", "%s", cfg.Proxy.Model)
		models, err := proxy.NewClient(cfg.Proxy.OpenRouterAPIKey).ListModels(checkCtx)
		if err != nil {
			printStatus("OpenRouter", "unreachable (%v)", err)
			break
		}
		printStatus("OpenRouter", "reachable, %d models", len(models))
		i := slices.IndexFunc(models, func(m proxy.Model) bool { return m.ID == cfg.Proxy.Model })
		switch {
		case i < 0:
			printWarning("model %s is not offered by OpenRouter", cfg.Proxy.Model)
		case !models[i].Accepts("audio") && !models[i].Accepts("video"):
			printWarning("model %s does not accept audio or video input", cfg.Proxy.Model)
		}
	default:
		printStatus("Model", "%s", cfg.Ollama.Model)
		client := ollama.New(cfg.Ollama.BaseURL)
		v, err := client.Version(checkCtx)
		switch {
		case err != nil:
			printStatus("Ollama", "not running at %s", cfg.Ollama.BaseURL)
		case client.HasModel(checkCtx, cfg.Ollama.Model):
			printStatus("Ollama", "%s at %s, model ready", v, cfg.Ollama.BaseURL)
		default:
			printStatus("Ollama", "%s at %s, model not pulled", v, cfg.Ollama.BaseURL)
		}
	}

	printStatus("Storage", "%s", cfg.Storage.Driver)
	if cfg.Storage.Driver == config.DriverSQLite {
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
	}

	s, err := openStore(checkCtx, cfg.Storage)
	if err != nil {
		printStatus("Projects", "unavailable (%v)", err)
		return nil
	}
	defer s.Close()

	recs, err := s.LoadProjects(checkCtx)
	if err != nil {
		printStatus("Projects", "unavailable (%v)", err)
		return nil
	}
	counts := make(map[project.Status]int)
	for _, r := range recs {
		counts[r.Project.Status]++
	}
	printStatus("Projects", "%d (%d completed, %d failed, %d cancelled)",
		len(recs), counts[project.StatusCompleted], counts[project.StatusFailed], counts[project.StatusCancelled])

	if st, ok := s.(storeStats); ok {
		if n, err := st.CountCacheEntries(checkCtx); err == nil {
			printStatus("Cached analyses", "%d", n)
		}
	}
	return nil
}
