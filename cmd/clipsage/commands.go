package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/clipsage/internal/api"
	"github.com/kalambet/clipsage/internal/config"
	"github.com/kalambet/clipsage/internal/media"
	"github.com/kalambet/clipsage/internal/project"
)

// errReported means the command already printed its failures.
var errReported = errors.New("one or more operations failed")

// withApp runs fn against an app opened in the given mode. Ctrl-C cancels ctx.
func withApp(mode appMode, fn func(ctx context.Context, a *app) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, mode)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// --- submit ---

// target is one thing to submit: a local path or a URL.
type target struct {
	path string
	url  string
}

func (t target) String() string {
	if t.url != "" {
		return t.url
	}
	return t.path
}

type sourceLoader func(ctx context.Context, t target) (media.Source, error)

func newLoader(maxBytes int64) sourceLoader {
	client := &http.Client{}
	return func(ctx context.Context, t target) (media.Source, error) {
		if t.url != "" {
			return media.FetchURL(ctx, client, t.url, maxBytes)
		}
		return media.LoadFile(t.path, maxBytes)
	}
}

var submitCmd = &cobra.Command{
	Use:   "submit [file...]",
	Short: "Analyse media files or URLs and wait for the results",
	Long: `Submit one or more audio or video files for analysis.

Files are analysed concurrently, bounded by jobs.max_concurrent. The command
waits for every analysis to finish; Ctrl-C cancels the ones still running.

Examples:
  clipsage submit talk.mp4
  clipsage submit a.mp3 b.mp3 --url https://example.com/c.webm`,
	RunE: func(cmd *cobra.Command, args []string) error {
		urls, _ := cmd.Flags().GetStringArray("url")
		transcript, _ := cmd.Flags().GetBool("transcript")

		var targets []target
		for _, p := range args {
			targets = append(targets, target{path: p})
		}
		for _, u := range urls {
			targets = append(targets, target{url: u})
		}
		if len(targets) == 0 {
			return fmt.Errorf("nothing to submit: pass a file or --url")
		}

		return withApp(withModel, func(ctx context.Context, a *app) error {
			return submitAll(ctx, a.orch, targets, newLoader(a.cfg.Limits.MaxUploadBytes()), a.cfg.Jobs.MaxConcurrent, transcript, os.Stdout)
		})
	},
}

func init() {
	submitCmd.Flags().StringArray("url", nil, "media URL to fetch and analyse (repeatable)")
	submitCmd.Flags().Bool("transcript", false, "print the transcript of each result")
}

// submitAll submits every target, at most limit at a time, and prints each
// result as it finishes. Projects still running when ctx ends are cancelled.
func submitAll(ctx context.Context, svc api.ProjectService, targets []target, load sourceLoader, limit int, transcript bool, out io.Writer) error {
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	var mu sync.Mutex

	for _, t := range targets {
		g.Go(func() error {
			src, err := load(ctx, t)
			if err != nil {
				printError("%s: %v", t, err)
				return err
			}
			p, err := svc.Submit(ctx, src)
			if err != nil {
				printError("%s: %v", t, err)
				return err
			}
			printStep("Analysing %s (%s)", p.FileName, shortID(p.ID))

			done, err := svc.Wait(ctx, p.ID)
			if err != nil {
				if cerr := svc.Cancel(p.ID); cerr == nil {
					printWarning("Cancelled %s", p.FileName)
				}
				return err
			}

			mu.Lock()
			printProject(out, done, transcript)
			fmt.Fprintln(out)
			mu.Unlock()

			if done.Status != project.StatusCompleted {
				return fmt.Errorf("%s: %s", done.FileName, done.Status)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errReported
	}
	return nil
}

// --- list / show ---

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List projects, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(storeOnly, func(ctx context.Context, a *app) error {
			printProjectList(os.Stdout, a.orch.List())
			return nil
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a project and its analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		transcript, _ := cmd.Flags().GetBool("transcript")
		return withApp(storeOnly, func(ctx context.Context, a *app) error {
			p, err := resolve(a.orch, args[0])
			if err != nil {
				return err
			}
			printProject(os.Stdout, p, transcript)
			return nil
		})
	},
}

func init() {
	showCmd.Flags().Bool("transcript", false, "include the full transcript")
}

func resolve(svc api.ProjectService, ref string) (project.Project, error) {
	id, err := svc.Resolve(ref)
	if err != nil {
		return project.Project{}, err
	}
	return svc.Get(id)
}

// --- retry / delete ---

var retryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Re-run a failed or cancelled analysis and wait for it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(withModel, func(ctx context.Context, a *app) error {
			p, err := resolve(a.orch, args[0])
			if err != nil {
				return err
			}
			if err := a.orch.Retry(p.ID); err != nil {
				return err
			}
			printStep("Retrying %s (%s)", p.FileName, shortID(p.ID))
			done, err := a.orch.Wait(ctx, p.ID)
			if err != nil {
				if cerr := a.orch.Cancel(p.ID); cerr == nil {
					printWarning("Cancelled %s", p.FileName)
				}
				return err
			}
			printProject(os.Stdout, done, false)
			if done.Status != project.StatusCompleted {
				return errReported
			}
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a project and its stored media",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(storeOnly, func(ctx context.Context, a *app) error {
			p, err := resolve(a.orch, args[0])
			if err != nil {
				return err
			}
			if err := a.orch.Delete(p.ID); err != nil {
				return err
			}
			printSuccess("Deleted %s (%s)", p.FileName, shortID(p.ID))
			return nil
		})
	},
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <id> <question...>",
	Short: "Ask a question about a completed project",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(withModel, func(ctx context.Context, a *app) error {
			p, err := resolve(a.orch, args[0])
			if err != nil {
				return err
			}
			answer, err := a.orch.Ask(ctx, p.ID, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, answer)
			return nil
		})
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			value := k.Value
			if !k.Default {
				value = colorize(colorCyan, value)
			}
			fmt.Printf("  %s = %s %s\n", colorize(colorBold, k.Key), value, colorize(colorDim, "("+k.EnvVar+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a stored value so the default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configUnsetCmd)
}
