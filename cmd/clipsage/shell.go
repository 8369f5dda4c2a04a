package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/kalambet/clipsage/internal/api"
	"github.com/kalambet/clipsage/internal/notify"
)

const shellHelp = `Commands:
  submit <path>             analyse a local file
  url <url>                 fetch and analyse a URL
  list                      list projects
  show <id> [transcript]    show a project
  cancel <id>               cancel a running analysis
  retry <id>                re-run a failed or cancelled analysis
  delete <id>               delete a project
  chat <id> <question>      ask about a completed project
  help                      show this help
  quit                      leave (running analyses are interrupted)
Ids may be shortened to any unique prefix.`

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive session with live progress notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(withModel, func(ctx context.Context, a *app) error {
			notes, unsubscribe := a.emitter.Subscribe(32)
			defer unsubscribe()
			sh := &shell{svc: a.orch, out: os.Stdout, load: newLoader(a.cfg.Limits.MaxUploadBytes())}
			return sh.run(ctx, os.Stdin, notes)
		})
	},
}

// shell is a line-oriented front end over a project service.
type shell struct {
	svc  api.ProjectService
	out  io.Writer
	load sourceLoader

	mu sync.Mutex
}

func (s *shell) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

// run reads commands from in until quit, EOF or ctx ends. Notifications are
// printed between commands as they arrive.
func (s *shell) run(ctx context.Context, in io.Reader, notes <-chan notify.Notification) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	s.printf("clipsage %s. Type help for commands.\n", version)
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-notes:
			if !ok {
				notes = nil
				continue
			}
			s.printf("%s\n", notificationLine(n))
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := s.exec(ctx, line); quit {
				return nil
			}
		}
	}
}

// exec runs one command line and reports whether the shell should exit.
func (s *shell) exec(ctx context.Context, line string) bool {
	args := splitArgs(line)
	if len(args) == 0 {
		return false
	}
	cmd, args := strings.ToLower(args[0]), args[1:]

	switch cmd {
	case "quit", "exit", "q":
		return true
	case "help", "?":
		s.printf("%s\n", shellHelp)
	case "list", "ls":
		s.mu.Lock()
		printProjectList(s.out, s.svc.List())
		s.mu.Unlock()
	case "submit":
		if len(args) != 1 {
			s.fail("usage: submit <path>")
			return false
		}
		s.submit(ctx, target{path: args[0]})
	case "url":
		if len(args) != 1 {
			s.fail("usage: url <url>")
			return false
		}
		s.submit(ctx, target{url: args[0]})
	case "show":
		if len(args) < 1 {
			s.fail("usage: show <id> [transcript]")
			return false
		}
		p, err := resolve(s.svc, args[0])
		if err != nil {
			s.fail("%v", err)
			return false
		}
		s.mu.Lock()
		printProject(s.out, p, len(args) > 1 && args[1] == "transcript")
		s.mu.Unlock()
	case "cancel", "retry", "delete", "rm":
		if len(args) != 1 {
			s.fail("usage: %s <id>", cmd)
			return false
		}
		s.action(cmd, args[0])
	case "chat", "ask":
		if len(args) < 2 {
			s.fail("usage: chat <id> <question>")
			return false
		}
		p, err := resolve(s.svc, args[0])
		if err != nil {
			s.fail("%v", err)
			return false
		}
		answer, err := s.svc.Ask(ctx, p.ID, strings.Join(args[1:], " "))
		if err != nil {
			s.fail("%v", err)
			return false
		}
		s.printf("%s %s\n", colorize(colorBold, "assistant:"), answer)
	default:
		s.fail("unknown command %q (try help)", cmd)
	}
	return false
}

func (s *shell) submit(ctx context.Context, t target) {
	src, err := s.load(ctx, t)
	if err != nil {
		s.fail("%s: %v", t, err)
		return
	}
	p, err := s.svc.Submit(ctx, src)
	if err != nil {
		s.fail("%s: %v", t, err)
		return
	}
	s.printf("%s\n", colorize(colorCyan, fmt.Sprintf("→ Analysing %s as %s", p.FileName, shortID(p.ID))))
}

func (s *shell) action(cmd, ref string) {
	id, err := s.svc.Resolve(ref)
	if err != nil {
		s.fail("%v", err)
		return
	}
	switch cmd {
	case "cancel":
		err = s.svc.Cancel(id)
	case "retry":
		err = s.svc.Retry(id)
	default:
		err = s.svc.Delete(id)
	}
	if err != nil {
		s.fail("%v", err)
	}
}

func (s *shell) fail(format string, args ...any) {
	s.printf("%s\n", colorize(colorRed, "✗ "+fmt.Sprintf(format, args...)))
}

// splitArgs splits on whitespace, keeping double-quoted runs together.
func splitArgs(line string) []string {
	var args []string
	var cur strings.Builder
	inQuote, have := false, false
	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
			have = true
		case !inQuote && (r == ' ' || r == '\t'):
			if have {
				args = append(args, cur.String())
				cur.Reset()
				have = false
			}
		default:
			cur.WriteRune(r)
			have = true
		}
	}
	if have {
		args = append(args, cur.String())
	}
	return args
}
