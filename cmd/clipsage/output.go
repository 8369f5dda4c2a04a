package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kalambet/clipsage/internal/notify"
	"github.com/kalambet/clipsage/internal/project"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func statusLabel(p project.Project) string {
	switch p.Status {
	case project.StatusCompleted:
		return colorize(colorGreen, string(p.Status))
	case project.StatusFailed:
		return colorize(colorRed, string(p.Status))
	case project.StatusCancelled:
		return colorize(colorYellow, string(p.Status))
	case project.StatusProcessing:
		return colorize(colorCyan, fmt.Sprintf("%s %d%%", p.Status, p.ProgressPercent))
	default:
		return string(p.Status)
	}
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// printProjectList writes one line per project, newest first.
func printProjectList(w io.Writer, projects []project.Project) {
	if len(projects) == 0 {
		fmt.Fprintln(w, "No projects yet. Submit one with: clipsage submit <file>")
		return
	}
	for _, p := range projects {
		fmt.Fprintf(w, "%s  %-28s  %-10s  %s\n",
			colorize(colorBold, shortID(p.ID)), p.FileName, humanBytes(p.FileSizeBytes), statusLabel(p))
	}
}

// printProject writes a project's details and, when complete, its analysis.
func printProject(w io.Writer, p project.Project, transcript bool) {
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, p.FileName), colorize(colorDim, "("+p.ID+")"))
	fmt.Fprintf(w, "  status:   %s\n", statusLabel(p))
	fmt.Fprintf(w, "  media:    %s, %s", p.MimeType, humanBytes(p.FileSizeBytes))
	if d := p.Duration(); d > 0 {
		fmt.Fprintf(w, ", %s", project.FormatSeconds(int(d)))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  created:  %s\n", p.CreatedAt.Local().Format(time.DateTime))
	if p.ProcessingDurationMs != nil {
		fmt.Fprintf(w, "  took:     %s\n", (time.Duration(*p.ProcessingDurationMs) * time.Millisecond).Round(time.Millisecond))
	}
	if p.ErrorReason != "" {
		fmt.Fprintf(w, "  reason:   %s\n", colorize(colorRed, p.ErrorReason))
	}

	if r := p.Result; r != nil {
		fmt.Fprintf(w, "\n%s\n%s\n", colorize(colorBold, "Summary"), r.Summary)
		if len(r.Topics) > 0 {
			fmt.Fprintf(w, "\n%s\n%s\n", colorize(colorBold, "Topics"), strings.Join(r.Topics, ", "))
		}
		if len(r.Chapters) > 0 {
			fmt.Fprintf(w, "\n%s\n", colorize(colorBold, "Chapters"))
			for _, c := range r.Chapters {
				fmt.Fprintf(w, "  %s  %s\n", colorize(colorCyan, project.FormatSeconds(c.Seconds)), c.Title)
			}
		}
		if transcript && len(r.Transcript) > 0 {
			fmt.Fprintf(w, "\n%s\n", colorize(colorBold, "Transcript"))
			for _, s := range r.Transcript {
				fmt.Fprintf(w, "  %s  %s\n", colorize(colorCyan, project.FormatSeconds(s.Seconds)), s.Text)
			}
		}
	}

	if len(p.ChatHistory) > 0 {
		fmt.Fprintf(w, "\n%s\n", colorize(colorBold, "Chat"))
		for _, m := range p.ChatHistory {
			fmt.Fprintf(w, "  %s %s\n", colorize(colorDim, string(m.Role)+":"), m.Text)
		}
	}
}

func notificationLine(n notify.Notification) string {
	switch n.Level {
	case notify.LevelSuccess:
		return colorize(colorGreen, "✓ "+n.Message)
	case notify.LevelWarning:
		return colorize(colorYellow, "⚠ "+n.Message)
	case notify.LevelError:
		return colorize(colorRed, "✗ "+n.Message)
	default:
		return colorize(colorCyan, "→ "+n.Message)
	}
}
