package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/clipsage/internal/project"
)

const probeTimeout = 30 * time.Second

// FFProbe reads media duration with the ffprobe binary.
type FFProbe struct {
	Bin    string
	Logger *slog.Logger
}

// NewFFProbe returns a prober for the given binary; an empty name means
// "ffprobe" on PATH.
func NewFFProbe(bin string) *FFProbe {
	if bin == "" {
		bin = "ffprobe"
	}
	return &FFProbe{Bin: bin, Logger: slog.Default()}
}

// Probe returns the duration in seconds, or 0 when it cannot be determined.
// Failures are logged and never returned: an unknown duration only disables
// the cache for this run.
func (p *FFProbe) Probe(ctx context.Context, data []byte) float64 {
	d, err := p.duration(ctx, data)
	if err != nil {
		p.Logger.Warn("duration probe failed", "error", project.WrapError(project.ErrProbe, "probe", err))
		return 0
	}
	return d
}

func (p *FFProbe) duration(ctx context.Context, data []byte) (float64, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("empty payload")
	}

	tmp, err := os.CreateTemp("", "clipsage-probe-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("closing temp file: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := runCommand(ctx, p.Bin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		tmp.Name(),
	)
	if err != nil {
		return 0, fmt.Errorf("running %s: %w: %s", p.Bin, err, strings.TrimSpace(out))
	}
	return parseDuration(out)
}

func parseDuration(out string) (float64, error) {
	s := strings.TrimSpace(out)
	if s == "" || s == "N/A" {
		return 0, fmt.Errorf("no duration reported")
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing duration %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("non-positive duration %v", d)
	}
	return d, nil
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var output strings.Builder
	cmd.Stdout = &output
	cmd.Stderr = &output
	err := cmd.Run()
	return output.String(), err
}
