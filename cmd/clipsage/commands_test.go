package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/clipsage/internal/config"
	"github.com/kalambet/clipsage/internal/media"
	"github.com/kalambet/clipsage/internal/notify"
	"github.com/kalambet/clipsage/internal/ollama"
	"github.com/kalambet/clipsage/internal/project"
)

// fakeService is an in-memory project service.
type fakeService struct {
	mu       sync.Mutex
	projects map[string]project.Project
	order    []string
	calls    []string

	waitDelay   time.Duration
	waitStatus  project.Status
	inflight    int
	maxInflight int
}

func newFakeService() *fakeService {
	return &fakeService{projects: make(map[string]project.Project), waitStatus: project.StatusCompleted}
}

func (f *fakeService) add(p project.Project) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects[p.ID] = p
	f.order = append(f.order, p.ID)
}

func (f *fakeService) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeService) List() []project.Project {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []project.Project
	for _, id := range f.order {
		if p, ok := f.projects[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeService) Get(id string) (project.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return project.Project{}, project.WrapError(project.ErrNotFound, "get", fmt.Errorf("project %s", id))
	}
	return p, nil
}

func (f *fakeService) Resolve(ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var match string
	for id := range f.projects {
		if strings.HasPrefix(id, ref) {
			if match != "" {
				return "", project.WrapError(project.ErrInvalidInput, "resolve", fmt.Errorf("%q is ambiguous", ref))
			}
			match = id
		}
	}
	if match == "" {
		return "", project.WrapError(project.ErrNotFound, "resolve", fmt.Errorf("no project matches %q", ref))
	}
	return match, nil
}

func (f *fakeService) Submit(_ context.Context, src media.Source) (project.Project, error) {
	f.mu.Lock()
	id := fmt.Sprintf("p%02d-%s", len(f.order)+1, src.Name)
	f.calls = append(f.calls, "submit "+src.Name)
	f.mu.Unlock()
	p := project.Project{ID: id, FileName: src.Name, FileSizeBytes: src.Size(), MimeType: src.MimeType, Status: project.StatusProcessing}
	f.add(p)
	return p, nil
}

func (f *fakeService) Wait(ctx context.Context, id string) (project.Project, error) {
	f.mu.Lock()
	f.inflight++
	f.maxInflight = max(f.maxInflight, f.inflight)
	delay, status := f.waitDelay, f.waitStatus
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return project.Project{}, ctx.Err()
	}

	f.mu.Lock()
	p := f.projects[id]
	p.Status = status
	if status == project.StatusCompleted {
		p.Result = &project.Analysis{Summary: "summary of " + p.FileName}
	}
	f.projects[id] = p
	f.mu.Unlock()
	return p, nil
}

func (f *fakeService) Ask(_ context.Context, id, question string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "ask "+id+" "+question)
	f.mu.Unlock()
	return "because of " + question, nil
}

func (f *fakeService) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return nil
}

func (f *fakeService) Cancel(id string) error { return f.record("cancel " + id) }
func (f *fakeService) Retry(id string) error  { return f.record("retry " + id) }
func (f *fakeService) Delete(id string) error {
	f.mu.Lock()
	delete(f.projects, id)
	f.mu.Unlock()
	return f.record("delete " + id)
}

func fakeLoader(ctx context.Context, t target) (media.Source, error) {
	if strings.Contains(t.String(), "missing") {
		return media.Source{}, project.WrapError(project.ErrInvalidInput, "load file", os.ErrNotExist)
	}
	return media.NewSource(filepath.Base(t.String()), "", []byte("0123456789"))
}

// syncBuffer is a bytes.Buffer safe for one writer and one poller.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func withNoColor(t *testing.T) {
	t.Helper()
	old := noColor
	noColor = true
	t.Cleanup(func() { noColor = old })
}

// --- output ---

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestPrintProject(t *testing.T) {
	withNoColor(t)
	dur := 125.0
	ms := int64(1500)
	p := project.Project{
		ID: "3f2a9c1e-0000", FileName: "talk.mp4", MimeType: "video/mp4", FileSizeBytes: 3 << 20,
		DurationSeconds: &dur, Status: project.StatusCompleted, ProgressPercent: 100,
		ProcessingDurationMs: &ms,
		Result: &project.Analysis{
			Summary:    "A talk about Go.",
			Topics:     []string{"go", "channels"},
			Chapters:   []project.Chapter{{Title: "Channels", StartTimestamp: "01:05", Seconds: 65}},
			Transcript: []project.Segment{{StartTimestamp: "00:05", Text: "hello", Seconds: 5}},
		},
		ChatHistory: []project.ChatMessage{{Role: project.RoleUser, Text: "why?"}},
		CreatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	var buf bytes.Buffer
	printProject(&buf, p, false)
	out := buf.String()
	for _, want := range []string{"talk.mp4", "completed", "3.0 MiB", "02:05", "1.5s", "A talk about Go.", "go, channels", "01:05  Channels", "user: why?"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "hello") {
		t.Error("transcript printed without the flag")
	}

	buf.Reset()
	printProject(&buf, p, true)
	if !strings.Contains(buf.String(), "00:05  hello") {
		t.Errorf("transcript missing:\n%s", buf.String())
	}
}

func TestPrintProjectList_Empty(t *testing.T) {
	var buf bytes.Buffer
	printProjectList(&buf, nil)
	if !strings.Contains(buf.String(), "No projects yet") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestHumanBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KiB"},
		{200 << 20, "200.0 MiB"},
	}
	for _, tc := range tests {
		if got := humanBytes(tc.in); got != tc.want {
			t.Errorf("humanBytes(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// --- submit ---

func TestSubmitAll_BoundsConcurrency(t *testing.T) {
	withNoColor(t)
	svc := newFakeService()
	svc.waitDelay = 20 * time.Millisecond

	var targets []target
	for i := range 5 {
		targets = append(targets, target{path: fmt.Sprintf("/media/clip%d.mp4", i)})
	}
	var out bytes.Buffer
	if err := submitAll(context.Background(), svc, targets, fakeLoader, 2, false, &out); err != nil {
		t.Fatalf("submitAll: %v", err)
	}
	if svc.maxInflight > 2 {
		t.Errorf("max in flight = %d, want <= 2", svc.maxInflight)
	}
	if got := strings.Count(out.String(), "summary of clip"); got != 5 {
		t.Errorf("printed %d results, want 5:\n%s", got, out.String())
	}
}

func TestSubmitAll_ReportsFailures(t *testing.T) {
	withNoColor(t)
	svc := newFakeService()
	targets := []target{{path: "/media/ok.mp4"}, {path: "/media/missing.mp4"}}

	var out bytes.Buffer
	err := submitAll(context.Background(), svc, targets, fakeLoader, 2, false, &out)
	if !errors.Is(err, errReported) {
		t.Fatalf("err = %v, want errReported", err)
	}
	if !strings.Contains(out.String(), "summary of ok.mp4") {
		t.Errorf("successful result not printed:\n%s", out.String())
	}
}

func TestSubmitAll_FailedAnalysisIsReported(t *testing.T) {
	withNoColor(t)
	svc := newFakeService()
	svc.waitStatus = project.StatusFailed

	err := submitAll(context.Background(), svc, []target{{path: "/media/a.mp4"}}, fakeLoader, 1, false, io.Discard)
	if !errors.Is(err, errReported) {
		t.Fatalf("err = %v, want errReported", err)
	}
}

func TestSubmitAll_InterruptCancels(t *testing.T) {
	withNoColor(t)
	svc := newFakeService()
	svc.waitDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for {
			svc.mu.Lock()
			n := svc.inflight
			svc.mu.Unlock()
			if n > 0 {
				cancel()
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	err := submitAll(ctx, svc, []target{{path: "/media/long.mp4"}}, fakeLoader, 1, false, io.Discard)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	calls := svc.called()
	if len(calls) != 2 || !strings.HasPrefix(calls[1], "cancel p01-long.mp4") {
		t.Errorf("calls = %v, want submit then cancel", calls)
	}
}

// --- shell ---

func TestSplitArgs(t *testing.T) {
	got := splitArgs(`submit "/my media/clip one.mp4"  now`)
	want := []string{"submit", "/my media/clip one.mp4", "now"}
	if len(got) != len(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("arg %d = %q, want %q", i, got[i], want[i])
		}
	}
	if len(splitArgs("   ")) != 0 {
		t.Error("blank line should have no args")
	}
}

func TestShell_Commands(t *testing.T) {
	withNoColor(t)
	svc := newFakeService()
	svc.add(project.Project{ID: "abc123", FileName: "talk.mp4", Status: project.StatusCompleted})
	svc.add(project.Project{ID: "def456", FileName: "pod.mp3", Status: project.StatusFailed})

	var out syncBuffer
	sh := &shell{svc: svc, out: &out, load: fakeLoader}
	input := strings.Join([]string{
		"help",
		"submit /media/new.mp4",
		"list",
		"show abc",
		"chat abc what is it about",
		"retry def",
		"cancel nope",
		"delete abc",
		"bogus",
		"quit",
		"list",
	}, "\n")
	if err := sh.run(context.Background(), strings.NewReader(input), nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	text := out.String()
	for _, want := range []string{
		"Commands:",
		"Analysing new.mp4",
		"pod.mp3",
		"assistant: because of what is it about",
		`no project matches "nope"`,
		`unknown command "bogus"`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}

	calls := svc.called()
	want := []string{"submit new.mp4", "ask abc123 what is it about", "retry def456", "delete abc123"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, calls[i], want[i])
		}
	}
}

func TestShell_PrintsNotifications(t *testing.T) {
	withNoColor(t)
	svc := newFakeService()
	notes := make(chan notify.Notification, 1)
	notes <- notify.Notification{Level: notify.LevelSuccess, Message: "Analysis of talk.mp4 complete"}

	pr, pw := io.Pipe()
	var out syncBuffer
	sh := &shell{svc: svc, out: &out, load: fakeLoader}

	done := make(chan error, 1)
	go func() { done <- sh.run(context.Background(), pr, notes) }()

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(out.String(), "✓ Analysis of talk.mp4 complete") {
		if time.Now().After(deadline) {
			t.Fatalf("notification not printed:\n%s", out.String())
		}
		time.Sleep(time.Millisecond)
	}
	io.WriteString(pw, "quit\n")
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	pw.Close()
}

func TestShell_StopsOnContext(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	ctx, cancel := context.WithCancel(context.Background())
	sh := &shell{svc: newFakeService(), out: io.Discard, load: fakeLoader}

	done := make(chan error, 1)
	go func() { done <- sh.run(ctx, pr, nil) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("shell did not stop on cancellation")
	}
}

// --- app plumbing ---

func TestPIDFile(t *testing.T) {
	path := pidFilePath(t.TempDir())

	if err := acquirePIDFile(path); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if pid, err := readPIDFile(path); err != nil || pid != os.Getpid() {
		t.Fatalf("pid = %d, %v", pid, err)
	}
	if err := acquirePIDFile(path); err != nil {
		t.Fatalf("re-acquire by the same process: %v", err)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getppid())), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := acquirePIDFile(path); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("err = %v, want already running", err)
	}
	removePIDFile(path)
	if _, err := os.Stat(path); err != nil {
		t.Error("removePIDFile deleted another process's lock")
	}
}

func TestSetupLogging_File(t *testing.T) {
	old := slog.Default()
	t.Cleanup(func() { slog.SetDefault(old) })

	path := filepath.Join(t.TempDir(), "clipsage.log")
	logger, closer := setupLogging(config.LogConfig{Level: "debug", File: path})
	if closer == nil {
		t.Fatal("expected a closer for file logging")
	}
	logger.Debug("project created", "project_id", "abc")
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	if !strings.Contains(string(data), "project_id=abc") {
		t.Errorf("log = %q", data)
	}
}

// offlineEnv points config at a temp dir and an Ollama address nobody
// listens on.
func offlineEnv(t *testing.T) string {
	t.Helper()
	old := slog.Default()
	t.Cleanup(func() { slog.SetDefault(old) })

	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "share"))
	t.Setenv("CLIPSAGE_STORAGE_DRIVER", "sqlite")
	t.Setenv("CLIPSAGE_STORAGE_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("CLIPSAGE_GATEWAY_BACKEND", "ollama")
	t.Setenv("CLIPSAGE_OLLAMA_BASE_URL", "http://127.0.0.1:1")
	t.Setenv("CLIPSAGE_LOG_FILE", filepath.Join(dir, "clipsage.log"))
	return dir
}

func TestOpenApp_StoreOnlyWorksWithoutOllama(t *testing.T) {
	offlineEnv(t)

	a, err := openApp(context.Background(), storeOnly)
	if err != nil {
		t.Fatalf("openApp(storeOnly) error = %v", err)
	}
	defer a.Close()

	if got := a.orch.List(); len(got) != 0 {
		t.Errorf("List() = %v, want empty", got)
	}
	if err := a.orch.Delete("missing"); project.KindOf(err) != project.KindNotFound {
		t.Errorf("Delete(missing) error = %v, want not found", err)
	}
}

func TestOpenApp_WithModelNeedsOllama(t *testing.T) {
	dir := offlineEnv(t)

	_, err := openApp(context.Background(), withModel)
	if !errors.Is(err, ollama.ErrNotRunning) {
		t.Fatalf("openApp(withModel) error = %v, want ErrNotRunning", err)
	}
	if _, err := os.Stat(pidFilePath(filepath.Join(dir, "data"))); !os.IsNotExist(err) {
		t.Errorf("PID file left behind after a failed open: %v", err)
	}
}
