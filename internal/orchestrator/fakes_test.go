package orchestrator

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/clipsage/internal/cache"
	"github.com/kalambet/clipsage/internal/gateway"
	"github.com/kalambet/clipsage/internal/media"
	"github.com/kalambet/clipsage/internal/notify"
	"github.com/kalambet/clipsage/internal/project"
	"github.com/kalambet/clipsage/internal/storage"
)

type memStore struct {
	mu      sync.Mutex
	recs    map[string]project.Record
	entries map[string]cache.Entry
	saveErr error
	saves   int
	onPut   func(cache.Entry)
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]project.Record), entries: make(map[string]cache.Entry)}
}

func (s *memStore) SaveProject(ctx context.Context, rec project.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	if rec.Payload == nil {
		rec.Payload = s.recs[rec.Project.ID].Payload
	}
	rec.Project = rec.Project.Clone()
	s.recs[rec.Project.ID] = rec
	return nil
}

func (s *memStore) LoadProjects(ctx context.Context) ([]project.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]project.Record, 0, len(s.recs))
	for _, r := range s.recs {
		out = append(out, project.Record{Project: r.Project.Clone(), Payload: r.Payload})
	}
	return out, nil
}

func (s *memStore) DeleteProject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.recs, id)
	return nil
}

func (s *memStore) GetCacheEntry(ctx context.Context, fp string) (cache.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[fp]
	return e, ok, nil
}

func (s *memStore) PutCacheEntry(ctx context.Context, e cache.Entry) error {
	if s.onPut != nil {
		s.onPut(e)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.Fingerprint] = e
	return nil
}

func (s *memStore) record(id string) (project.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[id]
	return r, ok
}

func (s *memStore) setSaveErr(err error) {
	s.mu.Lock()
	s.saveErr = err
	s.mu.Unlock()
}

type fakeGateway struct {
	mu           sync.Mutex
	result       project.Analysis
	analyzeErr   error
	failFirst    int
	block        chan struct{}
	honorCtx     bool
	analyzeCalls int
	sawCancel    bool

	answer      string
	askErr      error
	askBlock    chan struct{}
	askCalls    int
	lastHistory []project.ChatMessage

	started    chan struct{}
	askStarted chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		result: project.Analysis{
			Summary:    "a talk about Go",
			Topics:     []string{"go", "concurrency"},
			Chapters:   []project.Chapter{{Title: "Intro", StartTimestamp: "00:00"}, {Title: "Channels", StartTimestamp: "01:05"}},
			Transcript: []project.Segment{{StartTimestamp: "00:05", Text: "hello"}},
		},
		answer:     "it is about channels",
		started:    make(chan struct{}, 16),
		askStarted: make(chan struct{}, 16),
	}
}

func (g *fakeGateway) setBlock(ch chan struct{}) {
	g.mu.Lock()
	g.block = ch
	g.mu.Unlock()
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.analyzeCalls
}

func (g *fakeGateway) Analyze(ctx context.Context, m gateway.Media) (project.Analysis, error) {
	g.mu.Lock()
	g.analyzeCalls++
	n := g.analyzeCalls
	block, honor := g.block, g.honorCtx
	result, err, failFirst := g.result.Clone(), g.analyzeErr, g.failFirst
	g.mu.Unlock()

	g.started <- struct{}{}
	if block != nil {
		if honor {
			select {
			case <-block:
			case <-ctx.Done():
				g.mu.Lock()
				g.sawCancel = true
				g.mu.Unlock()
				return project.Analysis{}, project.WrapError(project.ErrCancelled, "fake analyze", ctx.Err())
			}
		} else {
			<-block
		}
	}
	if err != nil && n <= failFirst {
		return project.Analysis{}, err
	}
	return result, nil
}

func (g *fakeGateway) Ask(ctx context.Context, m gateway.Media, question string, history []project.ChatMessage) (string, error) {
	g.mu.Lock()
	g.askCalls++
	g.lastHistory = slices.Clone(history)
	block, answer, err := g.askBlock, g.answer, g.askErr
	g.mu.Unlock()

	g.askStarted <- struct{}{}
	if block != nil {
		<-block
	}
	if err != nil {
		return "", project.WrapError(project.ErrGateway, "fake ask", err)
	}
	return answer, nil
}

type fakeProber struct {
	seconds float64
}

func (p fakeProber) Probe(ctx context.Context, data []byte) float64 {
	return p.seconds
}

type countingObserver struct {
	mu            sync.Mutex
	started       int
	finished      map[string]int
	cacheHits     int
	cacheMisses   int
	chatOK        int
	chatFailed    int
	persistFailed int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{finished: make(map[string]int)}
}

func (c *countingObserver) RunStarted() {
	c.mu.Lock()
	c.started++
	c.mu.Unlock()
}

func (c *countingObserver) RunFinished(outcome string, d time.Duration) {
	c.mu.Lock()
	c.finished[outcome]++
	c.mu.Unlock()
}

func (c *countingObserver) CacheLookup(hit bool) {
	c.mu.Lock()
	if hit {
		c.cacheHits++
	} else {
		c.cacheMisses++
	}
	c.mu.Unlock()
}

func (c *countingObserver) ChatTurn(ok bool) {
	c.mu.Lock()
	if ok {
		c.chatOK++
	} else {
		c.chatFailed++
	}
	c.mu.Unlock()
}

func (c *countingObserver) PersistFailed() {
	c.mu.Lock()
	c.persistFailed++
	c.mu.Unlock()
}

type observed struct {
	started       int
	finished      map[string]int
	cacheHits     int
	cacheMisses   int
	chatOK        int
	chatFailed    int
	persistFailed int
}

func (c *countingObserver) snapshot() observed {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := observed{
		started:       c.started,
		finished:      make(map[string]int, len(c.finished)),
		cacheHits:     c.cacheHits,
		cacheMisses:   c.cacheMisses,
		chatOK:        c.chatOK,
		chatFailed:    c.chatFailed,
		persistFailed: c.persistFailed,
	}
	for k, v := range c.finished {
		out.finished[k] = v
	}
	return out
}

type harness struct {
	o        *Orchestrator
	store    *memStore
	gw       *fakeGateway
	emitter  *notify.Emitter
	observer *countingObserver
}

func newHarness(t *testing.T, configure func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		store:    newMemStore(),
		gw:       newFakeGateway(),
		emitter:  notify.NewEmitter(time.Hour),
		observer: newCountingObserver(),
	}
	deps := Deps{
		Store:            h.store,
		Gateway:          h.gw,
		Cache:            cache.New(h.store),
		Prober:           fakeProber{seconds: 42.4},
		Notifier:         h.emitter,
		Observer:         h.observer,
		ProgressInterval: time.Hour,
	}
	if configure != nil {
		configure(&deps)
	}
	h.o = New(deps)
	t.Cleanup(h.o.Close)
	return h
}

func clipSource(name string, size int) media.Source {
	return media.Source{
		Name:     name,
		MimeType: "video/mp4",
		Kind:     project.MediaVideo,
		Data:     []byte(strings.Repeat("x", size)),
	}
}

func waitTerminal(t *testing.T, o *Orchestrator, id string) project.Project {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := o.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait(%s): %v", id, err)
	}
	return p
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func hasNotification(e *notify.Emitter, level notify.Level, substr string) bool {
	for _, n := range e.Active() {
		if n.Level == level && strings.Contains(n.Message, substr) {
			return true
		}
	}
	return false
}

var errBoom = errors.New("boom")
