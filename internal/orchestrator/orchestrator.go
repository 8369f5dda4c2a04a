// Package orchestrator owns the lifecycle of analysis projects: it creates
// them from submitted media, runs inference jobs, tracks progress, supports
// cancel, retry and delete, and hosts the follow-up chat. The in-memory map
// is authoritative; the store is a write-behind copy.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kalambet/clipsage/internal/gateway"
	"github.com/kalambet/clipsage/internal/media"
	"github.com/kalambet/clipsage/internal/notify"
	"github.com/kalambet/clipsage/internal/project"
	"github.com/kalambet/clipsage/internal/storage"
)

// ErrClosed is returned by operations invoked after Close.
var ErrClosed = errors.New("orchestrator closed")

const defaultProgressInterval = 2 * time.Second

// Store persists project records.
type Store interface {
	SaveProject(ctx context.Context, rec project.Record) error
	LoadProjects(ctx context.Context) ([]project.Record, error)
	DeleteProject(ctx context.Context, id string) error
}

// AnalysisCache short-circuits runs for media analysed before.
type AnalysisCache interface {
	Lookup(ctx context.Context, p project.Project) (project.Analysis, bool)
	Remember(ctx context.Context, p project.Project, result project.Analysis) error
}

// Prober measures media duration in seconds, returning 0 when unknown.
type Prober interface {
	Probe(ctx context.Context, data []byte) float64
}

// Notifier receives user-facing notifications.
type Notifier interface {
	Emit(level notify.Level, projectID, message string) notify.Notification
}

// Observer receives run and chat events for metrics.
type Observer interface {
	RunStarted()
	RunFinished(outcome string, d time.Duration)
	CacheLookup(hit bool)
	ChatTurn(ok bool)
	PersistFailed()
}

// Deps wires an Orchestrator. Store and Gateway are required.
type Deps struct {
	Store    Store
	Gateway  gateway.Gateway
	Cache    AnalysisCache
	Prober   Prober
	Notifier Notifier
	Observer Observer
	Logger   *slog.Logger

	// MaxUploadBytes rejects larger submissions. Zero disables the limit.
	MaxUploadBytes int64
	// MaxConcurrent bounds runs doing inference at once. Zero is unbounded.
	MaxConcurrent int
	// ProgressInterval is the period of the progress ticker during inference.
	ProgressInterval time.Duration
	Now              func() time.Time
}

type job struct {
	cancel context.CancelFunc
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	store    Store
	gateway  gateway.Gateway
	cache    AnalysisCache
	prober   Prober
	notifier Notifier
	observer Observer
	logger   *slog.Logger

	maxUpload    int64
	tickInterval time.Duration
	now          func() time.Time
	sem          *semaphore.Weighted

	mu       sync.Mutex
	projects map[string]*project.Project
	handles  map[string]*media.Handle
	jobs     map[string]*job
	chatting map[string]bool
	changed  chan struct{}
	closed   bool

	wg      sync.WaitGroup
	persist *persister
}

// New creates an Orchestrator. Call Load before serving requests so that
// persisted projects are visible.
func New(deps Deps) *Orchestrator {
	o := &Orchestrator{
		store:        deps.Store,
		gateway:      deps.Gateway,
		cache:        deps.Cache,
		prober:       deps.Prober,
		notifier:     deps.Notifier,
		observer:     deps.Observer,
		logger:       deps.Logger,
		maxUpload:    deps.MaxUploadBytes,
		tickInterval: deps.ProgressInterval,
		now:          deps.Now,
		projects:     make(map[string]*project.Project),
		handles:      make(map[string]*media.Handle),
		jobs:         make(map[string]*job),
		chatting:     make(map[string]bool),
		changed:      make(chan struct{}),
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.notifier == nil {
		o.notifier = nopNotifier{}
	}
	if o.observer == nil {
		o.observer = nopObserver{}
	}
	if o.tickInterval <= 0 {
		o.tickInterval = defaultProgressInterval
	}
	if o.now == nil {
		o.now = time.Now
	}
	if deps.MaxConcurrent > 0 {
		o.sem = semaphore.NewWeighted(int64(deps.MaxConcurrent))
	}
	o.persist = newPersister(deps.Store, o.logger, o.persistFailed)
	return o
}

func (o *Orchestrator) persistFailed(id string, err error) {
	o.observer.PersistFailed()
	o.notifier.Emit(notify.LevelWarning, id, "Could not save project changes: "+err.Error())
}

// Load reads every stored project into memory. Projects left Queued or
// Processing by a previous process are marked Failed with reason
// "interrupted", and that correction is written before Load returns.
func (o *Orchestrator) Load(ctx context.Context) error {
	recs, err := o.store.LoadProjects(ctx)
	if err != nil {
		return project.WrapError(project.ErrPersistence, "load projects", err)
	}

	o.mu.Lock()
	interrupted := 0
	for _, rec := range recs {
		p := rec.Project.Clone()
		if _, running := o.jobs[p.ID]; running {
			continue
		}
		if p.ChatHistory == nil {
			p.ChatHistory = []project.ChatMessage{}
		}
		if p.Interrupt() {
			interrupted++
			o.persist.save(project.Record{Project: p.Clone()})
		}
		o.projects[p.ID] = &p
		if rec.Payload != nil {
			if old, ok := o.handles[p.ID]; ok {
				old.Release()
			}
			o.handles[p.ID] = media.NewHandle(rec.Payload)
		}
	}
	o.bumpLocked()
	o.mu.Unlock()

	o.persist.flush()
	o.logger.Info("projects loaded", "count", len(recs), "interrupted", interrupted)
	return nil
}

// Get returns a snapshot of one project.
func (o *Orchestrator) Get(id string) (project.Project, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.projects[id]
	if !ok {
		return project.Project{}, notFound(id)
	}
	return p.Clone(), nil
}

// List returns snapshots of all projects, newest first.
func (o *Orchestrator) List() []project.Project {
	o.mu.Lock()
	out := make([]project.Project, 0, len(o.projects))
	for _, p := range o.projects {
		out = append(out, p.Clone())
	}
	o.mu.Unlock()

	slices.SortFunc(out, func(a, b project.Project) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Resolve expands a unique id prefix to a full project id.
func (o *Orchestrator) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", project.WrapError(project.ErrInvalidInput, "resolve", errors.New("empty project id"))
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.projects[ref]; ok {
		return ref, nil
	}
	var match string
	for id := range o.projects {
		if !strings.HasPrefix(id, ref) {
			continue
		}
		if match != "" {
			return "", project.WrapError(project.ErrInvalidInput, "resolve", fmt.Errorf("project id %q is ambiguous", ref))
		}
		match = id
	}
	if match == "" {
		return "", notFound(ref)
	}
	return match, nil
}

// Wait blocks until the project is no longer Queued or Processing and
// returns its final snapshot.
func (o *Orchestrator) Wait(ctx context.Context, id string) (project.Project, error) {
	for {
		o.mu.Lock()
		p, ok := o.projects[id]
		if !ok {
			o.mu.Unlock()
			return project.Project{}, notFound(id)
		}
		if p.Status != project.StatusQueued && p.Status != project.StatusProcessing {
			snap := p.Clone()
			o.mu.Unlock()
			return snap, nil
		}
		changed := o.changed
		o.mu.Unlock()

		select {
		case <-ctx.Done():
			return project.Project{}, ctx.Err()
		case <-changed:
		}
	}
}

// Changes returns a channel that is closed on the next state change.
func (o *Orchestrator) Changes() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.changed
}

// Flush blocks until pending writes have reached the store.
func (o *Orchestrator) Flush() {
	o.persist.flush()
}

// Close stops accepting work, marks running projects interrupted, waits for
// their jobs to exit and drains pending writes.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	for id, j := range o.jobs {
		delete(o.jobs, id)
		j.cancel()
		if p, ok := o.projects[id]; ok && p.Interrupt() {
			o.persist.save(project.Record{Project: p.Clone()})
		}
	}
	o.bumpLocked()
	o.mu.Unlock()

	o.wg.Wait()
	o.persist.close()
}

// update applies fn to the project under the lock and queues a write of
// the result. Writes are queued while locked so they keep mutation order.
func (o *Orchestrator) update(id string, fn func(p *project.Project) error) (project.Project, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.projects[id]
	if !ok {
		return project.Project{}, notFound(id)
	}
	if err := fn(p); err != nil {
		return project.Project{}, err
	}
	snap := p.Clone()
	o.persist.save(project.Record{Project: snap})
	o.bumpLocked()
	return snap, nil
}

// updateJob is update for writes made by a running job. It does nothing
// and reports false when j is no longer the project's registered job, so a
// cancelled or deleted run cannot overwrite newer state. When finish is
// set, the job is deregistered.
func (o *Orchestrator) updateJob(id string, j *job, finish bool, fn func(p *project.Project) error) (project.Project, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.jobs[id] != j {
		return project.Project{}, false
	}
	p, ok := o.projects[id]
	if !ok {
		return project.Project{}, false
	}
	if err := fn(p); err != nil {
		o.logger.Warn("job update rejected", "project_id", id, "error", err)
		return project.Project{}, false
	}
	if finish {
		delete(o.jobs, id)
	}
	snap := p.Clone()
	o.persist.save(project.Record{Project: snap})
	o.bumpLocked()
	return snap, true
}

func (o *Orchestrator) bumpLocked() {
	close(o.changed)
	o.changed = make(chan struct{})
}

func notFound(id string) error {
	return project.WrapError(project.ErrNotFound, "lookup", fmt.Errorf("project %q", id))
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}

type nopNotifier struct{}

func (nopNotifier) Emit(level notify.Level, projectID, message string) notify.Notification {
	return notify.Notification{Level: level, ProjectID: projectID, Message: message}
}

type nopObserver struct{}

func (nopObserver) RunStarted()                       {}
func (nopObserver) RunFinished(string, time.Duration) {}
func (nopObserver) CacheLookup(bool)                  {}
func (nopObserver) ChatTurn(bool)                     {}
func (nopObserver) PersistFailed()                    {}
