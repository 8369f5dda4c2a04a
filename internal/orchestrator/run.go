package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/clipsage/internal/gateway"
	"github.com/kalambet/clipsage/internal/media"
	"github.com/kalambet/clipsage/internal/metrics"
	"github.com/kalambet/clipsage/internal/notify"
	"github.com/kalambet/clipsage/internal/project"
)

// Progress milestones within a run.
const (
	progressEncoded  = 30
	progressTickStep = 2
	progressTickCap  = 90
)

// Submit creates a project from src and starts analysing it. Oversized
// input is rejected before any project exists.
func (o *Orchestrator) Submit(ctx context.Context, src media.Source) (project.Project, error) {
	if err := media.CheckSize(src.Size(), o.maxUpload); err != nil {
		o.notifier.Emit(notify.LevelError, "", fmt.Sprintf("%s is too large (limit %d MB)", src.Name, o.maxUpload>>20))
		return project.Project{}, err
	}
	if src.Kind != project.MediaVideo && src.Kind != project.MediaAudio {
		return project.Project{}, project.WrapError(project.ErrInvalidInput, "submit", fmt.Errorf("unsupported media type %q", src.MimeType))
	}
	if src.Size() == 0 {
		return project.Project{}, project.WrapError(project.ErrInvalidInput, "submit", errors.New("empty payload"))
	}

	p := project.Project{
		ID:            uuid.NewString(),
		FileName:      src.Name,
		FileSizeBytes: src.Size(),
		MimeType:      src.MimeType,
		MediaKind:     src.Kind,
		Status:        project.StatusQueued,
		ChatHistory:   []project.ChatMessage{},
		CreatedAt:     o.now().UTC(),
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return project.Project{}, ErrClosed
	}
	o.projects[p.ID] = &p
	o.handles[p.ID] = media.NewHandle(src.Data)
	o.persist.save(project.Record{Project: p.Clone(), Payload: src.Data})
	o.bumpLocked()
	o.mu.Unlock()

	o.logger.Info("project created", "project_id", p.ID, "file_name", p.FileName, "size_bytes", p.FileSizeBytes)
	if err := o.Start(p.ID); err != nil {
		return project.Project{}, err
	}
	return o.Get(p.ID)
}

// Start moves a Queued, Failed or Cancelled project into Processing and
// runs it in the background. A project has at most one job at a time.
func (o *Orchestrator) Start(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	p, ok := o.projects[id]
	if !ok {
		return notFound(id)
	}
	if _, running := o.jobs[id]; running {
		return project.WrapError(project.ErrInvalidTransition, "start", fmt.Errorf("project %s is already running", id))
	}
	h := o.handles[id]
	if h == nil || h.Released() {
		return project.WrapError(project.ErrInvalidInput, "start", fmt.Errorf("project %s has no source media", id))
	}
	if err := p.BeginRun(); err != nil {
		return fmt.Errorf("start %s: %w", id, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{cancel: cancel}
	o.jobs[id] = j
	snap := p.Clone()
	o.persist.save(project.Record{Project: snap})
	o.bumpLocked()

	o.observer.RunStarted()
	o.wg.Add(1)
	go o.run(ctx, j, snap, h)
	return nil
}

// Retry re-runs a Failed or Cancelled project with the same id, media and
// chat history.
func (o *Orchestrator) Retry(id string) error {
	p, err := o.Get(id)
	if err != nil {
		return err
	}
	if p.Status != project.StatusFailed && p.Status != project.StatusCancelled {
		return project.WrapError(project.ErrInvalidTransition, "retry", fmt.Errorf("project %s is %s", id, p.Status))
	}
	if err := o.Start(id); err != nil {
		return err
	}
	o.notifier.Emit(notify.LevelInfo, id, "Retrying analysis of "+p.FileName)
	return nil
}

// Cancel stops a Processing project. The status changes immediately; a
// result arriving later from the cancelled job is discarded.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	p, ok := o.projects[id]
	if !ok {
		o.mu.Unlock()
		return notFound(id)
	}
	j, running := o.jobs[id]
	if !running {
		o.mu.Unlock()
		return project.WrapError(project.ErrInvalidTransition, "cancel", fmt.Errorf("project %s is %s", id, p.Status))
	}
	delete(o.jobs, id)
	j.cancel()
	if err := p.Cancel(project.ReasonCancelledByUser); err != nil {
		o.mu.Unlock()
		return fmt.Errorf("cancel %s: %w", id, err)
	}
	name := p.FileName
	o.persist.save(project.Record{Project: p.Clone()})
	o.bumpLocked()
	o.mu.Unlock()

	o.logger.Info("project cancelled", "project_id", id)
	o.notifier.Emit(notify.LevelInfo, id, "Cancelled analysis of "+name)
	return nil
}

// Delete cancels any running job, removes the project from memory and the
// store, and releases its media.
func (o *Orchestrator) Delete(id string) error {
	o.mu.Lock()
	p, ok := o.projects[id]
	if !ok {
		o.mu.Unlock()
		return notFound(id)
	}
	if j, running := o.jobs[id]; running {
		delete(o.jobs, id)
		j.cancel()
	}
	h := o.handles[id]
	name := p.FileName
	delete(o.projects, id)
	delete(o.handles, id)
	delete(o.chatting, id)
	o.persist.remove(id)
	o.bumpLocked()
	o.mu.Unlock()

	if h != nil {
		h.Release()
	}
	o.logger.Info("project deleted", "project_id", id)
	o.notifier.Emit(notify.LevelInfo, id, "Deleted "+name)
	return nil
}

// run executes one analysis job. Every write goes through updateJob, so
// once the job is deregistered by Cancel, Delete or Close nothing it does
// is visible.
func (o *Orchestrator) run(ctx context.Context, j *job, p project.Project, h *media.Handle) {
	defer o.wg.Done()
	defer j.cancel()

	started := o.now()
	outcome, err := o.execute(ctx, j, p, h, started)
	if err != nil {
		outcome = o.fail(ctx, j, p, err)
	}
	o.observer.RunFinished(outcome, o.now().Sub(started))
}

func (o *Orchestrator) execute(ctx context.Context, j *job, p project.Project, h *media.Handle, started time.Time) (string, error) {
	if o.sem != nil {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			return "", project.WrapError(project.ErrCancelled, "acquire slot", err)
		}
		defer o.sem.Release(1)
	}

	if p.Duration() <= 0 && o.prober != nil {
		data, err := h.Bytes()
		if err != nil {
			return "", project.WrapError(project.ErrEncode, "read source", err)
		}
		if d := o.prober.Probe(ctx, data); d > 0 {
			p.DurationSeconds = &d
			o.updateJob(p.ID, j, false, func(cur *project.Project) error {
				cur.DurationSeconds = &d
				return nil
			})
		}
	}

	if o.cache != nil {
		result, hit := o.cache.Lookup(ctx, p)
		o.observer.CacheLookup(hit)
		if hit {
			if _, ok := o.updateJob(p.ID, j, true, func(cur *project.Project) error {
				return cur.Complete(result, 0)
			}); !ok {
				return metrics.OutcomeCancelled, nil
			}
			o.logger.Info("analysis served from cache", "project_id", p.ID)
			o.notifier.Emit(notify.LevelSuccess, p.ID, "Loaded cached analysis for "+p.FileName)
			return metrics.OutcomeCached, nil
		}
	}

	encoded, err := media.Encode(ctx, h, func(done, total int64) {
		pct := project.InitialProgress + int(int64(progressEncoded-project.InitialProgress)*done/total)
		o.updateJob(p.ID, j, false, func(cur *project.Project) error {
			cur.SetProgress(pct)
			return nil
		})
	})
	if err != nil {
		return "", err
	}

	tickCtx, stopTicker := context.WithCancel(ctx)
	tickerDone := make(chan struct{})
	go func() {
		defer close(tickerDone)
		o.tick(tickCtx, j, p.ID)
	}()
	result, err := o.gateway.Analyze(ctx, gateway.Media{Data: encoded, MimeType: p.MimeType, Name: p.FileName})
	stopTicker()
	<-tickerDone
	if err != nil {
		return "", err
	}

	result.ResolveTimestamps()
	elapsed := o.now().Sub(started)
	if _, ok := o.updateJob(p.ID, j, true, func(cur *project.Project) error {
		return cur.Complete(result, elapsed)
	}); !ok {
		o.logger.Info("discarding result of stale run", "project_id", p.ID)
		return metrics.OutcomeCancelled, nil
	}
	// Only a committed result is cached; the job is no longer cancellable.
	if o.cache != nil {
		if err := o.cache.Remember(context.WithoutCancel(ctx), p, result); err != nil {
			o.logger.Warn("caching analysis failed", "project_id", p.ID, "error", err)
		}
	}
	o.logger.Info("analysis completed", "project_id", p.ID, "elapsed", elapsed)
	o.notifier.Emit(notify.LevelSuccess, p.ID, "Analysis of "+p.FileName+" complete")
	return metrics.OutcomeCompleted, nil
}

// tick nudges progress towards progressTickCap while inference runs.
func (o *Orchestrator) tick(ctx context.Context, j *job, id string) {
	t := time.NewTicker(o.tickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			o.updateJob(id, j, false, func(cur *project.Project) error {
				cur.SetProgress(min(max(cur.ProgressPercent, progressEncoded)+progressTickStep, progressTickCap))
				return nil
			})
		}
	}
}

// fail records a run error. Cancellation that Cancel, Delete or Close
// already recorded finds the job deregistered and changes nothing.
func (o *Orchestrator) fail(ctx context.Context, j *job, p project.Project, err error) string {
	if project.KindOf(err) == project.KindCancelled || ctx.Err() != nil {
		o.updateJob(p.ID, j, true, func(cur *project.Project) error {
			return cur.Cancel("")
		})
		return metrics.OutcomeCancelled
	}

	reason := err.Error()
	if _, ok := o.updateJob(p.ID, j, true, func(cur *project.Project) error {
		return cur.Fail(reason)
	}); ok {
		o.logger.Warn("analysis failed", "project_id", p.ID, "kind", project.KindOf(err).String(), "error", err)
		o.notifier.Emit(notify.LevelError, p.ID, "Analysis of "+p.FileName+" failed: "+reason)
	}
	return metrics.OutcomeFailed
}
