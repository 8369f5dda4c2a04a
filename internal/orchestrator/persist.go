package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/clipsage/internal/project"
)

const persistTimeout = 30 * time.Second

type persistOp struct {
	rec    project.Record
	delete bool
}

// persister writes project changes to the store on a single background
// worker. Writes for one id keep their order; a pending save is replaced by
// a newer one for the same id, keeping any payload the older one carried.
type persister struct {
	store   Store
	logger  *slog.Logger
	onError func(id string, err error)

	mu      sync.Mutex
	cond    *sync.Cond
	order   []string
	pending map[string]persistOp
	busy    bool
	closed  bool
	done    chan struct{}
}

func newPersister(store Store, logger *slog.Logger, onError func(id string, err error)) *persister {
	p := &persister{
		store:   store,
		logger:  logger,
		onError: onError,
		pending: make(map[string]persistOp),
		done:    make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.run()
	return p
}

func (p *persister) save(rec project.Record) {
	p.enqueue(rec.Project.ID, persistOp{rec: rec})
}

func (p *persister) remove(id string) {
	p.enqueue(id, persistOp{rec: project.Record{Project: project.Project{ID: id}}, delete: true})
}

func (p *persister) enqueue(id string, op persistOp) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.logger.Warn("dropping write after shutdown", "project_id", id, "delete", op.delete)
		return
	}
	if prev, ok := p.pending[id]; ok {
		if prev.delete {
			return
		}
		if !op.delete && op.rec.Payload == nil {
			op.rec.Payload = prev.rec.Payload
		}
		p.pending[id] = op
		return
	}
	p.pending[id] = op
	p.order = append(p.order, id)
	p.cond.Broadcast()
}

// flush blocks until every queued write has been attempted.
func (p *persister) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.order) > 0 || p.busy {
		p.cond.Wait()
	}
}

// close drains the queue and stops the worker.
func (p *persister) close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	<-p.done
}

func (p *persister) run() {
	defer close(p.done)
	for {
		p.mu.Lock()
		for len(p.order) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.order) == 0 {
			p.mu.Unlock()
			return
		}
		id := p.order[0]
		p.order = p.order[1:]
		op := p.pending[id]
		delete(p.pending, id)
		p.busy = true
		p.mu.Unlock()

		p.runOnce(id, op)

		p.mu.Lock()
		p.busy = false
		p.cond.Broadcast()
		p.mu.Unlock()
	}
}

func (p *persister) runOnce(id string, op persistOp) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	var err error
	if op.delete {
		err = p.store.DeleteProject(ctx, id)
		if isNotFound(err) {
			err = nil
		}
	} else {
		err = p.store.SaveProject(ctx, op.rec)
	}
	if err != nil {
		p.logger.Error("persisting project failed", "project_id", id, "delete", op.delete, "error", err)
		if p.onError != nil {
			p.onError(id, err)
		}
	}
}
