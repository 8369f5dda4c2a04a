package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/clipsage/internal/gateway"
	"github.com/kalambet/clipsage/internal/media"
	"github.com/kalambet/clipsage/internal/notify"
	"github.com/kalambet/clipsage/internal/project"
)

// Ask runs one chat turn about a Completed project. The question is
// appended to the history and saved before the gateway is called; when the
// call fails it stays there without an answer. One turn per project may be
// in flight at a time. The project status is never changed.
func (o *Orchestrator) Ask(ctx context.Context, id, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", project.WrapError(project.ErrInvalidInput, "ask", errors.New("empty question"))
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", ErrClosed
	}
	p, ok := o.projects[id]
	if !ok {
		o.mu.Unlock()
		return "", notFound(id)
	}
	if p.Status != project.StatusCompleted {
		o.mu.Unlock()
		return "", project.WrapError(project.ErrInvalidInput, "ask", fmt.Errorf("project %s is %s, chat needs a completed analysis", id, p.Status))
	}
	if o.chatting[id] {
		o.mu.Unlock()
		return "", project.WrapError(project.ErrInvalidInput, "ask", fmt.Errorf("project %s is already answering a question", id))
	}
	h := o.handles[id]
	history := append([]project.ChatMessage(nil), p.ChatHistory...)
	p.ChatHistory = append(p.ChatHistory, project.ChatMessage{Role: project.RoleUser, Text: question})
	o.chatting[id] = true
	m := gateway.Media{MimeType: p.MimeType, Name: p.FileName}
	o.persist.save(project.Record{Project: p.Clone()})
	o.bumpLocked()
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.chatting, id)
		o.bumpLocked()
		o.mu.Unlock()
	}()

	answer, err := o.askGateway(ctx, h, m, question, history)
	if err != nil {
		o.observer.ChatTurn(false)
		o.logger.Warn("chat turn failed", "project_id", id, "error", err)
		o.notifier.Emit(notify.LevelError, id, "Could not answer: "+err.Error())
		return "", project.WrapError(project.ErrChat, "ask", err)
	}

	if _, err := o.update(id, func(cur *project.Project) error {
		cur.ChatHistory = append(cur.ChatHistory, project.ChatMessage{Role: project.RoleAssistant, Text: answer})
		return nil
	}); err != nil {
		return "", err
	}
	o.observer.ChatTurn(true)
	return answer, nil
}

func (o *Orchestrator) askGateway(ctx context.Context, h *media.Handle, m gateway.Media, question string, history []project.ChatMessage) (string, error) {
	encoded, err := media.Encode(ctx, h, nil)
	if err != nil {
		return "", err
	}
	m.Data = encoded
	return o.gateway.Ask(ctx, m, question, history)
}

// Awaiting reports whether a chat turn is in flight for the project.
func (o *Orchestrator) Awaiting(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.chatting[id]
}
