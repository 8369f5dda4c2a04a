// Package notify delivers transient, self-expiring user notifications.
// Emission never blocks and never fails the caller.
package notify

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long a notification stays active.
const DefaultTTL = 6 * time.Second

// Level is the severity of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is one transient message.
type Notification struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	ProjectID string    `json:"project_id,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Sink receives every emitted notification.
type Sink interface {
	Send(n Notification) error
}

// Emitter fans notifications out to sinks and subscribers and keeps the
// unexpired ones for Active.
type Emitter struct {
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
	sinks  []Sink

	mu      sync.Mutex
	active  []Notification
	subs    map[int]chan Notification
	nextSub int
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(e *Emitter) { e.now = now }
}

// WithLogger sets the logger used to report sink failures.
func WithLogger(l *slog.Logger) Option {
	return func(e *Emitter) { e.logger = l }
}

// WithSink adds a sink.
func WithSink(s Sink) Option {
	return func(e *Emitter) { e.sinks = append(e.sinks, s) }
}

// NewEmitter creates an emitter. Non-positive ttl uses DefaultTTL.
func NewEmitter(ttl time.Duration, opts ...Option) *Emitter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	e := &Emitter{
		ttl:    ttl,
		now:    time.Now,
		logger: slog.Default(),
		subs:   make(map[int]chan Notification),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit records and delivers a notification.
func (e *Emitter) Emit(level Level, projectID, message string) Notification {
	now := e.now()
	n := Notification{
		ID:        uuid.NewString(),
		Level:     level,
		ProjectID: projectID,
		Message:   message,
		CreatedAt: now,
		ExpiresAt: now.Add(e.ttl),
	}

	e.mu.Lock()
	e.active = append(e.pruneLocked(now), n)
	for _, ch := range e.subs {
		select {
		case ch <- n:
		default:
		}
	}
	e.mu.Unlock()

	for _, s := range e.sinks {
		if err := s.Send(n); err != nil {
			e.logger.Warn("notification sink failed", "notification_id", n.ID, "error", err)
		}
	}
	return n
}

// Active returns the unexpired notifications, oldest first.
func (e *Emitter) Active() []Notification {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = e.pruneLocked(e.now())
	return slices.Clone(e.active)
}

func (e *Emitter) pruneLocked(now time.Time) []Notification {
	return slices.DeleteFunc(e.active, func(n Notification) bool {
		return !now.Before(n.ExpiresAt)
	})
}

// Subscribe returns a channel receiving future notifications. Delivery is
// non-blocking: a full buffer drops messages. Call the returned func to
// unsubscribe; it closes the channel.
func (e *Emitter) Subscribe(buffer int) (<-chan Notification, func()) {
	ch := make(chan Notification, max(buffer, 1))

	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
			close(ch)
		})
	}
}

// LogSink writes notifications to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Send(n Notification) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	attrs := []any{"level_tag", string(n.Level), "project_id", n.ProjectID}
	switch n.Level {
	case LevelError:
		l.Error(n.Message, attrs...)
	case LevelWarning:
		l.Warn(n.Message, attrs...)
	default:
		l.Info(n.Message, attrs...)
	}
	return nil
}
