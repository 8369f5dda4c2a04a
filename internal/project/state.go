package project

import (
	"fmt"
	"time"
)

const (
	// InitialProgress is the progress shown as soon as a run starts.
	InitialProgress = 5

	// ReasonInterrupted marks runs that were in flight when the previous
	// process exited.
	ReasonInterrupted = "interrupted"

	ReasonCancelledByUser = "cancelled by user"
	reasonUnknown         = "unknown error"
)

var allowedTransitions = map[Status]map[Status]struct{}{
	StatusQueued: {
		StatusProcessing: {},
		StatusFailed:     {},
		StatusCancelled:  {},
	},
	StatusProcessing: {
		StatusCompleted: {},
		StatusFailed:    {},
		StatusCancelled: {},
	},
	StatusFailed: {
		StatusProcessing: {},
	},
	StatusCancelled: {
		StatusProcessing: {},
	},
	StatusCompleted: {},
}

// ValidateStatus rejects values outside the known status set.
func ValidateStatus(s Status) error {
	if _, ok := allowedTransitions[s]; !ok {
		return WrapError(ErrInvalidInput, "validate status", fmt.Errorf("unknown status %q", s))
	}
	return nil
}

// ValidateTransition reports whether a project may move from one status to
// another.
func ValidateTransition(from, to Status) error {
	if err := ValidateStatus(from); err != nil {
		return err
	}
	if err := ValidateStatus(to); err != nil {
		return err
	}
	if _, ok := allowedTransitions[from][to]; !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// BeginRun moves the project into Processing for a fresh run.
func (p *Project) BeginRun() error {
	if err := ValidateTransition(p.Status, StatusProcessing); err != nil {
		return err
	}
	p.Status = StatusProcessing
	p.ProgressPercent = InitialProgress
	p.ErrorReason = ""
	p.Result = nil
	return nil
}

// SetProgress raises progress while Processing. Lower values are ignored so
// progress never moves backwards within a run. It reports whether the value
// changed.
func (p *Project) SetProgress(pct int) bool {
	if p.Status != StatusProcessing {
		return false
	}
	if pct > 100 {
		pct = 100
	}
	if pct <= p.ProgressPercent {
		return false
	}
	p.ProgressPercent = pct
	return true
}

// Complete records a successful run.
func (p *Project) Complete(result Analysis, elapsed time.Duration) error {
	if err := ValidateTransition(p.Status, StatusCompleted); err != nil {
		return err
	}
	r := result.Clone()
	ms := elapsed.Milliseconds()
	p.Status = StatusCompleted
	p.ProgressPercent = 100
	p.Result = &r
	p.ErrorReason = ""
	p.ProcessingDurationMs = &ms
	if p.ChatHistory == nil {
		p.ChatHistory = []ChatMessage{}
	}
	return nil
}

// Fail records a failed run with a human-readable reason.
func (p *Project) Fail(reason string) error {
	if err := ValidateTransition(p.Status, StatusFailed); err != nil {
		return err
	}
	if reason == "" {
		reason = reasonUnknown
	}
	p.Status = StatusFailed
	p.ProgressPercent = 0
	p.Result = nil
	p.ErrorReason = reason
	return nil
}

// Cancel records a cancelled run.
func (p *Project) Cancel(reason string) error {
	if err := ValidateTransition(p.Status, StatusCancelled); err != nil {
		return err
	}
	if reason == "" {
		reason = "cancelled"
	}
	p.Status = StatusCancelled
	p.ProgressPercent = 0
	p.Result = nil
	p.ErrorReason = reason
	return nil
}

// Interrupt fails a project whose run cannot continue because the owning
// process went away. It is a no-op for projects that are not running.
func (p *Project) Interrupt() bool {
	if p.Status != StatusProcessing && p.Status != StatusQueued {
		return false
	}
	p.Status = StatusFailed
	p.ProgressPercent = 0
	p.Result = nil
	p.ErrorReason = ReasonInterrupted
	return true
}
