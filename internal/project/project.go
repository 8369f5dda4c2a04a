package project

import (
	"slices"
	"time"
)

// Status is the lifecycle state of a project.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no job is associated with a project in this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// MediaKind classifies the submitted payload.
type MediaKind string

const (
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one entry in a project's chat history.
type ChatMessage struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Chapter is a titled section of the media starting at a timestamp.
type Chapter struct {
	Title          string `json:"title"`
	StartTimestamp string `json:"start_timestamp"`
	Seconds        int    `json:"seconds"`
}

// Segment is one transcript line.
type Segment struct {
	StartTimestamp string `json:"start_timestamp"`
	Text           string `json:"text"`
	Seconds        int    `json:"seconds"`
}

// Analysis is the structured result of an inference run.
type Analysis struct {
	Summary    string    `json:"summary"`
	Topics     []string  `json:"topics"`
	Chapters   []Chapter `json:"chapters"`
	Transcript []Segment `json:"transcript"`
}

// Clone returns a deep copy of the analysis.
func (a Analysis) Clone() Analysis {
	return Analysis{
		Summary:    a.Summary,
		Topics:     slices.Clone(a.Topics),
		Chapters:   slices.Clone(a.Chapters),
		Transcript: slices.Clone(a.Transcript),
	}
}

// Project is one unit of submitted media plus everything derived from it.
type Project struct {
	ID                   string        `json:"id"`
	FileName             string        `json:"file_name"`
	FileSizeBytes        int64         `json:"file_size_bytes"`
	MimeType             string        `json:"mime_type"`
	MediaKind            MediaKind     `json:"media_kind"`
	DurationSeconds      *float64      `json:"duration_seconds,omitempty"`
	Status               Status        `json:"status"`
	ProgressPercent      int           `json:"progress_percent"`
	Result               *Analysis     `json:"result,omitempty"`
	ErrorReason          string        `json:"error_reason,omitempty"`
	ProcessingDurationMs *int64        `json:"processing_duration_ms,omitempty"`
	ChatHistory          []ChatMessage `json:"chat_history"`
	CreatedAt            time.Time     `json:"created_at"`
}

// Duration returns the known duration in seconds, or 0 when unknown.
func (p Project) Duration() float64 {
	if p.DurationSeconds == nil {
		return 0
	}
	return *p.DurationSeconds
}

// Clone returns a deep copy. Empty slices stay non-nil so they encode as [].
func (p Project) Clone() Project {
	out := p
	if p.DurationSeconds != nil {
		d := *p.DurationSeconds
		out.DurationSeconds = &d
	}
	if p.Result != nil {
		r := p.Result.Clone()
		out.Result = &r
	}
	if p.ProcessingDurationMs != nil {
		ms := *p.ProcessingDurationMs
		out.ProcessingDurationMs = &ms
	}
	out.ChatHistory = slices.Clone(p.ChatHistory)
	return out
}

// Record is the persisted shape of a project. A nil Payload on save means
// the stored payload is left untouched.
type Record struct {
	Project Project
	Payload []byte
}
