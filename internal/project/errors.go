package project

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure the orchestrator handles is wrapped with exactly
// one of these so callers switch on kind instead of matching strings.
var (
	ErrInputTooLarge     = errors.New("input too large")
	ErrProbe             = errors.New("duration probe failed")
	ErrEncode            = errors.New("encode failed")
	ErrGateway           = errors.New("inference gateway failure")
	ErrCancelled         = errors.New("cancelled")
	ErrPersistence       = errors.New("persistence failure")
	ErrChat              = errors.New("chat failure")
	ErrNotFound          = errors.New("project not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ErrorKind is the closed set of failure categories.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInputTooLarge
	KindProbe
	KindEncode
	KindGateway
	KindCancelled
	KindPersistence
	KindChat
	KindNotFound
	KindInvalidInput
	KindInvalidTransition
)

var kindNames = map[ErrorKind]string{
	KindUnknown:           "unknown",
	KindInputTooLarge:     "input_too_large",
	KindProbe:             "probe_failure",
	KindEncode:            "encode_failure",
	KindGateway:           "gateway_failure",
	KindCancelled:         "cancelled",
	KindPersistence:       "persistence_failure",
	KindChat:              "chat_failure",
	KindNotFound:          "not_found",
	KindInvalidInput:      "invalid_input",
	KindInvalidTransition: "invalid_transition",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// WrapError preserves the typed kind with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// KindOf maps an error to its kind. Cancellation wins over everything else
// because a cancelled run may surface as a wrapped transport error. A chat
// failure outranks the gateway or encode error it wraps.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, ErrChat):
		return KindChat
	case errors.Is(err, ErrInputTooLarge):
		return KindInputTooLarge
	case errors.Is(err, ErrProbe):
		return KindProbe
	case errors.Is(err, ErrEncode):
		return KindEncode
	case errors.Is(err, ErrGateway):
		return KindGateway
	case errors.Is(err, ErrPersistence):
		return KindPersistence
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	default:
		return KindUnknown
	}
}
