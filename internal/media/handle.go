package media

import (
	"errors"
	"sync"
)

// ErrReleased is returned when reading a handle after Release.
var ErrReleased = errors.New("media handle released")

// Handle owns the payload bytes of one project. It stays readable until
// Release is called, which happens exactly once when the project is deleted.
type Handle struct {
	mu       sync.RWMutex
	data     []byte
	size     int64
	released bool
}

// NewHandle takes ownership of data.
func NewHandle(data []byte) *Handle {
	return &Handle{data: data, size: int64(len(data))}
}

// Bytes returns the payload. The slice must not be modified.
func (h *Handle) Bytes() ([]byte, error) {
	if h == nil {
		return nil, ErrReleased
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.released {
		return nil, ErrReleased
	}
	return h.data, nil
}

// Size is the payload length in bytes. It stays valid after Release.
func (h *Handle) Size() int64 {
	if h == nil {
		return 0
	}
	return h.size
}

// Release drops the payload. Subsequent calls are no-ops.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data = nil
	h.released = true
}

// Released reports whether Release has been called.
func (h *Handle) Released() bool {
	if h == nil {
		return true
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.released
}
