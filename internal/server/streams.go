package server

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// StreamInfo holds metadata about an open stream.
type StreamInfo struct {
	// ID is the unique identifier for this stream, attached to its logs.
	ID string

	// RemoteAddr is the client address as seen by the server.
	RemoteAddr string

	// StartedAt is when the stream was admitted.
	StartedAt time.Time
}

// StreamManager admits and tracks WebSocket streams. At most max streams are
// open at a time. All methods are safe for concurrent use.
type StreamManager struct {
	slots *semaphore.Weighted
	max   int
	now   func() time.Time

	mu     sync.Mutex
	active map[string]StreamInfo
}

// NewStreamManager creates a StreamManager admitting at most max streams.
func NewStreamManager(max int) *StreamManager {
	if max < 1 {
		max = 1
	}
	return &StreamManager{
		slots:  semaphore.NewWeighted(int64(max)),
		max:    max,
		now:    time.Now,
		active: make(map[string]StreamInfo),
	}
}

// Open admits a new stream or returns [ErrTooManyStreams] without waiting.
// The caller must call [StreamManager.Close] with the returned ID.
func (m *StreamManager) Open(remoteAddr string) (StreamInfo, error) {
	if !m.slots.TryAcquire(1) {
		return StreamInfo{}, ErrTooManyStreams
	}
	info := StreamInfo{
		ID:         uuid.NewString(),
		RemoteAddr: remoteAddr,
		StartedAt:  m.now().UTC(),
	}
	m.mu.Lock()
	m.active[info.ID] = info
	m.mu.Unlock()
	return info, nil
}

// Close releases the slot held by id. Unknown IDs are ignored.
func (m *StreamManager) Close(id string) {
	m.mu.Lock()
	_, ok := m.active[id]
	delete(m.active, id)
	m.mu.Unlock()
	if ok {
		m.slots.Release(1)
	}
}

// Info returns the metadata of an open stream.
func (m *StreamManager) Info(id string) (StreamInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.active[id]
	return info, ok
}

// Active returns all open streams, oldest first.
func (m *StreamManager) Active() []StreamInfo {
	m.mu.Lock()
	out := make([]StreamInfo, 0, len(m.active))
	for _, info := range m.active {
		out = append(out, info)
	}
	m.mu.Unlock()
	slices.SortFunc(out, func(a, b StreamInfo) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

// Count returns the number of open streams.
func (m *StreamManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Max returns the admission limit.
func (m *StreamManager) Max() int { return m.max }
