package store

import (
	"context"
	"sync"
	"time"

	"github.com/casacultural/livechat/internal/chat"
)

// MaxHistory is the number of recent messages retained per stream by the
// in-memory store.
const MaxHistory = 500

// MemoryStore keeps the last MaxHistory messages per stream in memory.
// It is goroutine-safe and uses a ring buffer per stream.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	streams map[string]*ringBuffer // streamID -> ring buffer
	now     func() time.Time
}

// ringBuffer is a fixed-size circular buffer of messages.
type ringBuffer struct {
	items []chat.Message
	pos   int
	count int
}

// NewMemoryStore creates a new empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		streams: make(map[string]*ringBuffer),
		now:     time.Now,
	}
}

// Append stores msg in the stream's ring buffer. If the buffer is full the
// oldest message is overwritten.
func (s *MemoryStore) Append(_ context.Context, msg chat.Message) (chat.Message, error) {
	if err := validate(msg); err != nil {
		return chat.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	msg.ID = s.nextID
	msg.CreatedAt = s.now()
	if msg.Timestamp == "" {
		msg.Timestamp = chat.FormatTimestamp(msg.CreatedAt)
	}

	rb, ok := s.streams[msg.StreamID]
	if !ok {
		rb = &ringBuffer{items: make([]chat.Message, MaxHistory)}
		s.streams[msg.StreamID] = rb
	}
	rb.items[rb.pos] = msg
	rb.pos = (rb.pos + 1) % MaxHistory
	if rb.count < MaxHistory {
		rb.count++
	}
	return msg, nil
}

// List returns the last limit messages for a stream in chronological order
// (oldest first). Returns an empty slice if the stream has no history.
func (s *MemoryStore) List(_ context.Context, streamID string, limit int) ([]chat.Message, error) {
	limit = normalizeLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	rb, ok := s.streams[streamID]
	if !ok {
		return []chat.Message{}, nil
	}

	n := rb.count
	if n > limit {
		n = limit
	}
	result := make([]chat.Message, n)
	// The oldest wanted message is n slots behind the write position.
	start := (rb.pos - n + MaxHistory) % MaxHistory
	for i := 0; i < n; i++ {
		result[i] = rb.items[(start+i)%MaxHistory]
	}
	return result, nil
}

// Clear deletes the buffer for a stream.
func (s *MemoryStore) Clear(_ context.Context, streamID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rb, ok := s.streams[streamID]
	if !ok {
		return 0, nil
	}
	delete(s.streams, streamID)
	return rb.count, nil
}

// LastSeen scans the stream newest first for an author named name.
func (s *MemoryStore) LastSeen(_ context.Context, streamID, name string) (chat.Author, bool, error) {
	want := chat.NormalizeName(name)

	s.mu.RLock()
	defer s.mu.RUnlock()

	rb, ok := s.streams[streamID]
	if !ok {
		return chat.Author{}, false, nil
	}
	for i := 1; i <= rb.count; i++ {
		m := rb.items[(rb.pos-i+MaxHistory)%MaxHistory]
		if !m.IsNotification && chat.NormalizeName(m.Author.Name) == want {
			return m.Author, true, nil
		}
	}
	return chat.Author{}, false, nil
}
