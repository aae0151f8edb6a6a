package moderation

import (
	"fmt"
	"sync"
	"time"

	"github.com/casacultural/livechat/internal/chat"
)

// MuteList tracks participants silenced for the current viewing session.
// It is never shared between viewers or persisted. Entries expire lazily:
// an elapsed entry is purged the next time it is checked.
type MuteList struct {
	mu         sync.Mutex
	mutedUntil map[string]int64 // normalized email -> unix millis
	now        func() time.Time
}

// NewMuteList creates an empty MuteList using the wall clock.
func NewMuteList() *MuteList {
	return NewMuteListWithClock(time.Now)
}

// NewMuteListWithClock creates an empty MuteList that reads time from now.
func NewMuteListWithClock(now func() time.Time) *MuteList {
	return &MuteList{
		mutedUntil: make(map[string]int64),
		now:        now,
	}
}

// Silence mutes email for d and returns the time the mute ends. A new
// silence replaces any previous one for the same participant.
func (m *MuteList) Silence(email string, d time.Duration) time.Time {
	until := m.now().Add(d)

	m.mu.Lock()
	m.mutedUntil[chat.NormalizeEmail(email)] = until.UnixMilli()
	m.mu.Unlock()
	return until
}

// Unsilence lifts a mute immediately.
func (m *MuteList) Unsilence(email string) {
	m.mu.Lock()
	delete(m.mutedUntil, chat.NormalizeEmail(email))
	m.mu.Unlock()
}

// IsSilenced reports whether email is muted right now.
func (m *MuteList) IsSilenced(email string) bool {
	_, ok := m.until(email)
	return ok
}

// Check returns a silenced error while email is muted.
func (m *MuteList) Check(email string) error {
	until, ok := m.until(email)
	if !ok {
		return nil
	}
	return chat.Silenced(fmt.Sprintf("você está silenciado até %s", until.Format(chat.TimestampLayout)))
}

func (m *MuteList) until(email string) (time.Time, bool) {
	key := chat.NormalizeEmail(email)
	nowMillis := m.now().UnixMilli()

	m.mu.Lock()
	defer m.mu.Unlock()

	ms, ok := m.mutedUntil[key]
	if !ok {
		return time.Time{}, false
	}
	if ms <= nowMillis {
		delete(m.mutedUntil, key)
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// Len returns the number of tracked entries, including expired ones not yet
// purged.
func (m *MuteList) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mutedUntil)
}
