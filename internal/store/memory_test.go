package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/casacultural/livechat/internal/chat"
)

func newMsg(streamID, name, text string) chat.Message {
	return chat.Message{
		StreamID: streamID,
		Author:   chat.Author{Name: name, Email: strings.ToLower(name) + "@example.com"},
		Role:     chat.RoleOrdinary,
		Text:     text,
	}
}

func TestAppendAndList(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, text := range []string{"hello", "hi", "how are you?"} {
		if _, err := s.Append(ctx, newMsg("live1", "ana", text)); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}

	msgs, err := s.List(ctx, "live1", 10)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	want := []string{"hello", "hi", "how are you?"}
	for i, m := range msgs {
		if m.Text != want[i] {
			t.Errorf("index %d: expected %q, got %q", i, want[i], m.Text)
		}
		if i > 0 && m.ID <= msgs[i-1].ID {
			t.Errorf("ids not strictly increasing: %d then %d", msgs[i-1].ID, m.ID)
		}
		if m.CreatedAt.IsZero() {
			t.Errorf("index %d: CreatedAt not assigned", i)
		}
		if m.Timestamp == "" {
			t.Errorf("index %d: Timestamp not assigned", i)
		}
	}
}

func TestAppendValidation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	cases := []chat.Message{
		newMsg("live1", "ana", ""),
		newMsg("live1", "ana", strings.Repeat("x", chat.MaxTextChars+1)),
		newMsg("", "ana", "hello"),
	}
	for _, m := range cases {
		if _, err := s.Append(ctx, m); !errors.Is(err, chat.ErrValidation) {
			t.Errorf("Append(%q in %q) expected validation error, got %v", m.Text, m.StreamID, err)
		}
	}

	msgs, _ := s.List(ctx, "live1", 10)
	if len(msgs) != 0 {
		t.Fatalf("rejected messages must not be stored, got %d", len(msgs))
	}
}

func TestListReturnsMostRecent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var last chat.Message
	for i := 1; i <= 10; i++ {
		m, err := s.Append(ctx, newMsg("live1", "ana", fmt.Sprintf("msg-%d", i)))
		if err != nil {
			t.Fatalf("Append() error: %v", err)
		}
		last = m
	}

	msgs, _ := s.List(ctx, "live1", 3)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		expected := fmt.Sprintf("msg-%d", i+8)
		if m.Text != expected {
			t.Errorf("index %d: expected %q, got %q", i, expected, m.Text)
		}
	}
	if msgs[2].ID != last.ID {
		t.Errorf("expected last appended id %d in result, got %d", last.ID, msgs[2].ID)
	}
}

func TestRingBufferWraparound(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	total := MaxHistory + 7
	for i := 1; i <= total; i++ {
		s.Append(ctx, newMsg("live1", "ana", fmt.Sprintf("msg-%d", i)))
	}

	msgs, _ := s.List(ctx, "live1", MaxListLimit)
	if len(msgs) != MaxListLimit {
		t.Fatalf("expected %d messages, got %d", MaxListLimit, len(msgs))
	}
	first := total - MaxListLimit + 1
	for i, m := range msgs {
		expected := fmt.Sprintf("msg-%d", first+i)
		if m.Text != expected {
			t.Fatalf("index %d: expected %q, got %q", i, expected, m.Text)
		}
	}
}

func TestListDefaultLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < DefaultListLimit+5; i++ {
		s.Append(ctx, newMsg("live1", "ana", "x"))
	}
	msgs, _ := s.List(ctx, "live1", 0)
	if len(msgs) != DefaultListLimit {
		t.Fatalf("expected default limit %d, got %d", DefaultListLimit, len(msgs))
	}
}

func TestListUnknownStream(t *testing.T) {
	s := NewMemoryStore()

	msgs, err := s.List(context.Background(), "does-not-exist", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgs == nil {
		t.Fatal("expected non-nil empty slice, got nil")
	}
	if len(msgs) != 0 {
		t.Fatalf("expected 0 messages, got %d", len(msgs))
	}
}

func TestClearOnlyAffectsStream(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.Append(ctx, newMsg("live1", "ana", "c1-msg1"))
	s.Append(ctx, newMsg("live2", "bob", "c2-msg1"))
	s.Append(ctx, newMsg("live1", "bob", "c1-msg2"))

	n, err := s.Clear(ctx, "live1")
	if err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 deleted, got %d", n)
	}

	msgs1, _ := s.List(ctx, "live1", 10)
	if len(msgs1) != 0 {
		t.Fatalf("live1: expected 0 messages after clear, got %d", len(msgs1))
	}
	msgs2, _ := s.List(ctx, "live2", 10)
	if len(msgs2) != 1 || msgs2[0].Text != "c2-msg1" {
		t.Fatalf("live2 should be unaffected, got %+v", msgs2)
	}

	// Clearing an unknown stream is a no-op.
	if n, _ := s.Clear(ctx, "does-not-exist"); n != 0 {
		t.Errorf("expected 0 deleted for unknown stream, got %d", n)
	}
}

func TestIDsKeepIncreasingAfterClear(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a, _ := s.Append(ctx, newMsg("live1", "ana", "before"))
	s.Clear(ctx, "live1")
	b, _ := s.Append(ctx, newMsg("live1", "ana", "after"))
	if b.ID <= a.ID {
		t.Fatalf("expected id after clear (%d) to exceed earlier id (%d)", b.ID, a.ID)
	}
}

func TestLastSeen(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.Append(ctx, chat.Message{StreamID: "live1", Author: chat.Author{Name: "Bob", Email: "old@example.com"}, Text: "first"})
	s.Append(ctx, chat.Message{StreamID: "live1", Author: chat.Author{Name: "Ana", Email: "ana@example.com"}, Text: "hey"})
	s.Append(ctx, chat.Message{StreamID: "live1", Author: chat.Author{Name: "Bob ", Email: "bob@example.com"}, Text: "second"})

	a, ok, err := s.LastSeen(ctx, "live1", " bob")
	if err != nil {
		t.Fatalf("LastSeen() error: %v", err)
	}
	if !ok {
		t.Fatal("expected Bob to be found")
	}
	if a.Email != "bob@example.com" {
		t.Errorf("expected most recent email bob@example.com, got %q", a.Email)
	}

	if _, ok, _ := s.LastSeen(ctx, "live1", "carla"); ok {
		t.Error("expected unknown name not to be found")
	}
	if _, ok, _ := s.LastSeen(ctx, "live2", "bob"); ok {
		t.Error("expected lookup to be scoped to the stream")
	}
}

func TestConcurrentAppend(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	goroutines := 50
	perGoroutine := 20

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			for m := 0; m < perGoroutine; m++ {
				s.Append(ctx, newMsg("live1", fmt.Sprintf("user%d", id), fmt.Sprintf("g%d-m%d", id, m)))
				_, _ = s.List(ctx, "live1", 5)
			}
		}(g)
	}
	wg.Wait()

	msgs, _ := s.List(ctx, "live1", MaxListLimit)
	if len(msgs) != MaxListLimit {
		t.Fatalf("expected %d messages, got %d", MaxListLimit, len(msgs))
	}
	seen := make(map[int64]bool)
	for i, m := range msgs {
		if seen[m.ID] {
			t.Fatalf("duplicate id %d", m.ID)
		}
		seen[m.ID] = true
		if i > 0 && m.ID <= msgs[i-1].ID {
			t.Fatalf("list not in insertion order at index %d", i)
		}
	}
}
