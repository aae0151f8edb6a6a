package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/casacultural/livechat/internal/chat"
	"github.com/casacultural/livechat/internal/protocol"
	"github.com/casacultural/livechat/internal/ratelimit"
	"github.com/casacultural/livechat/internal/role"
	"github.com/casacultural/livechat/internal/store"
)

type published struct {
	streamID  string // empty for PublishAll
	eventType string
	payload   interface{}
}

type fakeBroadcaster struct {
	mu      sync.Mutex
	events  []published
	viewers map[string]int
}

func (f *fakeBroadcaster) Publish(streamID, eventType string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, published{streamID, eventType, payload})
	return nil
}

func (f *fakeBroadcaster) PublishAll(eventType string, payload interface{}) error {
	return f.Publish("", eventType, payload)
}

func (f *fakeBroadcaster) Viewers(streamID string) int {
	return f.viewers[streamID]
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, ratelimit.Rule) (bool, error) {
	return false, nil
}

// slowFirstAppend stalls the first Append after it has stored the message,
// so a second concurrent send could overtake it before publishing.
type slowFirstAppend struct {
	store.MessageStore
	once     sync.Once
	appended chan struct{}
}

func (s *slowFirstAppend) Append(ctx context.Context, msg chat.Message) (chat.Message, error) {
	stored, err := s.MessageStore.Append(ctx, msg)
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.appended)
		time.Sleep(100 * time.Millisecond)
	}
	return stored, err
}

func newTestChat() (*Chat, *fakeBroadcaster) {
	b := &fakeBroadcaster{viewers: map[string]int{}}
	roles := role.NewResolver(role.NewMemoryModerators())
	return NewChat(store.NewMemoryStore(), roles, b), b
}

var (
	alice = chat.Author{Name: "Alice", Email: "alice@example.org"}
	bob   = chat.Author{Name: "Bob", Email: "Bob@Example.org"}
	carla = chat.Author{Name: "Carla", Email: "carla@example.org"}
)

func TestSendStoresAndPublishes(t *testing.T) {
	svc, b := newTestChat()
	ctx := context.Background()

	msg, err := svc.Send(ctx, "live", alice, "olá a todos")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.ID == 0 || msg.Role != chat.RoleOrdinary || msg.Timestamp == "" {
		t.Errorf("unexpected stored message %+v", msg)
	}

	if len(b.events) != 1 || b.events[0].eventType != protocol.TypeMessage || b.events[0].streamID != "live" {
		t.Fatalf("events = %+v, want one message event on live", b.events)
	}
	got := b.events[0].payload.(chat.Message)
	if got.ID != msg.ID {
		t.Errorf("published id %d, want %d", got.ID, msg.ID)
	}

	list, err := svc.Messages(ctx, "live", 10)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(list) != 1 || list[0].ID != msg.ID {
		t.Errorf("Messages = %+v", list)
	}
}

func TestConcurrentSendsPublishInAppendOrder(t *testing.T) {
	b := &fakeBroadcaster{viewers: map[string]int{}}
	st := &slowFirstAppend{MessageStore: store.NewMemoryStore(), appended: make(chan struct{})}
	svc := NewChat(st, role.NewResolver(role.NewMemoryModerators()), b)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		svc.Send(ctx, "s1", alice, "primeira")
	}()
	<-st.appended
	go func() {
		defer wg.Done()
		svc.Send(ctx, "s1", carla, "segunda")
	}()
	wg.Wait()

	var ids []int64
	for _, ev := range b.events {
		ids = append(ids, ev.payload.(chat.Message).ID)
	}
	if len(ids) != 2 || ids[0] >= ids[1] {
		t.Errorf("published ids %v, want ascending append order", ids)
	}
}

func TestSendsOnDifferentStreamsDoNotWait(t *testing.T) {
	b := &fakeBroadcaster{viewers: map[string]int{}}
	st := &slowFirstAppend{MessageStore: store.NewMemoryStore(), appended: make(chan struct{})}
	svc := NewChat(st, role.NewResolver(role.NewMemoryModerators()), b)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.Send(ctx, "s1", alice, "lenta")
	}()
	<-st.appended

	start := time.Now()
	if _, err := svc.Send(ctx, "s2", alice, "rápida"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if waited := time.Since(start); waited > 50*time.Millisecond {
		t.Errorf("send on another stream waited %s", waited)
	}
	<-done
}

func TestSendNormalizesAuthorEmail(t *testing.T) {
	svc, _ := newTestChat()
	msg, err := svc.Send(context.Background(), "live", bob, "oi")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.Author.Email != "bob@example.org" {
		t.Errorf("email = %q, want normalized", msg.Author.Email)
	}
}

func TestSendValidation(t *testing.T) {
	svc, b := newTestChat()
	ctx := context.Background()

	tests := []struct {
		name     string
		streamID string
		author   chat.Author
		text     string
	}{
		{"empty text", "live", alice, "   "},
		{"missing stream", "", alice, "oi"},
		{"missing author", "live", chat.Author{}, "oi"},
		{"too long", "live", alice, string(make([]rune, chat.MaxTextChars+1))},
		{"email too long", "live", chat.Author{Name: "Ana", Email: strings.Repeat("a", chat.MaxAuthorEmail) + "@example.org"}, "oi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Send(ctx, tt.streamID, tt.author, tt.text)
			if !errors.Is(err, chat.ErrValidation) {
				t.Errorf("err = %v, want validation", err)
			}
		})
	}
	if len(b.events) != 0 {
		t.Errorf("rejected sends published %d events", len(b.events))
	}
}

func TestSendRateLimited(t *testing.T) {
	svc, b := newTestChat()
	svc.SetLimiter(denyLimiter{}, ratelimit.RuleMessage)

	_, err := svc.Send(context.Background(), "live", alice, "oi")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if len(b.events) != 0 {
		t.Error("rate limited send was published")
	}
}

func TestClearRequiresModerator(t *testing.T) {
	svc, b := newTestChat()
	ctx := context.Background()
	svc.Send(ctx, "live", alice, "um")
	svc.Send(ctx, "other", alice, "dois")

	_, err := svc.Clear(ctx, "live", chat.RoleOrdinary)
	if !errors.Is(err, chat.ErrAuthorization) {
		t.Fatalf("ordinary clear err = %v, want authorization", err)
	}

	n, err := svc.Clear(ctx, "live", chat.RoleModerator)
	if err != nil {
		t.Fatalf("moderator clear: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}

	last := b.events[len(b.events)-1]
	if last.eventType != protocol.TypeClear || last.streamID != "live" {
		t.Errorf("last event = %+v, want clear on live", last)
	}

	live, _ := svc.Messages(ctx, "live", 10)
	other, _ := svc.Messages(ctx, "other", 10)
	if len(live) != 0 || len(other) != 1 {
		t.Errorf("after clear live=%d other=%d, want 0 and 1", len(live), len(other))
	}
}

func TestPromoteByNameScenario(t *testing.T) {
	svc, b := newTestChat()
	ctx := context.Background()

	if err := svc.SetOwner("live", "Carla"); err != nil {
		t.Fatalf("SetOwner: %v", err)
	}
	if _, err := svc.Send(ctx, "live", bob, "cheguei"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	email, err := svc.Promote(ctx, PromoteRequest{StreamID: "live", Requester: carla, Name: "bob"})
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if email != "bob@example.org" {
		t.Errorf("promoted %q, want bob@example.org", email)
	}

	last := b.events[len(b.events)-1]
	if last.eventType != protocol.TypeRoleChange {
		t.Fatalf("last event = %s, want role-change", last.eventType)
	}
	rc := last.payload.(protocol.RoleChangeData)
	if rc.Email != email || rc.Role != chat.RoleModerator || !rc.Notice.IsNotification || rc.Notice.Role != chat.RoleSystem {
		t.Errorf("role change payload = %+v", rc)
	}

	msg, err := svc.Send(ctx, "live", bob, "agora sou moderador")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.Role != chat.RoleModerator {
		t.Errorf("Bob's role = %s, want moderator", msg.Role)
	}

	// History is re-resolved at read time.
	list, _ := svc.Messages(ctx, "live", 10)
	if list[0].Role != chat.RoleModerator {
		t.Errorf("first message role on read = %s, want moderator", list[0].Role)
	}
}

func TestPromoteRequiresOwner(t *testing.T) {
	svc, _ := newTestChat()
	ctx := context.Background()
	svc.SetOwner("live", "Carla")

	_, err := svc.Promote(ctx, PromoteRequest{StreamID: "live", Requester: alice, Email: "bob@example.org"})
	if !errors.Is(err, chat.ErrAuthorization) {
		t.Fatalf("err = %v, want authorization", err)
	}
	mods, _ := svc.Moderators(ctx)
	if len(mods) != 0 {
		t.Errorf("moderators = %v, want none", mods)
	}
}

func TestPromoteUnknownName(t *testing.T) {
	svc, _ := newTestChat()
	svc.SetOwner("live", "Carla")

	_, err := svc.Promote(context.Background(), PromoteRequest{StreamID: "live", Requester: carla, Name: "ghost"})
	if !errors.Is(err, chat.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestPromoteWithoutStreamPublishesToAll(t *testing.T) {
	svc, b := newTestChat()
	ctx := context.Background()
	svc.SetOwner("live", "Carla")

	if _, err := svc.Promote(ctx, PromoteRequest{Requester: carla, Email: "bob@example.org"}); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	last := b.events[len(b.events)-1]
	if last.streamID != "" || last.eventType != protocol.TypeRoleChange {
		t.Errorf("last event = %+v, want role-change to all streams", last)
	}

	if _, err := svc.Demote(ctx, PromoteRequest{Requester: carla, Email: "bob@example.org"}); err != nil {
		t.Fatalf("Demote: %v", err)
	}
	rc := b.events[len(b.events)-1].payload.(protocol.RoleChangeData)
	if rc.Role != chat.RoleOrdinary || rc.Notice.Text != DemotedNotice {
		t.Errorf("demote payload = %+v", rc)
	}
}

func TestOwnerPrecedenceOverModerator(t *testing.T) {
	svc, _ := newTestChat()
	ctx := context.Background()
	svc.SetOwner("live", "Carla")
	if _, err := svc.Promote(ctx, PromoteRequest{StreamID: "live", Requester: carla, Email: carla.Email}); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if got := svc.RoleOf(ctx, "live", carla); got != chat.RoleOwner {
		t.Errorf("RoleOf(carla) = %s, want owner", got)
	}
}

func TestSetOwnerValidation(t *testing.T) {
	svc, _ := newTestChat()
	if err := svc.SetOwner("live", "  "); !errors.Is(err, chat.ErrValidation) {
		t.Errorf("empty name err = %v, want validation", err)
	}
	if err := svc.SetOwner("", "Carla"); !errors.Is(err, chat.ErrValidation) {
		t.Errorf("empty stream err = %v, want validation", err)
	}
}

func TestPresence(t *testing.T) {
	svc, b := newTestChat()
	b.viewers["live"] = 3
	n, err := svc.Presence("live")
	if err != nil || n != 3 {
		t.Errorf("Presence = %d, %v; want 3", n, err)
	}
}
