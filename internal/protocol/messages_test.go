package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/casacultural/livechat/internal/chat"
)

// ---------------------------------------------------------------------------
// Test: message events carry the chat message under "data"
// ---------------------------------------------------------------------------

func TestNewEvent_Message(t *testing.T) {
	msg := chat.Message{
		ID:        42,
		StreamID:  "live1",
		Author:    chat.Author{Name: "Ana", Email: "ana@example.com"},
		Role:      chat.RoleModerator,
		Text:      "Boa noite!",
		Timestamp: "20:30",
		CreatedAt: time.Date(2024, 5, 1, 20, 30, 0, 0, time.UTC),
	}

	data, err := NewEvent(TypeMessage, msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["type"] != TypeMessage {
		t.Errorf("expected type %q, got %v", TypeMessage, result["type"])
	}
	inner, ok := result["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected data object, got %T", result["data"])
	}
	if inner["streamId"] != "live1" {
		t.Errorf("expected streamId live1, got %v", inner["streamId"])
	}
	if inner["role"] != "moderator" {
		t.Errorf("expected role moderator, got %v", inner["role"])
	}
	if _, present := inner["isNotification"]; present {
		t.Error("isNotification should be omitted for ordinary messages")
	}

	ev, err := ParseEvent(data)
	if err != nil {
		t.Fatalf("ParseEvent() error: %v", err)
	}
	var decoded chat.Message
	if err := ev.Decode(&decoded); err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if decoded.ID != 42 || decoded.Author.Email != "ana@example.com" {
		t.Errorf("unexpected decoded message: %+v", decoded)
	}
}

// ---------------------------------------------------------------------------
// Test: events without payload omit the data field
// ---------------------------------------------------------------------------

func TestNewEvent_NoData(t *testing.T) {
	data, err := NewEvent(TypePong, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"type":"pong"}` {
		t.Errorf("unexpected frame %s", data)
	}

	ev, _ := ParseEvent(data)
	var v ClearData
	if err := ev.Decode(&v); err == nil {
		t.Error("expected error decoding an event without data")
	}
}

// ---------------------------------------------------------------------------
// Test: role-change carries a directed system notice
// ---------------------------------------------------------------------------

func TestRoleChangeEvent(t *testing.T) {
	notice := chat.NewNotification("live1", "bob@example.com", "Você agora é moderador", time.Now())
	data, err := NewEvent(TypeRoleChange, RoleChangeData{Email: "bob@example.com", Role: chat.RoleModerator, Notice: notice})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ev, err := ParseEvent(data)
	if err != nil {
		t.Fatalf("ParseEvent() error: %v", err)
	}
	if ev.Type != TypeRoleChange {
		t.Fatalf("expected %q, got %q", TypeRoleChange, ev.Type)
	}
	var rc RoleChangeData
	if err := ev.Decode(&rc); err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if !rc.Notice.IsNotification || rc.Notice.Role != chat.RoleSystem {
		t.Errorf("notice must be a system notification, got %+v", rc.Notice)
	}
}

// ---------------------------------------------------------------------------
// Test: malformed envelopes are rejected
// ---------------------------------------------------------------------------

func TestParseEvent_Invalid(t *testing.T) {
	for _, input := range []string{`not json`, `{}`, `{"type":""}`, `{"data":{}}`} {
		if _, err := ParseEvent([]byte(input)); err == nil {
			t.Errorf("ParseEvent(%s) expected error", input)
		}
	}
}

func TestParseClientMessage(t *testing.T) {
	msgType, err := ParseClientMessage([]byte(`{"type":"ping"}`))
	if err != nil || msgType != TypePing {
		t.Fatalf("ParseClientMessage(ping) = %q, %v", msgType, err)
	}

	msgType, err = ParseClientMessage([]byte(`{"type":"presence"}`))
	if err != nil || msgType != TypePresenceQuery {
		t.Fatalf("ParseClientMessage(presence) = %q, %v", msgType, err)
	}

	msgType, err = ParseClientMessage([]byte(`{"type":"clear"}`))
	if err == nil {
		t.Fatal("expected error for server-only type")
	}
	if msgType != "clear" {
		t.Errorf("expected returned type %q, got %q", "clear", msgType)
	}
}
