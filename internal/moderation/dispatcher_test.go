package moderation

import (
	"context"
	"errors"
	"testing"

	"github.com/casacultural/livechat/internal/chat"
)

func newTestDispatcher(calls *[]Kind) *Dispatcher {
	d := NewDispatcher()
	for kind := range MinRoles {
		kind := kind
		d.Register(kind, func(_ context.Context, cmd Command) (string, error) {
			*calls = append(*calls, cmd.Kind)
			return "ok", nil
		})
	}
	return d
}

func TestDispatcherRoleGate(t *testing.T) {
	tests := []struct {
		input   string
		role    chat.Role
		allowed bool
	}{
		{"/clear", chat.RoleOrdinary, false},
		{"/clear", chat.RoleModerator, true},
		{"/clear", chat.RoleOwner, true},
		{"/adm Bob", chat.RoleModerator, false},
		{"/adm Bob", chat.RoleOwner, true},
		{"/removeadm Bob", chat.RoleModerator, false},
		{"/removeadm Bob", chat.RoleOwner, true},
		{"/silenciar Alice 5m", chat.RoleOrdinary, false},
		{"/silenciar Alice 5m", chat.RoleModerator, true},
		{"/admins", chat.RoleOrdinary, true},
	}

	for _, tt := range tests {
		t.Run(tt.input+"/"+string(tt.role), func(t *testing.T) {
			var calls []Kind
			d := newTestDispatcher(&calls)

			_, err := d.Run(context.Background(), tt.role, tt.input)
			if tt.allowed {
				if err != nil {
					t.Fatalf("Run() unexpected error: %v", err)
				}
				if len(calls) != 1 {
					t.Fatalf("expected handler to run once, ran %d times", len(calls))
				}
				return
			}
			if !errors.Is(err, chat.ErrAuthorization) {
				t.Fatalf("expected authorization error, got %v", err)
			}
			if len(calls) != 0 {
				t.Fatal("handler must not run when role is insufficient")
			}
		})
	}
}

func TestDispatcherUnknownCommand(t *testing.T) {
	var calls []Kind
	d := newTestDispatcher(&calls)

	_, err := d.Run(context.Background(), chat.RoleOwner, "/banir Bob")
	if !errors.Is(err, chat.ErrUnknownCommand) {
		t.Fatalf("expected unknown command error, got %v", err)
	}
	if len(calls) != 0 {
		t.Fatal("no handler should run for unknown commands")
	}
}

func TestDispatcherUnregisteredHandler(t *testing.T) {
	d := NewDispatcher()
	_, err := d.Run(context.Background(), chat.RoleOwner, "/clear")
	if !errors.Is(err, chat.ErrUnknownCommand) {
		t.Fatalf("expected unknown command for unregistered handler, got %v", err)
	}
}

func TestDispatcherHandlerError(t *testing.T) {
	d := NewDispatcher()
	boom := errors.New("boom")
	d.Register(KindClear, func(context.Context, Command) (string, error) { return "", boom })

	if _, err := d.Run(context.Background(), chat.RoleOwner, "/clear"); !errors.Is(err, boom) {
		t.Fatalf("expected handler error to propagate, got %v", err)
	}
}
