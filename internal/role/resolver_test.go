package role

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/casacultural/livechat/internal/chat"
)

type failingModerators struct{}

func (failingModerators) IsModerator(context.Context, string) (bool, error) {
	return false, errors.New("db down")
}
func (failingModerators) SetModerator(context.Context, string, bool) error {
	return errors.New("db down")
}
func (failingModerators) Moderators(context.Context) ([]string, error) {
	return nil, errors.New("db down")
}

func TestResolveRolePrecedence(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(NewMemoryModerators())
	r.SetOwner("live1", "  Casa Cultural ")
	if err := r.Promote(ctx, "Mod@Example.com"); err != nil {
		t.Fatalf("Promote() error: %v", err)
	}

	tests := []struct {
		name        string
		participant chat.Author
		stored      chat.Role
		want        chat.Role
	}{
		{"owner by normalized name", chat.Author{Name: "casa cultural", Email: "x@example.com"}, "", chat.RoleOwner},
		{"moderator by email", chat.Author{Name: "Mod", Email: " mod@example.com"}, "", chat.RoleModerator},
		{"stored role fallback", chat.Author{Name: "Ana", Email: "ana@example.com"}, chat.RoleModerator, chat.RoleModerator},
		{"ordinary default", chat.Author{Name: "Ana", Email: "ana@example.com"}, "", chat.RoleOrdinary},
		{"invalid stored role ignored", chat.Author{Name: "Ana", Email: "ana@example.com"}, chat.Role("root"), chat.RoleOrdinary},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.ResolveRole(ctx, "live1", tt.participant, tt.stored)
			if got != tt.want {
				t.Errorf("ResolveRole() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestOwnerWinsOverModerator(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(NewMemoryModerators())
	r.SetOwner("live1", "Maria")
	r.Promote(ctx, "maria@example.com")

	got := r.ResolveRole(ctx, "live1", chat.Author{Name: "Maria", Email: "maria@example.com"}, chat.RoleModerator)
	if got != chat.RoleOwner {
		t.Fatalf("expected owner precedence, got %s", got)
	}
}

func TestOwnerIsPerStream(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(NewMemoryModerators())
	r.SetOwner("live1", "Maria")

	got := r.ResolveRole(ctx, "live2", chat.Author{Name: "Maria", Email: "maria@example.com"}, "")
	if got != chat.RoleOrdinary {
		t.Fatalf("owner of live1 must not own live2, got %s", got)
	}
}

func TestResolveRoleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(NewMemoryModerators())
	r.SetOwner("live1", "Maria")
	r.Promote(ctx, "bob@example.com")

	participants := []chat.Author{
		{Name: "Maria", Email: "maria@example.com"},
		{Name: "Bob", Email: "bob@example.com"},
		{Name: "Ana", Email: "ana@example.com"},
	}
	for _, p := range participants {
		first := r.ResolveRole(ctx, "live1", p, "")
		second := r.ResolveRole(ctx, "live1", p, "")
		if first != second {
			t.Errorf("ResolveRole(%s) changed between calls: %s then %s", p.Name, first, second)
		}
	}
}

func TestSetOwnerLastWriterWins(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(NewMemoryModerators())
	r.SetOwner("live1", "Maria")
	r.SetOwner("live1", "João")

	owner, ok := r.Owner("live1")
	if !ok || owner != "joão" {
		t.Fatalf("Owner() = %q, %v; want joão", owner, ok)
	}
	if got := r.ResolveRole(ctx, "live1", chat.Author{Name: "Maria"}, ""); got != chat.RoleOrdinary {
		t.Errorf("previous owner should be ordinary, got %s", got)
	}
	if _, ok := r.Owner("unknown"); ok {
		t.Error("expected no owner for unknown stream")
	}
}

func TestPromoteDemote(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(NewMemoryModerators())
	bob := chat.Author{Name: "Bob", Email: "bob@example.com"}

	r.Promote(ctx, "bob@example.com")
	r.Promote(ctx, "ana@example.com")
	if got := r.ResolveRole(ctx, "live1", bob, ""); got != chat.RoleModerator {
		t.Fatalf("expected moderator after promote, got %s", got)
	}

	mods, _ := r.Moderators(ctx)
	if len(mods) != 2 || mods[0] != "ana@example.com" || mods[1] != "bob@example.com" {
		t.Errorf("Moderators() = %v", mods)
	}

	r.Demote(ctx, "BOB@example.com")
	if got := r.ResolveRole(ctx, "live1", bob, ""); got != chat.RoleOrdinary {
		t.Fatalf("expected ordinary after demote, got %s", got)
	}

	if err := r.Promote(ctx, "  "); !errors.Is(err, chat.ErrValidation) {
		t.Errorf("expected validation error for empty email, got %v", err)
	}
	long := strings.Repeat("a", chat.MaxAuthorEmail) + "@example.com"
	if err := r.Promote(ctx, long); !errors.Is(err, chat.ErrValidation) {
		t.Errorf("expected validation error for over-long email, got %v", err)
	}
}

func TestResolveRoleStoreFailureFallsBack(t *testing.T) {
	r := NewResolver(failingModerators{})
	got := r.ResolveRole(context.Background(), "live1", chat.Author{Name: "Ana", Email: "ana@example.com"}, chat.RoleModerator)
	if got != chat.RoleModerator {
		t.Fatalf("expected stored role when lookup fails, got %s", got)
	}
}

func TestOwnsAny(t *testing.T) {
	r := NewResolver(NewMemoryModerators())
	if r.OwnsAny("Carla") {
		t.Fatal("OwnsAny before any declaration = true")
	}
	r.SetOwner("s1", "Carla")
	if !r.OwnsAny("  carla ") {
		t.Error("OwnsAny(carla) = false after SetOwner")
	}
	if r.OwnsAny("") {
		t.Error("OwnsAny(\"\") = true")
	}
}
