// Package role resolves the privilege of chat participants. Owner names are
// kept per stream in process memory; moderator grants live in a durable
// ModeratorStore and apply to every stream.
//
// The state is owned by a single process. Running several server instances
// gives each its own view of stream owners.
package role

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/casacultural/livechat/internal/chat"
)

// ModeratorStore persists the set of participant emails granted the
// moderator role.
type ModeratorStore interface {
	IsModerator(ctx context.Context, email string) (bool, error)
	SetModerator(ctx context.Context, email string, moderator bool) error
	Moderators(ctx context.Context) ([]string, error)
}

// StreamState is the role state of a single stream.
type StreamState struct {
	OwnerName string    // normalized
	UpdatedAt time.Time // last owner declaration
}

// Resolver determines participant roles per stream.
type Resolver struct {
	mu      sync.RWMutex
	streams map[string]*StreamState // streamID -> state, created lazily
	mods    ModeratorStore
	now     func() time.Time
}

// NewResolver creates a Resolver backed by the given moderator store.
func NewResolver(mods ModeratorStore) *Resolver {
	return &Resolver{
		streams: make(map[string]*StreamState),
		mods:    mods,
		now:     time.Now,
	}
}

// ResolveRole returns the role of participant in streamID. Precedence:
// the stream owner name, then moderator membership by email, then the role
// stored on the message (stored may be empty), then ordinary.
func (r *Resolver) ResolveRole(ctx context.Context, streamID string, participant chat.Author, stored chat.Role) chat.Role {
	if owner, ok := r.Owner(streamID); ok && chat.NormalizeName(participant.Name) == owner {
		return chat.RoleOwner
	}

	if email := chat.NormalizeEmail(participant.Email); email != "" {
		isMod, err := r.mods.IsModerator(ctx, email)
		if err != nil {
			log.Printf("[role] moderator lookup email=%s failed: %v", email, err)
		} else if isMod {
			return chat.RoleModerator
		}
	}

	if stored != "" && stored.Valid() {
		return stored
	}
	return chat.RoleOrdinary
}

// SetOwner declares name as the owner of streamID. Any caller authenticated
// as the administrative principal may do so and the last declaration wins.
func (r *Resolver) SetOwner(streamID, name string) {
	normalized := chat.NormalizeName(name)

	r.mu.Lock()
	st, ok := r.streams[streamID]
	if !ok {
		st = &StreamState{}
		r.streams[streamID] = st
	}
	previous := st.OwnerName
	st.OwnerName = normalized
	st.UpdatedAt = r.now()
	r.mu.Unlock()

	if previous != "" && previous != normalized {
		log.Printf("[role] stream=%s owner overwritten %q -> %q", streamID, previous, normalized)
	}
}

// Owner returns the normalized owner name of streamID, if one was declared.
func (r *Resolver) Owner(streamID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.streams[streamID]
	if !ok || st.OwnerName == "" {
		return "", false
	}
	return st.OwnerName, true
}

// OwnsAny reports whether name is the declared owner of at least one stream.
func (r *Resolver) OwnsAny(name string) bool {
	normalized := chat.NormalizeName(name)
	if normalized == "" {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, st := range r.streams {
		if st.OwnerName == normalized {
			return true
		}
	}
	return false
}

// Promote grants the moderator role to email.
func (r *Resolver) Promote(ctx context.Context, email string) error {
	return r.setModerator(ctx, email, true)
}

// Demote revokes the moderator role from email.
func (r *Resolver) Demote(ctx context.Context, email string) error {
	return r.setModerator(ctx, email, false)
}

func (r *Resolver) setModerator(ctx context.Context, email string, moderator bool) error {
	email = chat.NormalizeEmail(email)
	if email == "" {
		return chat.Validation("email is required")
	}
	if err := chat.ValidateEmail(email); err != nil {
		return err
	}
	return r.mods.SetModerator(ctx, email, moderator)
}

// Moderators returns the current moderator emails, sorted.
func (r *Resolver) Moderators(ctx context.Context) ([]string, error) {
	return r.mods.Moderators(ctx)
}
