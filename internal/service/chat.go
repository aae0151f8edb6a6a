// Package service orchestrates the chat use cases on top of the message
// store, the role resolver and the broadcast hub. Every successful append or
// clear is followed by a hub publish; publish failures are logged only.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/casacultural/livechat/internal/chat"
	"github.com/casacultural/livechat/internal/metrics"
	"github.com/casacultural/livechat/internal/protocol"
	"github.com/casacultural/livechat/internal/ratelimit"
	"github.com/casacultural/livechat/internal/role"
	"github.com/casacultural/livechat/internal/store"
)

// ErrRateLimited is returned by Send when the participant exceeded the
// configured message rate.
var ErrRateLimited = errors.New("service: message rate limit exceeded")

// Notices shown to participants whose role changed.
const (
	PromotedNotice = "Você agora é moderador deste chat."
	DemotedNotice  = "Você não é mais moderador deste chat."
)

// Broadcaster is the subset of the hub the service publishes through.
type Broadcaster interface {
	Publish(streamID, eventType string, payload interface{}) error
	PublishAll(eventType string, payload interface{}) error
	Viewers(streamID string) int
}

// RateLimiter throttles message sends. *ratelimit.Limiter satisfies it.
type RateLimiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// Chat implements the chat operations exposed over HTTP.
type Chat struct {
	store   store.MessageStore
	roles   *role.Resolver
	hub     Broadcaster
	limiter RateLimiter
	rule    ratelimit.Rule
	now     func() time.Time

	// seqMu guards seq. A stream's lock is held from store write to hub
	// publish so viewers receive events in append order.
	seqMu sync.Mutex
	seq   map[string]*sync.Mutex
}

// NewChat wires a Chat service. Rate limiting is off until SetLimiter.
func NewChat(st store.MessageStore, roles *role.Resolver, hub Broadcaster) *Chat {
	return &Chat{
		store: st,
		roles: roles,
		hub:   hub,
		rule:  ratelimit.RuleMessage,
		now:   time.Now,
		seq:   make(map[string]*sync.Mutex),
	}
}

// streamLock returns the mutex that orders writes and publishes on streamID.
func (c *Chat) streamLock(streamID string) *sync.Mutex {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	mu, ok := c.seq[streamID]
	if !ok {
		mu = &sync.Mutex{}
		c.seq[streamID] = mu
	}
	return mu
}

// SetLimiter enables per-participant send throttling with rule.
func (c *Chat) SetLimiter(l RateLimiter, rule ratelimit.Rule) {
	c.limiter = l
	c.rule = rule
}

// Send validates and stores a message from author, stamps it with the
// author's current role and broadcasts it to the stream.
func (c *Chat) Send(ctx context.Context, streamID string, author chat.Author, text string) (chat.Message, error) {
	author = chat.Author{
		Name:  strings.TrimSpace(author.Name),
		Email: chat.NormalizeEmail(author.Email),
	}
	if err := validateSend(streamID, author, text); err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return chat.Message{}, err
	}

	if c.limiter != nil {
		ok, _ := c.limiter.Allow(ctx, ratelimit.MessageKey(streamID, author.Email), c.rule)
		if !ok {
			metrics.MessagesTotal.WithLabelValues("rate_limited").Inc()
			return chat.Message{}, ErrRateLimited
		}
	}

	msg := chat.Message{
		StreamID: streamID,
		Author:   author,
		Role:     c.roles.ResolveRole(ctx, streamID, author, ""),
		Text:     text,
	}
	lock := c.streamLock(streamID)
	lock.Lock()
	defer lock.Unlock()

	stored, err := c.store.Append(ctx, msg)
	if err != nil {
		if chat.IsKind(err, chat.KindValidation) {
			metrics.MessagesTotal.WithLabelValues("rejected").Inc()
			return chat.Message{}, err
		}
		return chat.Message{}, fmt.Errorf("service: send: %w", err)
	}
	metrics.MessagesTotal.WithLabelValues("stored").Inc()

	c.publish(streamID, protocol.TypeMessage, stored)
	return stored, nil
}

func validateSend(streamID string, author chat.Author, text string) error {
	if err := chat.ValidateStreamID(streamID); err != nil {
		return err
	}
	if err := chat.ValidateAuthor(author); err != nil {
		return err
	}
	return chat.ValidateMessage(text)
}

// Messages returns the most recent limit messages of a stream with roles
// re-resolved against the current owner and moderator state.
func (c *Chat) Messages(ctx context.Context, streamID string, limit int) ([]chat.Message, error) {
	if err := chat.ValidateStreamID(streamID); err != nil {
		return nil, err
	}
	msgs, err := c.store.List(ctx, streamID, limit)
	if err != nil {
		return nil, fmt.Errorf("service: list: %w", err)
	}
	for i := range msgs {
		if msgs[i].IsNotification {
			continue
		}
		msgs[i].Role = c.roles.ResolveRole(ctx, streamID, msgs[i].Author, msgs[i].Role)
	}
	return msgs, nil
}

// RoleOf resolves the current role of participant in streamID.
func (c *Chat) RoleOf(ctx context.Context, streamID string, participant chat.Author) chat.Role {
	return c.roles.ResolveRole(ctx, streamID, participant, "")
}

// Clear purges a stream's history. requester must be at least a moderator.
func (c *Chat) Clear(ctx context.Context, streamID string, requester chat.Role) (int, error) {
	if err := chat.ValidateStreamID(streamID); err != nil {
		return 0, err
	}
	if !requester.AtLeast(chat.RoleModerator) {
		metrics.CommandsTotal.WithLabelValues("clear", "denied").Inc()
		return 0, chat.Unauthorized("clearing the chat requires moderator role")
	}

	lock := c.streamLock(streamID)
	lock.Lock()
	defer lock.Unlock()

	n, err := c.store.Clear(ctx, streamID)
	if err != nil {
		return 0, fmt.Errorf("service: clear: %w", err)
	}
	metrics.CommandsTotal.WithLabelValues("clear", "ok").Inc()
	log.Printf("[service] stream=%s cleared by role=%s (%d messages)", streamID, requester, n)

	c.publish(streamID, protocol.TypeClear, protocol.ClearData{StreamID: streamID, Deleted: n})
	return n, nil
}

// PromoteRequest identifies who asks for a role change and whom it targets.
// Target is looked up by Email, or by Name in the stream's recent history
// when Email is empty.
type PromoteRequest struct {
	StreamID  string
	Requester chat.Author
	Email     string
	Name      string
}

// Promote grants the moderator role to the target.
func (c *Chat) Promote(ctx context.Context, req PromoteRequest) (string, error) {
	return c.changeRole(ctx, req, true)
}

// Demote revokes the moderator role from the target.
func (c *Chat) Demote(ctx context.Context, req PromoteRequest) (string, error) {
	return c.changeRole(ctx, req, false)
}

func (c *Chat) changeRole(ctx context.Context, req PromoteRequest, promote bool) (string, error) {
	action := "removeadm"
	if promote {
		action = "adm"
	}

	if !c.isOwner(ctx, req.StreamID, req.Requester) {
		metrics.CommandsTotal.WithLabelValues(action, "denied").Inc()
		return "", chat.Unauthorized("only the stream owner can change moderators")
	}

	email, err := c.target(ctx, req)
	if err != nil {
		return "", err
	}

	newRole, notice := chat.RoleOrdinary, DemotedNotice
	if promote {
		err = c.roles.Promote(ctx, email)
		newRole, notice = chat.RoleModerator, PromotedNotice
	} else {
		err = c.roles.Demote(ctx, email)
	}
	if err != nil {
		if chat.IsKind(err, chat.KindValidation) {
			return "", err
		}
		return "", fmt.Errorf("service: %s: %w", action, err)
	}
	metrics.CommandsTotal.WithLabelValues(action, "ok").Inc()
	log.Printf("[service] %s email=%s by=%s stream=%s", action, email, req.Requester.Name, req.StreamID)

	data := protocol.RoleChangeData{
		Email:  email,
		Role:   newRole,
		Notice: chat.NewNotification(req.StreamID, email, notice, c.now()),
	}
	if req.StreamID != "" {
		c.publish(req.StreamID, protocol.TypeRoleChange, data)
	} else if err := c.hub.PublishAll(protocol.TypeRoleChange, data); err != nil {
		log.Printf("[service] publish %s to all streams failed: %v", protocol.TypeRoleChange, err)
	}
	return email, nil
}

// isOwner checks the requester against the stream owner, or against any
// stream's owner when no stream is given.
func (c *Chat) isOwner(ctx context.Context, streamID string, requester chat.Author) bool {
	if streamID == "" {
		return c.roles.OwnsAny(requester.Name)
	}
	return c.roles.ResolveRole(ctx, streamID, requester, "") == chat.RoleOwner
}

// target resolves the email a promote/demote request refers to.
func (c *Chat) target(ctx context.Context, req PromoteRequest) (string, error) {
	if email := chat.NormalizeEmail(req.Email); email != "" {
		return email, nil
	}
	if strings.TrimSpace(req.Name) == "" {
		return "", chat.Validation("email or name is required")
	}
	if req.StreamID == "" {
		return "", chat.Validation("streamId is required to look up a participant by name")
	}
	author, ok, err := c.store.LastSeen(ctx, req.StreamID, req.Name)
	if err != nil {
		return "", fmt.Errorf("service: lookup %q: %w", req.Name, err)
	}
	if !ok || author.Email == "" {
		return "", chat.Validationf("participant %q not found in recent messages", req.Name)
	}
	return chat.NormalizeEmail(author.Email), nil
}

// SetOwner declares name as the owner of streamID. Last writer wins.
func (c *Chat) SetOwner(streamID, name string) error {
	if err := chat.ValidateStreamID(streamID); err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		return chat.Validation("owner name is required")
	}
	c.roles.SetOwner(streamID, name)
	log.Printf("[service] stream=%s owner declared name=%q", streamID, name)
	return nil
}

// Moderators returns the current moderator emails.
func (c *Chat) Moderators(ctx context.Context) ([]string, error) {
	mods, err := c.roles.Moderators(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: moderators: %w", err)
	}
	return mods, nil
}

// Presence returns how many viewers are subscribed to streamID.
func (c *Chat) Presence(streamID string) (int, error) {
	if err := chat.ValidateStreamID(streamID); err != nil {
		return 0, err
	}
	return c.hub.Viewers(streamID), nil
}

func (c *Chat) publish(streamID, eventType string, payload interface{}) {
	if err := c.hub.Publish(streamID, eventType, payload); err != nil {
		log.Printf("[service] publish %s stream=%s failed: %v", eventType, streamID, err)
	}
}
