// Package syncclient keeps a viewer's copy of a stream's chat in step with
// the server. A push subscription and a periodic poll feed a single
// reconcile loop; local sends appear immediately and are settled once the
// server assigns their id.
package syncclient

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/casacultural/livechat/internal/chat"
	"github.com/casacultural/livechat/internal/moderation"
	"github.com/casacultural/livechat/internal/protocol"
)

// State is the connection state of a stream view.
type State int

const (
	Disconnected State = iota
	Connecting
	Live
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Live:
		return "live"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Config holds the view's identity and timing parameters.
type Config struct {
	StreamID     string
	Self         chat.Author
	PollInterval time.Duration    // default 3s
	PollLimit    int              // messages requested per poll, default 50
	ReconnectMin time.Duration    // first push reconnect delay, default 1s
	ReconnectMax time.Duration    // reconnect delay cap, default 30s
	Now          func() time.Time // clock for the mute list, default time.Now
	OnChange     func(Snapshot)   // called after every visible change, outside locks
}

// DefaultConfig returns a Config with default timings for streamID.
func DefaultConfig(streamID string, self chat.Author) Config {
	return Config{
		StreamID:     streamID,
		Self:         self,
		PollInterval: 3 * time.Second,
		PollLimit:    50,
		ReconnectMin: time.Second,
		ReconnectMax: 30 * time.Second,
		Now:          time.Now,
	}
}

// Snapshot is a consistent copy of the view.
type Snapshot struct {
	State    State
	Role     chat.Role
	Messages []chat.Message
	Notices  []chat.Message
}

// update is one input to the reconcile loop: either an authoritative list
// from a poll or a single push event.
type update struct {
	list  []chat.Message
	event *protocol.Event
}

// Client is the viewer-side synchronization state machine for one stream.
type Client struct {
	cfg      Config
	api      API
	push     Subscriber
	mutes    *moderation.MuteList
	commands *moderation.Dispatcher

	mu      sync.Mutex
	state   State
	role    chat.Role
	view    []chat.Message
	ids     map[int64]struct{}
	notices []chat.Message
	tempID  int64

	updates chan update
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a disconnected Client. push may be nil, in which case the view
// is kept current by polling alone.
func New(cfg Config, api API, push Subscriber) *Client {
	def := DefaultConfig(cfg.StreamID, cfg.Self)
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.PollLimit <= 0 {
		cfg.PollLimit = def.PollLimit
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = def.ReconnectMin
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = def.ReconnectMax
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.Self.Email = chat.NormalizeEmail(cfg.Self.Email)

	c := &Client{
		cfg:      cfg,
		api:      api,
		push:     push,
		mutes:    moderation.NewMuteListWithClock(cfg.Now),
		commands: moderation.NewDispatcher(),
		role:     chat.RoleOrdinary,
		ids:      make(map[int64]struct{}),
	}
	c.registerCommands()
	return c
}

// Connect enters Connecting, performs one poll, then starts the push and
// poll producers and the reconcile loop. It returns once the initial poll
// has been applied.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return fmt.Errorf("syncclient: already %s", c.state)
	}
	c.state = Connecting
	c.mu.Unlock()
	c.notify()

	if err := chat.ValidateStreamID(c.cfg.StreamID); err != nil {
		c.setState(Disconnected)
		return err
	}

	if role, err := c.api.Role(ctx, c.cfg.StreamID, c.cfg.Self); err != nil {
		log.Printf("[sync] stream=%s role lookup failed: %v", c.cfg.StreamID, err)
	} else {
		c.mu.Lock()
		c.role = role
		c.mu.Unlock()
	}

	msgs, err := c.api.List(ctx, c.cfg.StreamID, c.cfg.PollLimit)
	if err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("syncclient: initial poll: %w", err)
	}
	c.reconcile(update{list: msgs})

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.updates = make(chan update, 16)
	c.mu.Unlock()

	c.wg.Add(2)
	go c.reconcileLoop(runCtx)
	go c.pollLoop(runCtx)
	if c.push != nil {
		c.wg.Add(1)
		go c.pushLoop(runCtx)
	} else {
		c.setState(Live)
	}
	return nil
}

// Disconnect stops both producers and the reconcile loop. Pushes arriving
// afterwards are not processed.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		c.wg.Wait()
	}
	c.setState(Disconnected)
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Role returns the viewer's own role as last reported by the server.
func (c *Client) Role() chat.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Messages returns a copy of the current view in display order.
func (c *Client) Messages() []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chat.Message(nil), c.view...)
}

// Notices returns the system notices and command results shown to this
// viewer, oldest first.
func (c *Client) Notices() []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chat.Message(nil), c.notices...)
}

// Snapshot returns a consistent copy of the whole view.
func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Client) snapshotLocked() Snapshot {
	return Snapshot{
		State:    c.state,
		Role:     c.role,
		Messages: append([]chat.Message(nil), c.view...),
		Notices:  append([]chat.Message(nil), c.notices...),
	}
}

// Submit handles a line typed by the viewer. Input starting with "/" is run
// as a local command; anything else is sent as a chat message. The returned
// string is the command's notice, empty for messages.
func (c *Client) Submit(ctx context.Context, input string) (string, error) {
	if moderation.IsCommand(input) {
		out, err := c.commands.Run(ctx, c.Role(), input)
		if err != nil {
			return "", err
		}
		c.addNotice(out)
		return out, nil
	}
	_, err := c.send(ctx, input)
	return "", err
}

// send performs an optimistic send: the message is shown under a temporary
// negative id, then swapped for the stored record once the server answers.
func (c *Client) send(ctx context.Context, text string) (chat.Message, error) {
	if err := c.mutes.Check(c.cfg.Self.Email); err != nil {
		return chat.Message{}, err
	}
	if err := chat.ValidateMessage(text); err != nil {
		return chat.Message{}, err
	}

	now := c.cfg.Now()
	c.mu.Lock()
	c.tempID--
	pending := chat.Message{
		ID:        c.tempID,
		StreamID:  c.cfg.StreamID,
		Author:    c.cfg.Self,
		Role:      c.role,
		Text:      text,
		Timestamp: chat.FormatTimestamp(now),
		CreatedAt: now,
	}
	c.appendLocked(pending)
	c.mu.Unlock()
	c.notify()

	stored, err := c.api.Send(ctx, c.cfg.StreamID, c.cfg.Self, text)

	c.mu.Lock()
	if err != nil {
		c.removeLocked(pending.ID)
	} else {
		c.settleLocked(pending.ID, stored)
	}
	c.mu.Unlock()
	c.notify()

	if err != nil {
		return chat.Message{}, err
	}
	return stored, nil
}

// settleLocked replaces the optimistic entry with the stored message, or
// drops it when the stored id already reached the view by push or poll.
func (c *Client) settleLocked(tempID int64, stored chat.Message) {
	c.removeLocked(tempID)
	if _, seen := c.ids[stored.ID]; seen {
		return
	}
	c.insertLocked(stored)
}

func (c *Client) appendLocked(m chat.Message) {
	c.view = append(c.view, m)
	c.ids[m.ID] = struct{}{}
}

// insertLocked places a stored message by id among the stored messages.
// Optimistic entries (id <= 0) stay at the tail until they settle.
func (c *Client) insertLocked(m chat.Message) {
	at := len(c.view)
	for i, v := range c.view {
		if v.ID <= 0 || v.ID > m.ID {
			at = i
			break
		}
	}
	c.view = append(c.view, chat.Message{})
	copy(c.view[at+1:], c.view[at:])
	c.view[at] = m
	c.ids[m.ID] = struct{}{}
}

func (c *Client) removeLocked(id int64) {
	for i := range c.view {
		if c.view[i].ID == id {
			c.view = append(c.view[:i], c.view[i+1:]...)
			delete(c.ids, id)
			return
		}
	}
}

// reconcile applies one update to the view and reports whether it changed.
func (c *Client) reconcile(u update) bool {
	c.mu.Lock()
	var changed bool
	switch {
	case u.event != nil:
		changed = c.applyEventLocked(*u.event)
	default:
		changed = c.replaceIfDifferentLocked(u.list)
	}
	c.mu.Unlock()

	if changed {
		c.notify()
	}
	return changed
}

// replaceIfDifferentLocked swaps in the authoritative list when its ids
// differ from the local view in either direction or in order.
func (c *Client) replaceIfDifferentLocked(list []chat.Message) bool {
	if len(list) == len(c.view) {
		same := true
		for i, m := range list {
			if c.view[i].ID != m.ID {
				same = false
				break
			}
		}
		if same {
			return false
		}
	}

	c.view = append(make([]chat.Message, 0, len(list)), list...)
	c.ids = make(map[int64]struct{}, len(list))
	for _, m := range list {
		c.ids[m.ID] = struct{}{}
	}
	return true
}

func (c *Client) applyEventLocked(ev protocol.Event) bool {
	switch ev.Type {
	case protocol.TypeMessage:
		var m chat.Message
		if err := ev.Decode(&m); err != nil {
			log.Printf("[sync] bad message event: %v", err)
			return false
		}
		if _, seen := c.ids[m.ID]; seen {
			return false
		}
		c.insertLocked(m)
		return true

	case protocol.TypeClear:
		if len(c.view) == 0 {
			return false
		}
		c.view = nil
		c.ids = make(map[int64]struct{})
		return true

	case protocol.TypeRoleChange:
		var rc protocol.RoleChangeData
		if err := ev.Decode(&rc); err != nil {
			log.Printf("[sync] bad role-change event: %v", err)
			return false
		}
		if chat.NormalizeEmail(rc.Email) != c.cfg.Self.Email {
			return false
		}
		// The owner keeps owner precedence even if also granted moderator.
		if c.role != chat.RoleOwner {
			c.role = rc.Role
		}
		c.notices = append(c.notices, rc.Notice)
		return true
	}
	return false
}

func (c *Client) addNotice(text string) {
	if text == "" {
		return
	}
	c.mu.Lock()
	c.notices = append(c.notices, chat.NewNotification(c.cfg.StreamID, c.cfg.Self.Email, text, c.cfg.Now()))
	c.mu.Unlock()
	c.notify()
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

func (c *Client) notify() {
	if c.cfg.OnChange == nil {
		return
	}
	c.cfg.OnChange(c.Snapshot())
}

// reconcileLoop is the single consumer of both producers.
func (c *Client) reconcileLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-c.updates:
			if ctx.Err() != nil {
				return
			}
			c.reconcile(u)
		}
	}
}

// emit hands an update to the reconcile loop unless the client is stopping.
func (c *Client) emit(ctx context.Context, u update) bool {
	select {
	case c.updates <- u:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) poll(ctx context.Context) {
	msgs, err := c.api.List(ctx, c.cfg.StreamID, c.cfg.PollLimit)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[sync] stream=%s poll failed: %v", c.cfg.StreamID, err)
		}
		return
	}
	c.emit(ctx, update{list: msgs})
}

func (c *Client) pollLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.poll(ctx)
		}
	}
}

// pushLoop keeps a push subscription open. When it fails the view silently
// relies on polling; each reconnect polls once before resubscribing.
func (c *Client) pushLoop(ctx context.Context) {
	defer c.wg.Done()
	backoff := c.cfg.ReconnectMin

	for {
		sub, err := c.push.Subscribe(ctx, c.cfg.StreamID)
		if err == nil {
			c.setState(Live)
			backoff = c.cfg.ReconnectMin
			c.consume(ctx, sub)
			sub.Close()
		} else if ctx.Err() == nil {
			log.Printf("[sync] stream=%s subscribe failed: %v", c.cfg.StreamID, err)
		}

		if ctx.Err() != nil {
			return
		}
		c.setState(Connecting)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.cfg.ReconnectMax {
			backoff = c.cfg.ReconnectMax
		}
		c.poll(ctx)
	}
}

func (c *Client) consume(ctx context.Context, sub Subscription) {
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[sync] stream=%s push channel lost: %v", c.cfg.StreamID, err)
			}
			return
		}
		if !c.emit(ctx, update{event: &ev}) {
			return
		}
	}
}
