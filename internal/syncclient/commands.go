package syncclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/casacultural/livechat/internal/chat"
	"github.com/casacultural/livechat/internal/moderation"
)

func (c *Client) registerCommands() {
	c.commands.Register(moderation.KindClear, c.cmdClear)
	c.commands.Register(moderation.KindPromote, c.cmdPromote)
	c.commands.Register(moderation.KindDemote, c.cmdDemote)
	c.commands.Register(moderation.KindSilence, c.cmdSilence)
	c.commands.Register(moderation.KindAdmins, c.cmdAdmins)
}

func (c *Client) cmdClear(ctx context.Context, _ moderation.Command) (string, error) {
	n, err := c.api.Clear(ctx, c.cfg.StreamID, c.cfg.Self)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.view = nil
	c.ids = make(map[int64]struct{})
	c.mu.Unlock()
	c.notify()
	return fmt.Sprintf("Chat limpo (%d mensagens removidas).", n), nil
}

func (c *Client) cmdPromote(ctx context.Context, cmd moderation.Command) (string, error) {
	author, err := c.lastSeen(cmd.Target)
	if err != nil {
		return "", err
	}
	if err := c.api.Promote(ctx, c.cfg.StreamID, c.cfg.Self, author.Email); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s agora é moderador.", author.Name), nil
}

func (c *Client) cmdDemote(ctx context.Context, cmd moderation.Command) (string, error) {
	author, err := c.lastSeen(cmd.Target)
	if err != nil {
		return "", err
	}
	if err := c.api.Demote(ctx, c.cfg.StreamID, c.cfg.Self, author.Email); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s não é mais moderador.", author.Name), nil
}

func (c *Client) cmdSilence(_ context.Context, cmd moderation.Command) (string, error) {
	author, err := c.lastSeen(cmd.Target)
	if err != nil {
		return "", err
	}
	until := c.mutes.Silence(author.Email, cmd.Duration)
	return fmt.Sprintf("%s silenciado até %s.", author.Name, chat.FormatTimestamp(until)), nil
}

func (c *Client) cmdAdmins(ctx context.Context, _ moderation.Command) (string, error) {
	mods, err := c.api.Moderators(ctx)
	if err != nil {
		return "", err
	}
	if len(mods) == 0 {
		return "Nenhum moderador.", nil
	}
	return "Moderadores: " + strings.Join(mods, ", "), nil
}

// lastSeen finds the most recent author in the local view whose name
// matches, the same lookup the viewer would do by scrolling up.
func (c *Client) lastSeen(name string) (chat.Author, error) {
	want := chat.NormalizeName(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.view) - 1; i >= 0; i-- {
		m := c.view[i]
		if m.IsNotification || m.Author.Email == "" {
			continue
		}
		if chat.NormalizeName(m.Author.Name) == want {
			return m.Author, nil
		}
	}
	return chat.Author{}, chat.Validationf("participante %q não encontrado no chat", name)
}

// Silenced reports whether email is muted in this viewing session.
func (c *Client) Silenced(email string) bool {
	return c.mutes.IsSilenced(email)
}
