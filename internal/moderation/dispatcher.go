package moderation

import (
	"context"
	"fmt"
	"log"

	"github.com/casacultural/livechat/internal/chat"
)

// MinRoles is the minimum caller role required by each command.
var MinRoles = map[Kind]chat.Role{
	KindClear:   chat.RoleModerator,
	KindPromote: chat.RoleOwner,
	KindDemote:  chat.RoleOwner,
	KindSilence: chat.RoleModerator,
	KindAdmins:  chat.RoleOrdinary,
}

// Handler executes an authorized command and returns a notice for the caller.
type Handler func(ctx context.Context, cmd Command) (string, error)

// Dispatcher routes parsed commands to registered handlers after checking
// the caller's role against MinRoles.
type Dispatcher struct {
	handlers map[Kind]Handler
}

// NewDispatcher creates a Dispatcher with no handlers.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[Kind]Handler)}
}

// Register associates a handler with a command kind. A handler already
// registered for the kind is replaced.
func (d *Dispatcher) Register(kind Kind, handler Handler) {
	d.handlers[kind] = handler
}

// Run parses input and invokes the matching handler if caller is allowed to.
// Unknown commands never reach a handler.
func (d *Dispatcher) Run(ctx context.Context, caller chat.Role, input string) (string, error) {
	cmd, err := Parse(input)
	if err != nil {
		return "", err
	}

	required, ok := MinRoles[cmd.Kind]
	handler, registered := d.handlers[cmd.Kind]
	if !ok || !registered {
		return "", chat.UnknownCommand("/" + string(cmd.Kind))
	}

	if !caller.AtLeast(required) {
		log.Printf("[moderation] denied /%s for role=%s (requires %s)", cmd.Kind, caller, required)
		return "", chat.Unauthorized(fmt.Sprintf("/%s requires role %s", cmd.Kind, required))
	}

	return handler(ctx, cmd)
}
