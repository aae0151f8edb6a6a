// Package moderation implements chat moderation for a viewing session: the
// slash-command grammar, a role-gated command dispatcher and the session
// local mute list.
package moderation

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/casacultural/livechat/internal/chat"
)

// Kind identifies a chat command.
type Kind string

const (
	KindClear   Kind = "clear"
	KindPromote Kind = "adm"
	KindDemote  Kind = "removeadm"
	KindSilence Kind = "silenciar"
	KindAdmins  Kind = "admins"
)

// MaxSilence bounds how long a single /silenciar may mute a participant.
const MaxSilence = 24 * time.Hour

// Command is a parsed slash command. Target is set for commands that act on
// a participant, Duration only for KindSilence.
type Command struct {
	Kind     Kind
	Target   string
	Duration time.Duration
}

var silenceDuration = regexp.MustCompile(`^(\d+)([mhMH])$`)

// IsCommand reports whether input should be treated as a command instead of
// a chat message.
func IsCommand(input string) bool {
	return strings.HasPrefix(strings.TrimSpace(input), "/")
}

// Parse splits a "/"-prefixed input into a command and its arguments.
// Unrecognized names fail with an unknown-command error; recognized names
// with malformed arguments fail with a validation error.
func Parse(input string) (Command, error) {
	fields := strings.Fields(strings.TrimSpace(input))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return Command{}, chat.Validation("not a command")
	}
	name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	args := fields[1:]

	switch Kind(name) {
	case KindClear, KindAdmins:
		return Command{Kind: Kind(name)}, nil

	case KindPromote, KindDemote:
		if len(args) == 0 {
			return Command{}, chat.Validationf("usage: /%s <nome>", name)
		}
		return Command{Kind: Kind(name), Target: strings.Join(args, " ")}, nil

	case KindSilence:
		if len(args) < 2 {
			return Command{}, chat.Validation("usage: /silenciar <nome> <N>m|<N>h")
		}
		d, err := parseSilence(args[len(args)-1])
		if err != nil {
			return Command{}, err
		}
		return Command{
			Kind:     KindSilence,
			Target:   strings.Join(args[:len(args)-1], " "),
			Duration: d,
		}, nil
	}

	return Command{}, chat.UnknownCommand("/" + name)
}

// parseSilence converts "Nm" (minutes) or "Nh" (hours) into a duration.
func parseSilence(arg string) (time.Duration, error) {
	m := silenceDuration.FindStringSubmatch(arg)
	if m == nil {
		return 0, chat.Validationf("invalid duration %q, use e.g. 5m or 2h", arg)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, chat.Validationf("invalid duration %q", arg)
	}

	unit := time.Minute
	if strings.ToLower(m[2]) == "h" {
		unit = time.Hour
	}
	d := time.Duration(n) * unit
	if d > MaxSilence {
		return 0, chat.Validationf("duration exceeds %s", MaxSilence)
	}
	return d, nil
}
