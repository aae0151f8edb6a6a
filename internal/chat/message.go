// Package chat defines the live chat domain: messages, participant roles,
// content validation and the error taxonomy shared by the server and the
// viewer-side sync client.
package chat

import (
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Role is the privilege level of a chat participant.
type Role string

const (
	RoleOrdinary  Role = "ordinary"
	RoleModerator Role = "moderator"
	RoleOwner     Role = "owner"
	RoleSystem    Role = "system"
)

// rank orders roles for "at least" comparisons. System notices are never
// issued by participants, so they rank below ordinary users for command checks.
var rank = map[Role]int{
	RoleSystem:    0,
	RoleOrdinary:  1,
	RoleModerator: 2,
	RoleOwner:     3,
}

// AtLeast reports whether r grants at least the privileges of min.
func (r Role) AtLeast(min Role) bool {
	return rank[r] >= rank[min]
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := rank[r]
	return ok
}

// ParseRole converts a wire value into a Role. Unknown or empty values map
// to RoleOrdinary.
func ParseRole(s string) Role {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return RoleOrdinary
	}
	return r
}

// Author identifies who sent a message. Name is a display name and is not
// unique; Email is the stable identity used for role lookups and moderation.
type Author struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Message is a single chat message within a stream.
type Message struct {
	ID             int64     `json:"id"`
	StreamID       string    `json:"streamId"`
	Author         Author    `json:"author"`
	Role           Role      `json:"role"`
	Text           string    `json:"text"`
	Timestamp      string    `json:"timestamp"` // display only, arrival order is authoritative
	CreatedAt      time.Time `json:"createdAt"`
	IsNotification bool      `json:"isNotification,omitempty"`
}

// TimestampLayout is the human-readable send time shown next to messages.
const TimestampLayout = "15:04"

// FormatTimestamp renders t the way viewers display send times.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// NewNotification builds a system notice directed at a single participant.
// Notifications always carry RoleSystem.
func NewNotification(streamID, email, text string, now time.Time) Message {
	return Message{
		StreamID:       streamID,
		Author:         Author{Name: "Sistema", Email: NormalizeEmail(email)},
		Role:           RoleSystem,
		Text:           text,
		Timestamp:      FormatTimestamp(now),
		CreatedAt:      now,
		IsNotification: true,
	}
}

// NormalizeName lowercases and trims a display name for comparisons.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NormalizeEmail lowercases and trims an email for identity lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// TerminalSafe returns text with every non-printable rune (control codes,
// ANSI escapes, bidi overrides) replaced by its Go escape sequence, so
// participant input cannot drive the viewer's terminal.
func TerminalSafe(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if unicode.IsPrint(r) {
			b.WriteRune(r)
			continue
		}
		q := strconv.QuoteRuneToASCII(r)
		b.WriteString(q[1 : len(q)-1])
	}
	return b.String()
}
