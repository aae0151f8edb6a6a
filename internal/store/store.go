// Package store persists chat messages and resolves history by stream.
// Messages are ordered by insertion (ascending id); client supplied
// timestamps are never used for ordering.
package store

import (
	"context"

	"github.com/casacultural/livechat/internal/chat"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// MessageStore is the persistence contract for chat history. Authorization
// for Clear is enforced by callers.
type MessageStore interface {
	// Append validates msg, assigns its id and creation time, persists it and
	// returns the stored record.
	Append(ctx context.Context, msg chat.Message) (chat.Message, error)
	// List returns the most recent limit messages of a stream, oldest first.
	List(ctx context.Context, streamID string, limit int) ([]chat.Message, error)
	// Clear removes every message of a stream and returns how many were deleted.
	Clear(ctx context.Context, streamID string) (int, error)
	// LastSeen returns the author of the most recent message whose name
	// matches name (case and surrounding space insensitive).
	LastSeen(ctx context.Context, streamID, name string) (chat.Author, bool, error)
}

// normalizeLimit applies the default and upper bound to a requested limit.
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// validate runs the append preconditions shared by every implementation.
func validate(msg chat.Message) error {
	if err := chat.ValidateStreamID(msg.StreamID); err != nil {
		return err
	}
	return chat.ValidateMessage(msg.Text)
}
