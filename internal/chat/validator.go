package chat

import (
	"strings"
	"unicode/utf8"
)

const (
	MaxTextChars   = 200 // max character count per message
	MaxStreamIDLen = 128
	MaxAuthorName  = 60
	MaxAuthorEmail = 254
)

// ValidateMessage checks that a chat message meets content requirements.
func ValidateMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return Validation("message text is empty")
	}
	if !utf8.ValidString(text) {
		return Validation("message contains invalid UTF-8")
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return Validationf("message exceeds %d character limit", MaxTextChars)
	}
	return nil
}

// ValidateStreamID checks that a stream identifier is usable as a partition key.
func ValidateStreamID(streamID string) error {
	if strings.TrimSpace(streamID) == "" {
		return Validation("streamId is required")
	}
	if len(streamID) > MaxStreamIDLen {
		return Validationf("streamId exceeds %d bytes", MaxStreamIDLen)
	}
	if strings.ContainsAny(streamID, " \t\r\n.*>") {
		return Validation("streamId contains invalid characters")
	}
	return nil
}

// ValidateAuthor checks the sender identity attached to a message.
func ValidateAuthor(a Author) error {
	if strings.TrimSpace(a.Name) == "" {
		return Validation("author name is required")
	}
	if utf8.RuneCountInString(a.Name) > MaxAuthorName {
		return Validationf("author name exceeds %d characters", MaxAuthorName)
	}
	return ValidateEmail(a.Email)
}

// ValidateEmail checks a participant email used as identity key.
func ValidateEmail(email string) error {
	if !strings.Contains(email, "@") {
		return Validation("author email is invalid")
	}
	if utf8.RuneCountInString(email) > MaxAuthorEmail {
		return Validationf("author email exceeds %d characters", MaxAuthorEmail)
	}
	return nil
}
