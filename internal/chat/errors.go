package chat

import (
	"errors"
	"fmt"
)

// Kind classifies chat errors so transports can map them to status codes.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindAuthorization  Kind = "authorization"
	KindSilenced       Kind = "silenced"
	KindUnknownCommand Kind = "unknown_command"
	KindDelivery       Kind = "delivery"
)

// Error is a classified chat failure.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same kind, so errors.Is(err, ErrSilenced) works
// for every silenced failure regardless of its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// Sentinels usable with errors.Is.
var (
	ErrValidation     = &Error{Kind: KindValidation}
	ErrAuthorization  = &Error{Kind: KindAuthorization}
	ErrSilenced       = &Error{Kind: KindSilenced}
	ErrUnknownCommand = &Error{Kind: KindUnknownCommand}
	ErrDelivery       = &Error{Kind: KindDelivery}
)

func Validation(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Unauthorized(msg string) error {
	return &Error{Kind: KindAuthorization, Message: msg}
}

func Silenced(msg string) error {
	return &Error{Kind: KindSilenced, Message: msg}
}

func UnknownCommand(name string) error {
	return &Error{Kind: KindUnknownCommand, Message: fmt.Sprintf("unknown command %q", name)}
}

func DeliveryFailure(sinkID string, cause error) error {
	return &Error{Kind: KindDelivery, Message: "delivery to " + sinkID + " failed", Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
