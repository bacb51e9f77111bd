package chat

import (
	"errors"
	"fmt"

	"github.com/Tyrowin/roomcast/internal/store"
)

// Kind classifies chat errors.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindAuthorization
	KindSerialization
	KindUnavailable
)

var (
	ErrValidation       = &Error{Kind: KindValidation}
	ErrUnauthorized     = &Error{Kind: KindAuthorization}
	ErrSerialization    = &Error{Kind: KindSerialization}
	ErrStoreUnavailable = &Error{Kind: KindUnavailable}
)

// Error is returned by every Service operation that is refused. Message is
// safe to show to the connection that caused it. Silent errors are not
// reported back to the client at all.
type Error struct {
	Kind    Kind
	Message string
	Silent  bool
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.kindName()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any Error of the same Kind, so callers can test against the
// package-level sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func (e *Error) kindName() string {
	switch e.Kind {
	case KindValidation:
		return "validation failed"
	case KindAuthorization:
		return "not authorized"
	case KindSerialization:
		return "malformed payload"
	case KindUnavailable:
		return "service temporarily unavailable"
	default:
		return "chat error"
	}
}

func invalid(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

// ignored is a validation failure the client is not told about.
func ignored(msg string) error {
	return &Error{Kind: KindValidation, Message: msg, Silent: true}
}

func unauthorized(msg string) error {
	return &Error{Kind: KindAuthorization, Message: msg}
}

// storeFailure converts an error from the store into a chat error that
// hides backend details from clients.
func storeFailure(op string, err error) error {
	if errors.Is(err, store.ErrUnavailable) {
		return &Error{Kind: KindUnavailable, Message: "Service temporarily unavailable, please retry.", Err: fmt.Errorf("%s: %w", op, err)}
	}
	return &Error{Kind: KindUnavailable, Message: "Request could not be completed.", Err: fmt.Errorf("%s: %w", op, err)}
}
