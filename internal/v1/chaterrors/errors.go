// Package chaterrors defines the error taxonomy for chat operations. Remote failures are
// translated into an *Error carrying a Category before they reach a notification sink,
// so callers never see raw transport errors.
package chaterrors

import (
	"context"
	"errors"
	"fmt"
)

// Category groups failures by how they are surfaced.
type Category string

const (
	CategoryConnection     Category = "connection"
	CategoryRoom           Category = "room"
	CategoryMessageSend    Category = "message_send"
	CategoryTyping         Category = "typing"
	CategoryAuthentication Category = "authentication"
	CategoryValidation     Category = "validation"
)

var (
	ErrAuth              = errors.New("no authentication token available")
	ErrConnectionTimeout = errors.New("connection attempt timed out")
	ErrNotConnected      = errors.New("not connected to chat hub")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrUnauthorized      = errors.New("unauthorized")
)

// Error is a categorized failure of a named operation.
type Error struct {
	Category Category
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Category, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with a category and operation name.
func New(category Category, op string, err error) *Error {
	return &Error{Category: category, Op: op, Err: err}
}

// Translate normalizes err into the taxonomy. Already-categorized errors pass through
// unchanged; an expired context during a connection attempt becomes ErrConnectionTimeout.
func Translate(category Category, op string, err error) error {
	if err == nil {
		return nil
	}

	var ce *Error
	if errors.As(err, &ce) {
		return err
	}

	if category == CategoryConnection && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrConnectionTimeout) {
		err = fmt.Errorf("%w: %v", ErrConnectionTimeout, err)
	}

	return New(category, op, err)
}

// CategoryOf returns the category of a translated error.
func CategoryOf(err error) (Category, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Category, true
	}
	return "", false
}

// IsUserFacing reports whether failures of the category reach the user.
// Typing indicators are best-effort and only logged.
func IsUserFacing(category Category) bool {
	return category != CategoryTyping
}

// UserMessage is the text shown to the user for a translated error.
func UserMessage(err error) string {
	category, _ := CategoryOf(err)
	switch category {
	case CategoryConnection:
		if errors.Is(err, ErrConnectionTimeout) {
			return "Connecting to chat timed out. Retrying may help."
		}
		return "Chat is currently unavailable."
	case CategoryRoom:
		return "Could not update your room membership."
	case CategoryMessageSend:
		if errors.Is(err, ErrNotConnected) {
			return "Message not sent: you are offline."
		}
		if errors.Is(err, ErrRateLimited) {
			return "You are sending messages too quickly."
		}
		return "Message could not be sent."
	case CategoryAuthentication:
		return "Your session has expired. Please log in again."
	case CategoryValidation:
		return "The request was invalid."
	default:
		return "Something went wrong."
	}
}
