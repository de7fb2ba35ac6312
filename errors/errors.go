package errors

import (
	stderrors "errors"
	"fmt"
)

// Taxonomy roots. Every sentinel below wraps exactly one of them so callers
// can branch on the family with Is.
var (
	ErrAuthFailure    = fmt.Errorf("authentication failure")
	ErrValidation     = fmt.Errorf("validation failure")
	ErrStoreFailure   = fmt.Errorf("store failure")
	ErrStateInvariant = fmt.Errorf("state invariant violation")
)

var (
	ErrMissingToken       = fmt.Errorf("%w: authorization token is missing", ErrAuthFailure)
	ErrMalformedToken     = fmt.Errorf("%w: malformed token", ErrAuthFailure)
	ErrInvalidToken       = fmt.Errorf("%w: invalid or expired token", ErrAuthFailure)
	ErrNotAuthenticated   = fmt.Errorf("%w: user not authenticated", ErrAuthFailure)
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrAuthFailure)
)

var (
	ErrEmptyContent         = fmt.Errorf("%w: message content is required", ErrValidation)
	ErrContentTooLong       = fmt.Errorf("%w: message content is too long", ErrValidation)
	ErrMissingReceiver      = fmt.Errorf("%w: receiver ID is required", ErrValidation)
	ErrMissingConversation  = fmt.Errorf("%w: conversation ID is required", ErrValidation)
	ErrConversationMismatch = fmt.Errorf("%w: conversation ID does not match participants", ErrValidation)
	ErrNotParticipant       = fmt.Errorf("%w: user is not a participant of the conversation", ErrValidation)
	ErrInvalidUserID        = fmt.Errorf("%w: invalid user ID", ErrValidation)
	ErrInvalidPayload       = fmt.Errorf("%w: invalid payload", ErrValidation)
	ErrUnknownEvent         = fmt.Errorf("%w: unknown event type", ErrValidation)
	ErrRateLimited          = fmt.Errorf("%w: rate limit exceeded", ErrValidation)
	ErrInvalidRegistration  = fmt.Errorf("%w: invalid registration", ErrValidation)
	ErrUserAlreadyExists    = fmt.Errorf("%w: user with this email or username already exists", ErrValidation)
)

var (
	ErrUserNotFound     = fmt.Errorf("%w: user not found", ErrStoreFailure)
	ErrReceiverNotFound = fmt.Errorf("%w: receiver not found", ErrStoreFailure)
	ErrCorruptedRecord  = fmt.Errorf("%w: corrupted record", ErrStoreFailure)
)

var (
	ErrUnknownConnection = fmt.Errorf("%w: connection was never registered", ErrStateInvariant)
	ErrSessionClosed     = fmt.Errorf("%w: session is closed", ErrStateInvariant)
)

var (
	ErrWorkerPanic     = fmt.Errorf("worker panic")
	ErrEmptyWords      = fmt.Errorf("no words have been found")
	ErrTokenGeneration = fmt.Errorf("token generation failed")
	ErrInvalidHash     = fmt.Errorf("invalid hash format")
	ErrSinkFull        = fmt.Errorf("sink buffer is full")
)

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

// Public returns the message safe to show a client: the sentinel text
// without its taxonomy prefix.
func Public(err error) string {
	for _, root := range []error{ErrAuthFailure, ErrValidation, ErrStoreFailure, ErrStateInvariant} {
		prefix := root.Error() + ": "
		if msg := err.Error(); len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
			return msg[len(prefix):]
		}
	}
	return err.Error()
}
