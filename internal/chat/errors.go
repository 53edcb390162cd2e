package chat

import "errors"

var (
	// ErrUnauthenticated is returned when a token cannot be resolved or an
	// unbound connection attempts a room or message operation.
	ErrUnauthenticated = errors.New("chat: unauthenticated")

	// ErrAlreadyBound is returned when a connection that already carries an
	// identity is asked to bind a different one.
	ErrAlreadyBound = errors.New("chat: connection already bound to another identity")

	// ErrValidation is returned for message bodies that are empty after
	// sanitizing or exceed the size limit.
	ErrValidation = errors.New("chat: invalid message")

	// ErrNotInRoom is returned when a connection posts to a room it is not subscribed to.
	ErrNotInRoom = errors.New("chat: not subscribed to room")

	// ErrUnknownEvent is returned for frames with an unrecognized event name.
	ErrUnknownEvent = errors.New("chat: unknown event")

	// ErrMalformedFrame is returned for frames that are not a valid envelope.
	ErrMalformedFrame = errors.New("chat: malformed frame")

	// ErrConnClosed is returned when an operation targets a connection whose
	// disconnect has already been processed.
	ErrConnClosed = errors.New("chat: connection closed")
)
