package signaling

import "errors"

var (
	// ErrUnauthorized is returned when a broadcaster join fails the ownership check.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound is returned when a viewer action needs a stream that is not live.
	ErrNotFound = errors.New("stream not found")
	// ErrProtocolViolation is returned for messages the sender is not allowed to send.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrBadRequest is returned for frames that cannot be decoded.
	ErrBadRequest = errors.New("bad request")
)

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrBadRequest):
		return CodeBadRequest
	default:
		return CodeProtocolViolation
	}
}
