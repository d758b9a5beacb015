package domain

import "errors"

var (
	ErrInvalidCode      = errors.New("invalid join code: must be 6 uppercase alphanumeric characters")
	ErrInvalidMessage   = errors.New("invalid message: text must not be empty")
	ErrInvalidAction    = errors.New("invalid playback action")
	ErrUnknownEventKind = errors.New("unknown event kind")
)
