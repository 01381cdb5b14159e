package session

import "errors"

var (
	ErrRequestTimedOut    = errors.New("session: request timed out")
	ErrRequestCancelled   = errors.New("session: request cancelled")
	ErrConnectionClosed   = errors.New("session: connection closed")
	ErrDuplicateID        = errors.New("session: duplicate outstanding correlation id")
	ErrTooManyFrameErrors = errors.New("session: too many consecutive frame errors")
)
