package events

import "errors"

var (
	ErrClosed    = errors.New("event stream closed")
	ErrMalformed = errors.New("malformed change event")
)
