package protocol

import "errors"

var (
	ErrMissingSentinel = errors.New("protocol: end-of-record marker not found")
	ErrUnknownCommand  = errors.New("protocol: unknown command")
	ErrBadInteger      = errors.New("protocol: malformed integer frame")
	ErrShortPayload    = errors.New("protocol: binary payload has wrong length")
)
