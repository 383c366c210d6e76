package fediverse

import "errors"

var (
	// ErrUnsupported is returned when a capability is not available on
	// the server's software.
	ErrUnsupported = errors.New("unsupported by server software")
	// ErrNoResult is returned when a lookup or search matched nothing.
	ErrNoResult = errors.New("no result")
)
