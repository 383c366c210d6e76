package config

import "errors"

// Common errors returned by the config package.
var (
	// ErrMissingServer is returned when no home server is configured.
	ErrMissingServer = errors.New("server must be specified")
	// ErrMissingToken is returned when no access token is configured.
	ErrMissingToken = errors.New("at least one access token must be specified")
	// ErrNegativeThreshold is returned when a mode threshold is negative.
	ErrNegativeThreshold = errors.New("mode thresholds must not be negative")
)
