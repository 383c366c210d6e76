package peers

import "errors"

// Sentinel errors mapped from HTTP status codes. Callers branch with
// errors.Is and otherwise log-and-skip.
var (
	// ErrRateLimited is returned after the retry budget for 429 responses
	// is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrBadRequest is returned for HTTP 400.
	ErrBadRequest = errors.New("bad request")
	// ErrUnauthorized is returned for HTTP 401.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned for HTTP 403.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound is returned for HTTP 404 and 410.
	ErrNotFound = errors.New("not found")
	// ErrServer is returned for any 5xx response.
	ErrServer = errors.New("server error")
)
