package peers

import (
	"net/http"
	"time"
)

const (
	// OverallTimeout caps any single HTTP exchange regardless of the
	// per-request timeout passed via context.
	OverallTimeout = 60 * time.Second

	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultIdleConnTimeout     = 90 * time.Second
	defaultTLSHandshakeTimeout = 10 * time.Second
	defaultExpectContinue      = 1 * time.Second
)

// newHTTPClient creates the shared keep-alive HTTP client used by all
// peer clients in a pool.
func newHTTPClient() *http.Client {
	transport := &http.Transport{
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ExpectContinueTimeout: defaultExpectContinue,
	}
	return &http.Client{
		Timeout:   OverallTimeout,
		Transport: transport,
	}
}

// noRedirectClient derives a client that reports redirects instead of
// following them, for HEAD probes that capture Location headers.
func noRedirectClient(base *http.Client) *http.Client {
	return &http.Client{
		Transport: base.Transport,
		Timeout:   base.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
