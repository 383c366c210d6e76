// Package peers provides per-server HTTP clients for Fediverse instances:
// bearer auth, JSON decoding, RFC 5988 Link pagination, rate-limit
// backoff, and bounded in-flight requests per origin.
package peers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/Teqed/FediFetcher-sub000/internal/logger"
)

const (
	// DefaultTimeout is the per-request timeout when none is configured.
	DefaultTimeout = 5 * time.Second
	// MaxRetries is the number of retries after a 429 before giving up.
	MaxRetries = 5
	// BulkConcurrency bounds in-flight bulk-resolution requests per origin.
	BulkConcurrency = 10
	// DefaultUserAgent masquerades as a browser and carries the project
	// identifier, which some peers require to serve API responses.
	DefaultUserAgent = "Mozilla/5.0 (compatible; FediFetcher/1.0; +https://github.com/Teqed/FediFetcher)"

	rateLimitFallback = 60 * time.Second
	maxBodyBytes      = 10 << 20
)

// SleepFunc pauses for d or until ctx is done. Injectable for tests.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Page carries the pagination URLs advertised in a Link response header.
type Page struct {
	Next string
	Prev string
}

// Client is the HTTP client for a single origin server. Create through a
// Pool so transports and tokens are shared; clients live for the whole
// run. Default requests hold a one-slot gate; Bulk views share a wider
// gate of BulkConcurrency slots.
type Client struct {
	server     string
	baseURL    string
	token      string
	timeout    time.Duration
	userAgent  string
	maxRetries int

	http     *http.Client
	headHTTP *http.Client
	sleep    SleepFunc
	log      logger.Interface

	useBulkGate bool
	gate        chan struct{}
	bulkGate    chan struct{}
}

// Options configures a Client.
type Options struct {
	Token      string
	Timeout    time.Duration
	UserAgent  string
	MaxRetries int
	HTTPClient *http.Client
	Sleep      SleepFunc
	Logger     logger.Interface
}

// NewClient creates a client for server. The server may be a bare
// hostname (the base URL becomes https://<server>) or a full URL.
func NewClient(server string, opts Options) *Client {
	name := strings.ToLower(strings.TrimSuffix(server, "/"))
	base := "https://" + name
	if strings.Contains(server, "://") {
		base = strings.TrimSuffix(server, "/")
		if u, err := url.Parse(base); err == nil {
			name = strings.ToLower(u.Host)
		}
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = newHTTPClient()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = MaxRetries
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepWithContext
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNoOp()
	}

	return &Client{
		server:     name,
		baseURL:    base,
		token:      opts.Token,
		timeout:    timeout,
		userAgent:  userAgent,
		maxRetries: maxRetries,
		http:       httpClient,
		headHTTP:   noRedirectClient(httpClient),
		sleep:      sleep,
		log:        log,
		gate:       make(chan struct{}, 1),
		bulkGate:   make(chan struct{}, BulkConcurrency),
	}
}

// Server returns the normalized hostname this client talks to.
func (c *Client) Server() string {
	return c.server
}

// URL returns the absolute URL for a path under the client's base.
func (c *Client) URL(path string) string {
	return c.buildURL(path, nil)
}

// Bulk returns a view of the client whose requests share the widened
// bulk gate. All Bulk views of one client share the same gate, so the
// in-flight bound holds across goroutines.
func (c *Client) Bulk() *Client {
	view := *c
	view.useBulkGate = true
	return &view
}

// Get issues a GET for path under the client's base URL and decodes the
// JSON response into out (which may be nil).
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) (Page, error) {
	return c.do(ctx, http.MethodGet, c.buildURL(path, query), nil, out)
}

// GetAbs issues a GET for an absolute URL, typically a pagination link.
func (c *Client) GetAbs(ctx context.Context, absURL string, out any) (Page, error) {
	return c.do(ctx, http.MethodGet, absURL, nil, out)
}

// GetBytes issues a GET and returns the raw response body. Used for the
// rare non-JSON documents, such as XRD host-meta.
func (c *Client) GetBytes(ctx context.Context, path string) ([]byte, error) {
	var buf []byte
	_, err := c.do(ctx, http.MethodGet, c.buildURL(path, nil), nil, &buf)
	return buf, err
}

// Post issues a POST with a JSON body and decodes the response into out.
// It follows the same rate-limit discipline as Get.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}
	_, err := c.do(ctx, http.MethodPost, c.buildURL(path, nil), payload, out)
	return err
}

// Head probes absURL without following redirects and returns the
// Location header of a 3xx response. A non-redirect response yields an
// empty location with no error.
func (c *Client) Head(ctx context.Context, absURL string) (string, error) {
	release, err := c.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, absURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, false)

	resp, err := c.headHTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("HEAD %s: %w", absURL, err)
	}
	drainAndClose(resp.Body)

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		return resp.Header.Get("Location"), nil
	}
	return "", nil
}

func (c *Client) buildURL(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) acquire(ctx context.Context) (func(), error) {
	gate := c.gate
	if c.useBulkGate {
		gate = c.bulkGate
	}
	select {
	case gate <- struct{}{}:
		return func() { <-gate }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// rateLimitError signals a 429 to the retry loop, carrying the delay the
// server advertised.
type rateLimitError struct {
	delay time.Duration
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.delay)
}

func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, out any) (Page, error) {
	release, err := c.acquire(ctx)
	if err != nil {
		return Page{}, err
	}
	defer release()

	for attempt := 0; ; attempt++ {
		page, err := c.attempt(ctx, method, rawURL, body, out)
		var limited *rateLimitError
		if !errors.As(err, &limited) {
			return page, err
		}
		if attempt >= c.maxRetries {
			return Page{}, fmt.Errorf("%s %s: %w", method, rawURL, ErrRateLimited)
		}
		c.log.Warn("Rate limited by peer, backing off",
			"server", c.server,
			"url", rawURL,
			"sleep", limited.delay,
			"attempt", attempt+1,
		)
		if sleepErr := c.sleep(ctx, limited.delay); sleepErr != nil {
			return Page{}, sleepErr
		}
	}
}

func (c *Client) attempt(ctx context.Context, method, rawURL string, body []byte, out any) (Page, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, reader)
	if err != nil {
		return Page{}, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, body != nil)

	resp, err := c.http.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("%s %s: %w", method, rawURL, err)
	}
	defer drainAndClose(resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		switch sink := out.(type) {
		case nil:
		case *[]byte:
			raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
			if readErr != nil {
				return Page{}, fmt.Errorf("%s %s: failed to read response: %w", method, rawURL, readErr)
			}
			*sink = raw
		default:
			if decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); decodeErr != nil {
				return Page{}, fmt.Errorf("%s %s: failed to decode response: %w", method, rawURL, decodeErr)
			}
		}
		return parseLinkHeader(resp.Header.Get("Link")), nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return Page{}, &rateLimitError{delay: c.retryDelay(resp)}
	case resp.StatusCode == http.StatusBadRequest:
		return Page{}, fmt.Errorf("%s %s: %w", method, rawURL, ErrBadRequest)
	case resp.StatusCode == http.StatusUnauthorized:
		return Page{}, fmt.Errorf("%s %s: %w", method, rawURL, ErrUnauthorized)
	case resp.StatusCode == http.StatusForbidden:
		return Page{}, fmt.Errorf("%s %s: %w", method, rawURL, ErrForbidden)
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return Page{}, fmt.Errorf("%s %s: %w", method, rawURL, ErrNotFound)
	case resp.StatusCode >= 500:
		return Page{}, fmt.Errorf("%s %s: status %d: %w", method, rawURL, resp.StatusCode, ErrServer)
	default:
		return Page{}, fmt.Errorf("%s %s: unexpected status %d", method, rawURL, resp.StatusCode)
	}
}

// retryDelay reads the x-ratelimit-reset header (ISO 8601 UTC) and falls
// back to a fixed 60 s when it is absent or already in the past.
func (c *Client) retryDelay(resp *http.Response) time.Duration {
	reset := resp.Header.Get("x-ratelimit-reset")
	if reset == "" {
		return rateLimitFallback
	}
	t, err := time.Parse(time.RFC3339, reset)
	if err != nil {
		return rateLimitFallback
	}
	if d := time.Until(t); d > 0 {
		return d
	}
	return rateLimitFallback
}

func (c *Client) setHeaders(req *http.Request, hasBody bool) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxBodyBytes))
	_ = body.Close()
}

var linkRe = regexp.MustCompile(`<([^>]+)>\s*;\s*rel="?(\w+)"?`)

// parseLinkHeader extracts rel="next" and rel="prev" URLs from an RFC
// 5988 Link header.
func parseLinkHeader(header string) Page {
	var page Page
	for _, m := range linkRe.FindAllStringSubmatch(header, -1) {
		switch m[2] {
		case "next":
			page.Next = m[1]
		case "prev":
			page.Prev = m[1]
		}
	}
	return page
}
