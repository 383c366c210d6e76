// Package webhook pings run-lifecycle URLs (on start, on done, on
// fail). Pings are fire-and-forget: failures are logged, never
// propagated, since monitoring must not break the job it monitors.
package webhook

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/Teqed/FediFetcher-sub000/internal/logger"
	"github.com/Teqed/FediFetcher-sub000/internal/peers"
)

// DefaultTimeout bounds a single ping.
const DefaultTimeout = 10 * time.Second

// Notifier issues GET pings tagged with the run id.
type Notifier struct {
	client *http.Client
	runID  string
	log    logger.Interface
}

// New creates a notifier for one run. The run id is appended to every
// ping as the rid query parameter.
func New(runID string, log logger.Interface) *Notifier {
	return &Notifier{
		client: &http.Client{Timeout: DefaultTimeout},
		runID:  runID,
		log:    log.WithComponent("webhook"),
	}
}

// RunID returns the id attached to every ping.
func (n *Notifier) RunID() string {
	return n.runID
}

// Ping fires a GET at rawURL with the run id attached. An empty URL is
// a no-op.
func (n *Notifier) Ping(ctx context.Context, rawURL string) {
	if rawURL == "" {
		return
	}

	target, err := url.Parse(rawURL)
	if err != nil {
		n.log.Warn("Invalid webhook URL", "url", rawURL, "error", err)
		return
	}
	query := target.Query()
	query.Set("rid", n.runID)
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		n.log.Warn("Failed to build webhook request", "url", rawURL, "error", err)
		return
	}
	req.Header.Set("User-Agent", peers.DefaultUserAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Warn("Webhook ping failed", "url", rawURL, "error", err)
		return
	}
	defer resp.Body.Close()
	n.log.Debug("Webhook pinged", "url", rawURL, "status", resp.StatusCode)
}
