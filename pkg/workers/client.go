package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nrepo/pkg/types"
)

// Announcer sends heartbeats to a coordinator.
type Announcer interface {
	Announce(ctx context.Context) error
}

// APIClient announces a worker to a coordinator's HTTP registry.
type APIClient struct {
	l       hclog.Logger
	hClient *http.Client

	URL  string
	Self types.Worker
}

// NewAPIClient creates a new API client.
func NewAPIClient(l hclog.Logger, url string, self types.Worker, timeout time.Duration) *APIClient {
	return &APIClient{
		l:       l.Named("client"),
		hClient: &http.Client{Timeout: timeout},
		URL:     strings.TrimSuffix(url, "/"),
		Self:    self,
	}
}

// Announce posts this worker to the registry.  Timeouts come back as
// ErrWorkerUnreachable.
func (c *APIClient) Announce(ctx context.Context) error {
	body, err := json.Marshal(c.Self)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL+"/api/v1/workers", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hClient.Do(req)
	if err != nil {
		return types.ErrWorkerUnreachable{Worker: c.URL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("announce rejected: %s", resp.Status)
	}
	return nil
}

// Heartbeat announces immediately and then every interval until ctx
// is done.  Failures are logged and retried on the next tick; an
// unreachable coordinator is not fatal.
func Heartbeat(ctx context.Context, l hclog.Logger, a Announcer, interval time.Duration) {
	l = l.Named("heartbeat")
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := a.Announce(ctx); err != nil {
			var wu types.ErrWorkerUnreachable
			if errors.As(err, &wu) {
				l.Warn("Coordinator unreachable", "error", err)
			} else {
				l.Error("Heartbeat failed", "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
