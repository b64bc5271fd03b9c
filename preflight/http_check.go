package preflight

import (
	"context"
	"fmt"
	"time"

	"github.com/relaybus/relaybus/httpclient"
	"github.com/relaybus/relaybus/log"
)

type httpCheck struct {
	name   string
	client *httpclient.Client
}

// HTTPCheck probes url with a single GET and fails unless the response
// is in the 2xx range. It's built on httpclient.Client with retries
// disabled (WithRetryMax(0)): a preflight check should fail fast on the
// first bad response, not mask a genuinely down dependency behind a
// retry loop.
func HTTPCheck(name, url string) Check {
	return &httpCheck{
		name: name,
		client: httpclient.New(url, log.NewNoopLogger(),
			httpclient.WithRetryMax(0),
			httpclient.WithTimeout(5*time.Second),
		),
	}
}

func (h *httpCheck) Name() string {
	return h.name
}

func (h *httpCheck) Run(ctx context.Context) error {
	resp, err := h.client.Get(ctx, "")
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}
