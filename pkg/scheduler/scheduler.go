// Package scheduler is the zero-argument entry point an external cron calls
// to start a full price refresh.
package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
)

// Header marks a refresh request as coming from the scheduler.
const Header = "X-Scheduled-Trigger"

type Trigger struct {
	Client     *http.Client
	RefreshURL string
	Secret     string
}

func New(refreshURL, secret string) *Trigger {
	return &Trigger{
		Client:     &http.Client{Timeout: 10 * time.Minute},
		RefreshURL: refreshURL,
		Secret:     secret,
	}
}

// Run posts a refresh-all request and returns the response body.
func (t *Trigger) Run(ctx context.Context) (json.RawMessage, error) {
	payload, err := json.Marshal(map[string]string{"mode": "all"})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.RefreshURL, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build refresh request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(Header, t.Secret)

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "refresh request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read refresh response")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, errors.Newf("refresh returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	log.Printf("[SCHEDULER] Refresh triggered, HTTP %d", resp.StatusCode)
	return body, nil
}

// IsScheduled reports whether r carries the trigger marker with the right
// secret.
func IsScheduled(r *http.Request, secret string) bool {
	v := r.Header.Get(Header)
	return v != "" && v == secret
}
