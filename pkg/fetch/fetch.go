// Package fetch retrieves comparison listing pages.
package fetch

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
)

const (
	DesktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	acceptHTML       = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"
)

// ErrEmptyBody is what an empty-body *Error unwraps to.
var ErrEmptyBody = errors.New("empty response body")

type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) ([]byte, error)
}

type Kind int

const (
	KindNetwork Kind = iota + 1
	KindStatus
	KindEmptyBody
)

// Error is a classified fetch failure.
type Error struct {
	Kind       Kind
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("HTTP %d fetching %s", e.StatusCode, e.URL)
	case KindEmptyBody:
		return fmt.Sprintf("empty response body from %s", e.URL)
	default:
		return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Err)
	}
}

func (e *Error) Unwrap() error {
	if e.Kind == KindEmptyBody {
		return ErrEmptyBody
	}
	return e.Err
}

// Reason is a short, URL-free description suitable for tallying failures.
func (e *Error) Reason() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	case KindEmptyBody:
		return "empty response body"
	default:
		if errors.Is(e.Err, context.DeadlineExceeded) {
			return "network error: timeout"
		}
		return "network error"
	}
}

func browserHeaders() map[string]string {
	return map[string]string{
		"Accept":                    acceptHTML,
		"Accept-Language":           "en-US,en;q=0.9",
		"Cache-Control":             "no-cache",
		"Pragma":                    "no-cache",
		"Upgrade-Insecure-Requests": "1",
	}
}
