package fetch

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"
)

// HTTPFetcher fetches pages with a plain HTTP GET that looks like a desktop
// browser.
type HTTPFetcher struct {
	Collector *colly.Collector
	Timeout   time.Duration
	limiter   *rate.Limiter
}

// NewHTTPFetcher returns a fetcher with the given per-request timeout. A
// positive rps enables a request rate limit shared by all calls.
func NewHTTPFetcher(timeout time.Duration, rps float64) *HTTPFetcher {
	c := colly.NewCollector(
		colly.UserAgent(DesktopUserAgent),
		colly.Headers(browserHeaders()),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	)
	c.SetRequestTimeout(timeout)

	f := &HTTPFetcher{Collector: c, Timeout: timeout}
	if rps > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return f
}

func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, &Error{Kind: KindNetwork, URL: pageURL, Err: err}
		}
	}

	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	c := f.Collector.Clone()
	c.Context = ctx

	var (
		status int
		body   []byte
	)
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})

	log.Printf("[FETCH] GET %s", pageURL)
	if err := c.Visit(pageURL); err != nil {
		return nil, &Error{Kind: KindNetwork, URL: pageURL, Err: err}
	}

	if status < 200 || status > 299 {
		return nil, &Error{Kind: KindStatus, URL: pageURL, StatusCode: status}
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, &Error{Kind: KindEmptyBody, URL: pageURL, StatusCode: status}
	}
	return body, nil
}
