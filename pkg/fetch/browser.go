package fetch

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// BrowserFetcher renders the page in headless Chrome before reading the DOM,
// for listings that fill prices in client-side.
type BrowserFetcher struct {
	Timeout time.Duration
	Settle  time.Duration
}

func NewBrowserFetcher(timeout time.Duration) *BrowserFetcher {
	return &BrowserFetcher{Timeout: timeout, Settle: 2 * time.Second}
}

func (f *BrowserFetcher) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(DesktopUserAgent),
		chromedp.WindowSize(1920, 1080),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	runCtx, cancelRun := context.WithTimeout(browserCtx, f.Timeout)
	defer cancelRun()

	var html string
	log.Printf("[FETCH] Rendering %s", pageURL)
	err := chromedp.Run(runCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady(`body`, chromedp.ByQuery),
		chromedp.Sleep(f.Settle),
		chromedp.OuterHTML(`html`, &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, URL: pageURL, Err: err}
	}
	if strings.TrimSpace(html) == "" {
		return nil, &Error{Kind: KindEmptyBody, URL: pageURL}
	}
	return []byte(html), nil
}
