package crawl

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
)

// ChromeFetcher renders pages in headless Chrome so client-rendered sites
// produce real content instead of an empty shell.
type ChromeFetcher struct{}

// NewChromeFetcher verifies a chromium binary is installed.
func NewChromeFetcher() (*ChromeFetcher, error) {
	if _, err := exec.LookPath("chromium-browser"); err != nil {
		if _, fallbackErr := exec.LookPath("chromium"); fallbackErr != nil {
			return nil, fmt.Errorf("chromium not installed")
		}
	}
	return &ChromeFetcher{}, nil
}

func (f *ChromeFetcher) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
	)

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	defer cancel()

	taskCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	var html string
	err := chromedp.Run(taskCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			return emulation.SetUserAgentOverride("SpoolBot/1.0 (+https://spool.dev/bot)").Do(ctx)
		}),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", pageURL, err)
	}
	return []byte(html), nil
}
