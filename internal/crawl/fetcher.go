package crawl

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// ErrForbidden marks a page the target site refused to serve; the crawl
// records a placeholder and carries on instead of failing the whole job.
type ErrForbidden struct {
	URL string
}

func (e *ErrForbidden) Error() string {
	return fmt.Sprintf("fetch %s: forbidden", e.URL)
}

// Fetcher retrieves one page's HTML.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) ([]byte, error)
}

// HTTPFetcher fetches pages with a plain HTTP client. It is the fallback
// when no headless browser is available, and sufficient for server-rendered
// sites.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{
		client:    client,
		userAgent: "SpoolBot/1.0 (+https://spool.dev/bot)",
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return nil, &ErrForbidden{URL: pageURL}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", pageURL, err)
	}
	return body, nil
}
