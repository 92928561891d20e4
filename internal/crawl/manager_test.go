package crawl

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// stubFetcher serves canned HTML per URL.
type stubFetcher struct {
	pages map[string]string
	errs  map[string]error
	block chan struct{}
}

func (f *stubFetcher) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := f.errs[pageURL]; ok {
		return nil, err
	}
	html, ok := f.pages[pageURL]
	if !ok {
		return nil, fmt.Errorf("fetch %s: unexpected status 404", pageURL)
	}
	return []byte(html), nil
}

func newTestManager(t *testing.T, fetcher Fetcher, maxPages int) *Manager {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	m := NewManager(client, fetcher, maxPages, time.Second)
	m.SetLogf(func(string, ...any) {})
	return m
}

func waitForFinal(t *testing.T, m *Manager, siteID, jobID string) Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := m.Get(context.Background(), siteID, jobID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		switch job.Status {
		case StatusCompleted, StatusFailed, StatusCancelled:
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job did not reach a final state")
	return Job{}
}

func page(title, body string, links ...string) string {
	html := "<html><head><title>" + title + "</title></head><body><p>" + body + "</p>"
	for _, link := range links {
		html += `<a href="` + link + `">link</a>`
	}
	return html + "</body></html>"
}

func TestCrawlWalksSameHostLinks(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]string{
		"https://example.com/":        page("Home", "Welcome", "/about", "/contact", "https://other.net/x"),
		"https://example.com/about":   page("About", "We build chat tools"),
		"https://example.com/contact": page("Contact", "Reach us anytime"),
	}}
	m := newTestManager(t, fetcher, 10)

	job, err := m.Start(context.Background(), "site_1", "https://example.com/")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if job.Status != StatusStarting {
		t.Errorf("initial status = %s", job.Status)
	}

	final := waitForFinal(t, m, "site_1", job.ID)
	if final.Status != StatusCompleted {
		t.Fatalf("status = %s, error = %s", final.Status, final.Error)
	}
	if len(final.Pages) != 3 {
		t.Fatalf("pages = %d, want 3", len(final.Pages))
	}
	if final.Progress.PagesProcessed != 3 || final.Progress.TotalPages != 3 {
		t.Errorf("progress = %+v", final.Progress)
	}
	titles := map[string]bool{}
	for _, p := range final.Pages {
		titles[p.Title] = true
	}
	for _, want := range []string{"Home", "About", "Contact"} {
		if !titles[want] {
			t.Errorf("missing page %q in %v", want, titles)
		}
	}
}

func TestCrawlRespectsMaxPages(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]string{
		"https://example.com/":  page("Home", "Welcome", "/a", "/b", "/c"),
		"https://example.com/a": page("A", "a"),
		"https://example.com/b": page("B", "b"),
		"https://example.com/c": page("C", "c"),
	}}
	m := newTestManager(t, fetcher, 2)

	job, err := m.Start(context.Background(), "site_1", "https://example.com/")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	final := waitForFinal(t, m, "site_1", job.ID)
	if final.Status != StatusCompleted {
		t.Fatalf("status = %s", final.Status)
	}
	if len(final.Pages) != 2 {
		t.Errorf("pages = %d, want capped to 2", len(final.Pages))
	}
}

func TestCrawlForbiddenPageIsPlaceholder(t *testing.T) {
	fetcher := &stubFetcher{
		pages: map[string]string{
			"https://example.com/": page("Home", "Welcome", "/private"),
		},
		errs: map[string]error{
			"https://example.com/private": &ErrForbidden{URL: "https://example.com/private"},
		},
	}
	m := newTestManager(t, fetcher, 10)

	job, err := m.Start(context.Background(), "site_1", "https://example.com/")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	final := waitForFinal(t, m, "site_1", job.ID)
	if final.Status != StatusCompleted {
		t.Fatalf("status = %s, a 403 mid-crawl is partial success", final.Status)
	}
	if len(final.Pages) != 2 {
		t.Fatalf("pages = %d, want 2 (real page + placeholder)", len(final.Pages))
	}
	var placeholder *Page
	for i := range final.Pages {
		if final.Pages[i].URL == "https://example.com/private" {
			placeholder = &final.Pages[i]
		}
	}
	if placeholder == nil {
		t.Fatal("blocked page should still be recorded")
	}
	if placeholder.Title != "Access denied" || placeholder.Text != "" {
		t.Errorf("placeholder = %+v", placeholder)
	}
}

func TestCrawlFirstPageFailureFailsJob(t *testing.T) {
	fetcher := &stubFetcher{
		errs: map[string]error{
			"https://example.com/": errors.New("fetch https://example.com/: connection refused"),
		},
	}
	m := newTestManager(t, fetcher, 10)

	job, err := m.Start(context.Background(), "site_1", "https://example.com/")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	final := waitForFinal(t, m, "site_1", job.ID)
	if final.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	if final.Error == "" {
		t.Error("failed job should carry its error")
	}
}

func TestCancelRunningJob(t *testing.T) {
	fetcher := &stubFetcher{
		pages: map[string]string{"https://example.com/": page("Home", "Welcome")},
		block: make(chan struct{}),
	}
	m := newTestManager(t, fetcher, 10)
	ctx := context.Background()

	job, err := m.Start(ctx, "site_1", "https://example.com/")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	cancelled, err := m.Cancel(ctx, "site_1", job.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("status = %s", cancelled.Status)
	}
	close(fetcher.block)

	final := waitForFinal(t, m, "site_1", job.ID)
	if final.Status != StatusCancelled {
		t.Errorf("status = %s, cancel must stick", final.Status)
	}
}

func TestGetUnknownJob(t *testing.T) {
	m := newTestManager(t, &stubFetcher{}, 10)
	if _, err := m.Get(context.Background(), "site_1", "crawl_missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("err = %v, want ErrJobNotFound", err)
	}
}

func TestDeleteJob(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]string{
		"https://example.com/": page("Home", "Welcome"),
	}}
	m := newTestManager(t, fetcher, 10)
	ctx := context.Background()

	job, err := m.Start(ctx, "site_1", "https://example.com/")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForFinal(t, m, "site_1", job.ID)

	if err := m.Delete(ctx, "site_1", job.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Get(ctx, "site_1", job.ID); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("err = %v, want ErrJobNotFound after delete", err)
	}
}
