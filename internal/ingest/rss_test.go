package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const rssSample = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/">
  <channel>
    <title>Spool Blog</title>
    <item>
      <title>Launch week</title>
      <link>https://example.com/launch</link>
      <description>Short summary</description>
      <content:encoded>Full launch article body</content:encoded>
      <pubDate>Mon, 10 Aug 2026 09:00:00 +0000</pubDate>
    </item>
    <item>
      <title>Second post</title>
      <link>https://example.com/second</link>
      <description>Only a description</description>
    </item>
  </channel>
</rss>`

const atomSample = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Spool Changelog</title>
  <entry>
    <title>v2 released</title>
    <link rel="alternate" href="https://example.com/v2"/>
    <summary>Summary text</summary>
    <updated>2026-08-01T12:00:00Z</updated>
  </entry>
</feed>`

func TestParseFeedRSS(t *testing.T) {
	feed, err := ParseFeed([]byte(rssSample))
	if err != nil {
		t.Fatalf("ParseFeed: %v", err)
	}
	if feed.Title != "Spool Blog" {
		t.Errorf("title = %q", feed.Title)
	}
	if len(feed.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(feed.Items))
	}

	first := feed.Items[0]
	if first.Title != "Launch week" || first.Link != "https://example.com/launch" {
		t.Errorf("first item = %+v", first)
	}
	// content:encoded wins over description when present.
	if first.Content != "Full launch article body" {
		t.Errorf("content = %q", first.Content)
	}
	if first.Published.IsZero() {
		t.Error("pubDate should parse")
	}
	if feed.Items[1].Content != "Only a description" {
		t.Errorf("second content = %q", feed.Items[1].Content)
	}
}

func TestParseFeedAtom(t *testing.T) {
	feed, err := ParseFeed([]byte(atomSample))
	if err != nil {
		t.Fatalf("ParseFeed: %v", err)
	}
	if feed.Title != "Spool Changelog" {
		t.Errorf("title = %q", feed.Title)
	}
	if len(feed.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(feed.Items))
	}
	item := feed.Items[0]
	if item.Title != "v2 released" || item.Link != "https://example.com/v2" || item.Content != "Summary text" {
		t.Errorf("item = %+v", item)
	}
	if item.Published.IsZero() {
		t.Error("updated should parse")
	}
}

func TestParseFeedRejectsGarbage(t *testing.T) {
	if _, err := ParseFeed([]byte("<html><body>not a feed</body></html>")); err == nil {
		t.Error("expected an error for a non-feed document")
	}
}

func TestFetchFeedCapsItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(rssSample))
	}))
	defer srv.Close()

	feed, err := FetchFeed(context.Background(), srv.Client(), srv.URL, 1)
	if err != nil {
		t.Fatalf("FetchFeed: %v", err)
	}
	if len(feed.Items) != 1 {
		t.Errorf("items = %d, want capped to 1", len(feed.Items))
	}
}

func TestFetchFeedNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	if _, err := FetchFeed(context.Background(), srv.Client(), srv.URL, 5); err == nil {
		t.Error("expected an error for a 403 response")
	}
}

func TestRateLimiterFixedWindow(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	limiter := NewRateLimiter(client, 2, time.Hour)
	ctx := context.Background()

	if err := limiter.Allow(ctx, "site_1"); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if err := limiter.Allow(ctx, "site_1"); err != nil {
		t.Fatalf("second call: %v", err)
	}

	err := limiter.Allow(ctx, "site_1")
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("third call err = %v, want RateLimitError", err)
	}
	if rle.ResetTime.Before(time.Now()) {
		t.Errorf("reset time %v should be in the future", rle.ResetTime)
	}

	// Another site has its own window.
	if err := limiter.Allow(ctx, "site_2"); err != nil {
		t.Errorf("other site should not be limited: %v", err)
	}

	// The window expiring clears the counter.
	s.FastForward(2 * time.Hour)
	if err := limiter.Allow(ctx, "site_1"); err != nil {
		t.Errorf("after window reset: %v", err)
	}
}
