// Package ingest turns external material (feeds, videos, uploads) into
// training sources.
package ingest

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// FeedItem is one entry of a parsed feed, normalised across RSS and Atom.
type FeedItem struct {
	Title     string
	Link      string
	Content   string
	Published time.Time
}

type Feed struct {
	Title string
	Items []FeedItem
}

type rssDoc struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Title string `xml:"title"`
		Items []struct {
			Title       string `xml:"title"`
			Link        string `xml:"link"`
			Description string `xml:"description"`
			Encoded     string `xml:"encoded"`
			PubDate     string `xml:"pubDate"`
		} `xml:"item"`
	} `xml:"channel"`
}

type atomDoc struct {
	XMLName xml.Name `xml:"feed"`
	Title   string   `xml:"title"`
	Entries []struct {
		Title string `xml:"title"`
		Links []struct {
			Rel  string `xml:"rel,attr"`
			Href string `xml:"href,attr"`
		} `xml:"link"`
		Summary string `xml:"summary"`
		Content string `xml:"content"`
		Updated string `xml:"updated"`
	} `xml:"entry"`
}

// ParseFeed decodes an RSS 2.0 or Atom document.
func ParseFeed(data []byte) (Feed, error) {
	var rss rssDoc
	if err := xml.Unmarshal(data, &rss); err == nil && rss.XMLName.Local == "rss" {
		feed := Feed{Title: strings.TrimSpace(rss.Channel.Title)}
		for _, item := range rss.Channel.Items {
			content := item.Encoded
			if content == "" {
				content = item.Description
			}
			feed.Items = append(feed.Items, FeedItem{
				Title:     strings.TrimSpace(item.Title),
				Link:      strings.TrimSpace(item.Link),
				Content:   strings.TrimSpace(content),
				Published: parseFeedTime(item.PubDate),
			})
		}
		return feed, nil
	}

	var atom atomDoc
	if err := xml.Unmarshal(data, &atom); err == nil && atom.XMLName.Local == "feed" {
		feed := Feed{Title: strings.TrimSpace(atom.Title)}
		for _, entry := range atom.Entries {
			link := ""
			for _, l := range entry.Links {
				if l.Rel == "" || l.Rel == "alternate" {
					link = l.Href
					break
				}
			}
			content := entry.Content
			if content == "" {
				content = entry.Summary
			}
			feed.Items = append(feed.Items, FeedItem{
				Title:     strings.TrimSpace(entry.Title),
				Link:      strings.TrimSpace(link),
				Content:   strings.TrimSpace(content),
				Published: parseFeedTime(entry.Updated),
			})
		}
		return feed, nil
	}

	return Feed{}, fmt.Errorf("unrecognised feed format")
}

func parseFeedTime(value string) time.Time {
	value = strings.TrimSpace(value)
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC3339, "Mon, 2 Jan 2006 15:04:05 -0700"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

// FetchFeed downloads and parses a feed, keeping at most maxItems entries.
func FetchFeed(ctx context.Context, client *http.Client, feedURL string, maxItems int) (Feed, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return Feed{}, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml")

	resp, err := client.Do(req)
	if err != nil {
		return Feed{}, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Feed{}, fmt.Errorf("fetch feed: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return Feed{}, fmt.Errorf("read feed body: %w", err)
	}
	feed, err := ParseFeed(body)
	if err != nil {
		return Feed{}, err
	}
	if maxItems > 0 && len(feed.Items) > maxItems {
		feed.Items = feed.Items[:maxItems]
	}
	return feed, nil
}

// RateLimitError is returned when a site exhausted its import allowance
// for the current window.
type RateLimitError struct {
	ResetTime time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited until %s", e.ResetTime.Format(time.RFC3339))
}

// RateLimiter is a fixed-window counter in redis, one window per site.
type RateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

func NewRateLimiter(client *redis.Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{client: client, limit: limit, window: window}
}

// Allow consumes one slot. The error is a *RateLimitError when the window
// is exhausted.
func (l *RateLimiter) Allow(ctx context.Context, siteID string) error {
	key := "spool:ratelimit:rss:" + siteID

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("rate limit incr: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return fmt.Errorf("rate limit expire: %w", err)
		}
	}
	if count <= int64(l.limit) {
		return nil
	}

	ttl, err := l.client.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = l.window
	}
	return &RateLimitError{ResetTime: time.Now().Add(ttl)}
}
