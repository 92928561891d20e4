package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// VideoMeta is the subset of oEmbed metadata kept on a youtube source.
type VideoMeta struct {
	VideoID string
	Title   string
	Author  string
	URL     string
}

// ParseVideoID extracts the video id from the URL shapes the watch page,
// short links, embeds and shorts use.
func ParseVideoID(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse video url: %w", err)
	}

	host := strings.TrimPrefix(u.Hostname(), "www.")
	switch host {
	case "youtu.be":
		id := strings.Trim(u.Path, "/")
		if id != "" {
			return id, nil
		}
	case "youtube.com", "m.youtube.com", "youtube-nocookie.com":
		if id := u.Query().Get("v"); id != "" {
			return id, nil
		}
		for _, prefix := range []string{"/embed/", "/shorts/", "/live/"} {
			if strings.HasPrefix(u.Path, prefix) {
				id := strings.Trim(strings.TrimPrefix(u.Path, prefix), "/")
				if id != "" {
					return id, nil
				}
			}
		}
	}
	return "", fmt.Errorf("no video id in %q", rawURL)
}

// YouTubeClient fetches video metadata through the public oEmbed endpoint,
// which needs no API key.
type YouTubeClient struct {
	client  *http.Client
	baseURL string
}

func NewYouTubeClient(client *http.Client) *YouTubeClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &YouTubeClient{
		client:  client,
		baseURL: "https://www.youtube.com/oembed",
	}
}

// SetBaseURL points the client at a different oEmbed endpoint (tests).
func (c *YouTubeClient) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

func (c *YouTubeClient) Lookup(ctx context.Context, videoURL string) (VideoMeta, error) {
	videoID, err := ParseVideoID(videoURL)
	if err != nil {
		return VideoMeta{}, err
	}

	canonical := "https://www.youtube.com/watch?v=" + videoID
	endpoint := c.baseURL + "?url=" + url.QueryEscape(canonical) + "&format=json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return VideoMeta{}, fmt.Errorf("build oembed request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return VideoMeta{}, fmt.Errorf("fetch oembed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return VideoMeta{}, fmt.Errorf("fetch oembed: unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		Title      string `json:"title"`
		AuthorName string `json:"author_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return VideoMeta{}, fmt.Errorf("decode oembed: %w", err)
	}

	return VideoMeta{
		VideoID: videoID,
		Title:   payload.Title,
		Author:  payload.AuthorName,
		URL:     canonical,
	}, nil
}
