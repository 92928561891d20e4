package crawl

import (
	"strings"
	"testing"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
  <title>Pricing - Spool</title>
  <meta property="og:title" content="Pricing">
  <script>window.analytics = {};</script>
  <style>body { color: red; }</style>
</head>
<body>
  <nav><a href="/">Home</a><a href="/pricing">Pricing</a></nav>
  <article>
    <h1>Pricing</h1>
    <p>Our plans start at zero dollars.</p>
    <script>trackPageView();</script>
  </article>
  <a href="/docs/setup">Setup guide</a>
  <a href="/docs/setup#section">Setup anchor</a>
  <a href="https://example.com/pricing?plan=pro">Pro plan</a>
  <a href="https://other.example.net/external">External</a>
  <a href="mailto:team@example.com">Email us</a>
  <footer>Copyright</footer>
</body>
</html>`

func TestExtractTitleAndText(t *testing.T) {
	page, err := Extract("https://example.com/pricing", []byte(samplePage))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if page.Title != "Pricing - Spool" {
		t.Errorf("title = %q", page.Title)
	}
	if !strings.Contains(page.Text, "Our plans start at zero dollars.") {
		t.Errorf("text = %q, missing article body", page.Text)
	}
	if strings.Contains(page.Text, "trackPageView") || strings.Contains(page.Text, "color: red") {
		t.Errorf("text = %q, script/style content must be stripped", page.Text)
	}
	// Article extraction excludes nav and footer chrome.
	if strings.Contains(page.Text, "Copyright") {
		t.Errorf("text = %q, footer should not leak in", page.Text)
	}
}

func TestExtractSameHostLinks(t *testing.T) {
	page, err := Extract("https://example.com/pricing", []byte(samplePage))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	want := map[string]bool{
		"https://example.com/docs/setup":       true,
		"https://example.com/pricing?plan=pro": true,
		"https://example.com/":                 true,
	}
	got := map[string]bool{}
	for _, link := range page.Links {
		got[link] = true
	}
	for link := range want {
		if !got[link] {
			t.Errorf("missing link %s (got %v)", link, page.Links)
		}
	}
	for link := range got {
		if strings.Contains(link, "other.example.net") || strings.Contains(link, "mailto") {
			t.Errorf("off-host or mailto link leaked: %s", link)
		}
		if strings.Contains(link, "#") {
			t.Errorf("fragment not stripped: %s", link)
		}
	}
	// The page's own URL and anchor duplicates are deduplicated.
	count := 0
	for _, link := range page.Links {
		if link == "https://example.com/docs/setup" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("docs/setup appears %d times, want 1", count)
	}
}

func TestExtractFallbackTitle(t *testing.T) {
	html := `<html><head><meta property="og:title" content="OG Title"></head><body><p>x</p></body></html>`
	page, err := Extract("https://example.com/", []byte(html))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if page.Title != "OG Title" {
		t.Errorf("title = %q, want og:title fallback", page.Title)
	}
}
