// Package crawl discovers and ingests website content for chatbot
// training, tracking job state in redis.
package crawl

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Page is the extracted view of one crawled URL.
type Page struct {
	URL   string   `json:"url"`
	Title string   `json:"title"`
	Text  string   `json:"text"`
	Links []string `json:"links,omitempty"`
}

// nonContentSelectors lists elements stripped before text extraction.
const nonContentSelectors = "script, style, nav, header, footer, noscript, iframe"

// maxPageText caps stored text per page so one huge page cannot blow up
// the job record.
const maxPageText = 100_000

// Extract parses HTML into a Page: title, readable text, and same-host
// links resolved to absolute URLs.
func Extract(pageURL string, html []byte) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return Page{}, fmt.Errorf("parse html: %w", err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return Page{}, fmt.Errorf("parse page url: %w", err)
	}

	page := Page{URL: pageURL}
	page.Title = extractTitle(doc)
	page.Text = extractText(doc)
	page.Links = extractSameHostLinks(doc, base)
	return page, nil
}

func extractTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if ogTitle, exists := doc.Find("meta[property='og:title']").Attr("content"); exists {
		return strings.TrimSpace(ogTitle)
	}
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	return ""
}

func extractText(doc *goquery.Document) string {
	var root *goquery.Selection
	if article := doc.Find("article").First(); article.Length() > 0 {
		root = article
	} else if main := doc.Find("main").First(); main.Length() > 0 {
		root = main
	} else {
		root = doc.Find("body").First()
	}
	if root.Length() == 0 {
		return ""
	}
	root.Find(nonContentSelectors).Remove()
	text := collapseWhitespace(root.Text())
	if len(text) > maxPageText {
		text = text[:maxPageText]
	}
	return text
}

func extractSameHostLinks(doc *goquery.Document, base *url.URL) []string {
	seen := map[string]bool{base.String(): true}
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Hostname() != base.Hostname() {
			return
		}
		abs.Fragment = ""
		key := abs.String()
		if seen[key] {
			return
		}
		seen[key] = true
		links = append(links, key)
	})
	return links
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
