package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Site struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Subdomain string    `json:"subdomain"`
	Plan      string    `json:"plan"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Membership struct {
	SiteID    string    `json:"siteId"`
	UserID    string    `json:"userId"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// Collection is one content schema of a site. Fields holds the custom
// field definitions as JSON; URLPattern renders public item links.
type Collection struct {
	ID         string          `json:"id"`
	SiteID     string          `json:"siteId"`
	Slug       string          `json:"slug"`
	Name       string          `json:"name"`
	URLPattern string          `json:"urlPattern"`
	Fields     json.RawMessage `json:"fields"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// ContentItem is one row of a collection. Data carries the custom field
// values; Draft carries the unpublished overlay and is nil when the item
// has no staged edits.
type ContentItem struct {
	ID             string         `json:"id"`
	SiteID         string         `json:"siteId"`
	CollectionID   string         `json:"collectionId"`
	Title          string         `json:"title"`
	Slug           string         `json:"slug"`
	SeoTitle       string         `json:"seoTitle"`
	SeoDescription string         `json:"seoDescription"`
	OGImage        string         `json:"ogImage"`
	Status         string         `json:"status"`
	PublishedAt    *time.Time     `json:"publishedAt"`
	Data           map[string]any `json:"data"`
	Draft          map[string]any `json:"draft,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// TrainingSource is one piece of chatbot training material. SizeBytes is
// the stored measure counted against the site's plan quota.
type TrainingSource struct {
	ID        string    `json:"id"`
	SiteID    string    `json:"siteId"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	SourceURL string    `json:"sourceUrl"`
	ObjectKey string    `json:"-"`
	SizeBytes int64     `json:"sizeBytes"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Chatbot struct {
	ID           string    `json:"id"`
	SiteID       string    `json:"siteId"`
	Name         string    `json:"name"`
	Model        string    `json:"model"`
	SystemPrompt string    `json:"systemPrompt"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
