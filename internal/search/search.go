package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultItem   ResultType = "item"
	ResultSource ResultType = "source"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type         ResultType `json:"type"`
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Snippet      string     `json:"snippet"`
	SiteID       string     `json:"siteId"`
	CollectionID string     `json:"collectionId,omitempty"`
	Status       string     `json:"status,omitempty"`
}

// Query describes a search request. SiteID is mandatory; results never
// cross tenants.
type Query struct {
	SiteID           string
	Text             string
	FilterType       ResultType // empty = all types
	FilterCollection string
	Limit            int
	Offset           int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ItemRecord is the data we index for a content item.
type ItemRecord struct {
	ID             string `json:"id"`
	SiteID         string `json:"siteId"`
	CollectionID   string `json:"collectionId"`
	Title          string `json:"title"`
	Slug           string `json:"slug"`
	SeoDescription string `json:"seoDescription"`
	Status         string `json:"status"`
}

// SourceRecord is the data we index for a training source.
type SourceRecord struct {
	ID      string `json:"id"`
	SiteID  string `json:"siteId"`
	Type    string `json:"type"`
	Title   string `json:"title"`
	Content string `json:"content"`
}
