package content

import (
	"testing"
	"time"
)

func TestResolveValueDraftPrecedence(t *testing.T) {
	it := publishedItem("item_1")
	it.Draft = &Overlay{
		Title: strptr("Hello (edited)"),
		Data:  map[string]any{"color": "green"},
	}

	if got := ResolveValue(it, "title"); got != "Hello (edited)" {
		t.Errorf("title = %v, want draft value", got)
	}
	if got := ResolveValue(it, "color"); got != "green" {
		t.Errorf("color = %v, want draft value", got)
	}
	// Fields without a draft override resolve to the live value.
	if got := ResolveValue(it, "slug"); got != "hello" {
		t.Errorf("slug = %v, want live value", got)
	}
	if got := ResolveValue(it, "views"); got != float64(10) {
		t.Errorf("views = %v, want live value", got)
	}
}

func TestResolveValueDefaults(t *testing.T) {
	it := Item{ID: "item_1"}

	if got := ResolveValue(it, "title"); got != "" {
		t.Errorf("title default = %v, want empty string", got)
	}
	if got := ResolveValue(it, "seoDescription"); got != "" {
		t.Errorf("seoDescription default = %v, want empty string", got)
	}
	if got := ResolveValue(it, "nonexistent"); got != nil {
		t.Errorf("unknown field = %v, want nil", got)
	}
}

func TestResolveValueImpliedStatus(t *testing.T) {
	it := Item{ID: "item_1"}
	if got := ResolveValue(it, "status"); got != "draft" {
		t.Errorf("status without publishedAt = %v, want draft", got)
	}

	publishedAt := time.Now()
	it.PublishedAt = &publishedAt
	if got := ResolveValue(it, "status"); got != "published" {
		t.Errorf("status with publishedAt = %v, want published", got)
	}

	// An explicit status column wins over the implied one.
	it.Status = StatusDraft
	if got := ResolveValue(it, "status"); got != "draft" {
		t.Errorf("explicit status = %v, want draft", got)
	}
}

func TestResolveValueNilMaps(t *testing.T) {
	// Resolution must never panic on absent maps or overlays.
	it := Item{ID: "item_1", Draft: &Overlay{}}
	if got := ResolveValue(it, "anything"); got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestItemURL(t *testing.T) {
	cfg := testConfig()
	it := publishedItem("item_1")
	if got := cfg.ItemURL(it); got != "/blog/hello" {
		t.Errorf("ItemURL = %q", got)
	}

	// Draft slug edits show up in the preview URL.
	it.Draft = &Overlay{Slug: strptr("hello-v2")}
	if got := cfg.ItemURL(it); got != "/blog/hello-v2" {
		t.Errorf("ItemURL with draft slug = %q", got)
	}
}
