package content

import (
	"errors"
	"fmt"
	"reflect"
	"time"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
)

var ErrUnknownItem = errors.New("unknown content item")

// ValidationError is a pre-network user error; the HTTP layer maps it to a
// 422 and it never reaches storage.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %s: %s", e.Field, e.Reason)
}

// Overlay holds edits made to a published item that have not been
// republished yet. Its shape mirrors the item's top-level fields plus a
// nested data overlay; nil pointers mean "not overridden".
type Overlay struct {
	Title          *string        `json:"title,omitempty"`
	Slug           *string        `json:"slug,omitempty"`
	SeoTitle       *string        `json:"seoTitle,omitempty"`
	SeoDescription *string        `json:"seoDescription,omitempty"`
	OGImage        *string        `json:"ogImage,omitempty"`
	Status         *string        `json:"status,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

func (o *Overlay) Empty() bool {
	if o == nil {
		return true
	}
	return o.Title == nil && o.Slug == nil && o.SeoTitle == nil &&
		o.SeoDescription == nil && o.OGImage == nil && o.Status == nil &&
		len(o.Data) == 0
}

func (o *Overlay) clone() *Overlay {
	if o == nil {
		return nil
	}
	out := &Overlay{
		Title:          clonePtr(o.Title),
		Slug:           clonePtr(o.Slug),
		SeoTitle:       clonePtr(o.SeoTitle),
		SeoDescription: clonePtr(o.SeoDescription),
		OGImage:        clonePtr(o.OGImage),
		Status:         clonePtr(o.Status),
	}
	if o.Data != nil {
		out.Data = make(map[string]any, len(o.Data))
		for k, v := range o.Data {
			out.Data[k] = v
		}
	}
	return out
}

// Item is one row of a collection. Data holds the custom fields; Draft is
// the unrepublished overlay and is only meaningful while the item is
// published (draft items save edits directly).
type Item struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Slug           string         `json:"slug"`
	SeoTitle       string         `json:"seoTitle,omitempty"`
	SeoDescription string         `json:"seoDescription,omitempty"`
	OGImage        string         `json:"ogImage,omitempty"`
	Status         Status         `json:"status"`
	PublishedAt    *time.Time     `json:"publishedAt,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	Draft          *Overlay       `json:"draft,omitempty"`
	UpdatedAt      time.Time      `json:"updatedAt,omitempty"`
}

func (it Item) Published() bool {
	return it.Status == StatusPublished
}

// Clone returns a deep copy so snapshots never alias live maps.
func (it Item) Clone() Item {
	out := it
	if it.Data != nil {
		out.Data = make(map[string]any, len(it.Data))
		for k, v := range it.Data {
			out.Data[k] = v
		}
	}
	out.Draft = it.Draft.clone()
	if it.PublishedAt != nil {
		t := *it.PublishedAt
		out.PublishedAt = &t
	}
	return out
}

var topLevelFields = map[string]struct{}{
	"title":          {},
	"slug":           {},
	"seoTitle":       {},
	"seoDescription": {},
	"ogImage":        {},
	"status":         {},
}

func IsTopLevel(field string) bool {
	_, ok := topLevelFields[field]
	return ok
}

// ResolveValue computes the effective display value of a field: the draft
// overlay wins while it exists, then the live value, then a typed empty
// default. It never panics; unknown fields resolve to nil.
func ResolveValue(it Item, field string) any {
	draft := it.Draft
	switch field {
	case "title":
		if draft != nil && draft.Title != nil {
			return *draft.Title
		}
		return it.Title
	case "slug":
		if draft != nil && draft.Slug != nil {
			return *draft.Slug
		}
		return it.Slug
	case "seoTitle":
		if draft != nil && draft.SeoTitle != nil {
			return *draft.SeoTitle
		}
		return it.SeoTitle
	case "seoDescription":
		if draft != nil && draft.SeoDescription != nil {
			return *draft.SeoDescription
		}
		return it.SeoDescription
	case "ogImage":
		if draft != nil && draft.OGImage != nil {
			return *draft.OGImage
		}
		return it.OGImage
	case "status":
		if draft != nil && draft.Status != nil {
			return *draft.Status
		}
		if it.Status != "" {
			return string(it.Status)
		}
		return string(impliedStatus(it))
	default:
		if draft != nil && draft.Data != nil {
			if value, ok := draft.Data[field]; ok {
				return value
			}
		}
		if it.Data != nil {
			if value, ok := it.Data[field]; ok {
				return value
			}
		}
		return nil
	}
}

// impliedStatus derives a status from publish history when the status
// column itself is unset.
func impliedStatus(it Item) Status {
	if it.PublishedAt != nil {
		return StatusPublished
	}
	return StatusDraft
}

// valuesEqual compares field values with numeric widening so a JSON float64
// and a Go int holding the same number count as equal.
func valuesEqual(a, b any) bool {
	if an, ok := asNumber(a); ok {
		if bn, ok := asNumber(b); ok {
			return an == bn
		}
		return false
	}
	if a == nil && b == nil {
		return true
	}
	return reflect.DeepEqual(a, b)
}

func clonePtr(p *string) *string {
	if p == nil {
		return nil
	}
	s := *p
	return &s
}
