package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kevbot123/spool-sub000/internal/content"
	"github.com/kevbot123/spool-sub000/internal/store"
)

// itemStore is the slice of the data store the persister needs.
type itemStore interface {
	GetItem(ctx context.Context, siteID, itemID string) (store.ContentItem, error)
	UpdateItem(ctx context.Context, item store.ContentItem) error
	SaveItemDraft(ctx context.Context, siteID, itemID string, draft map[string]any) error
	DeleteItemDraft(ctx context.Context, siteID, itemID string) error
	DeleteItem(ctx context.Context, siteID, itemID string) error
	BatchUpdateItems(ctx context.Context, items []store.ContentItem) error
}

// storePersister binds one (site, collection) pair to the content package's
// storage boundary. Updates are fetch-merge-write: the stored row is read,
// the patch folded in, and the whole row written back, so the returned item
// is always the full authoritative record.
type storePersister struct {
	store        itemStore
	siteID       string
	collectionID string
}

func (p *storePersister) SaveItem(ctx context.Context, itemID string, patch content.Patch) (content.Item, error) {
	rec, err := p.fetch(ctx, itemID)
	if err != nil {
		return content.Item{}, err
	}
	if err := applyPatchToRecord(&rec, patch); err != nil {
		return content.Item{}, err
	}
	// A successful authoritative write supersedes any stored draft overlay.
	rec.Draft = nil
	if err := p.store.UpdateItem(ctx, rec); err != nil {
		return content.Item{}, fmt.Errorf("update item %s: %w", itemID, err)
	}
	return itemFromRecord(rec), nil
}

func (p *storePersister) SaveDraft(ctx context.Context, itemID string, patch content.Patch) error {
	rec, err := p.fetch(ctx, itemID)
	if err != nil {
		return err
	}
	draft := rec.Draft
	if draft == nil {
		draft = make(map[string]any)
	}
	for field, value := range patch.Fields {
		draft[field] = value
	}
	if len(patch.Data) > 0 {
		sub, _ := draft["data"].(map[string]any)
		if sub == nil {
			sub = make(map[string]any, len(patch.Data))
		}
		for field, value := range patch.Data {
			sub[field] = value
		}
		draft["data"] = sub
	}
	if err := p.store.SaveItemDraft(ctx, p.siteID, itemID, draft); err != nil {
		return fmt.Errorf("save draft %s: %w", itemID, err)
	}
	return nil
}

func (p *storePersister) DeleteDraft(ctx context.Context, itemID string) error {
	return p.store.DeleteItemDraft(ctx, p.siteID, itemID)
}

func (p *storePersister) FetchItem(ctx context.Context, itemID string) (content.Item, error) {
	rec, err := p.fetch(ctx, itemID)
	if err != nil {
		return content.Item{}, err
	}
	return itemFromRecord(rec), nil
}

func (p *storePersister) DeleteItem(ctx context.Context, itemID string) error {
	return p.store.DeleteItem(ctx, p.siteID, itemID)
}

// BatchUpdate applies every entry or none: rows are merged in memory first
// and handed to the store's single-transaction batch write.
func (p *storePersister) BatchUpdate(ctx context.Context, entries []content.BatchEntry) ([]content.Item, error) {
	recs := make([]store.ContentItem, 0, len(entries))
	for _, entry := range entries {
		rec, err := p.fetch(ctx, entry.ItemID)
		if err != nil {
			return nil, err
		}
		if err := applyPatchToRecord(&rec, entry.Patch); err != nil {
			return nil, err
		}
		rec.Draft = nil
		recs = append(recs, rec)
	}
	if err := p.store.BatchUpdateItems(ctx, recs); err != nil {
		return nil, fmt.Errorf("batch update: %w", err)
	}
	items := make([]content.Item, 0, len(recs))
	for _, rec := range recs {
		items = append(items, itemFromRecord(rec))
	}
	return items, nil
}

func (p *storePersister) fetch(ctx context.Context, itemID string) (store.ContentItem, error) {
	rec, err := p.store.GetItem(ctx, p.siteID, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ContentItem{}, content.ErrUnknownItem
	}
	if err != nil {
		return store.ContentItem{}, fmt.Errorf("fetch item %s: %w", itemID, err)
	}
	return rec, nil
}

// applyPatchToRecord folds a patch into a stored row. Publishing stamps
// publishedAt on the first transition only; an explicit nil publishedAt in
// the patch clears it.
func applyPatchToRecord(rec *store.ContentItem, patch content.Patch) error {
	for field, value := range patch.Fields {
		switch field {
		case "title":
			rec.Title = stringValue(value)
		case "slug":
			rec.Slug = stringValue(value)
		case "seoTitle":
			rec.SeoTitle = stringValue(value)
		case "seoDescription":
			rec.SeoDescription = stringValue(value)
		case "ogImage":
			rec.OGImage = stringValue(value)
		case "status":
			status := stringValue(value)
			if status == string(content.StatusPublished) && rec.PublishedAt == nil {
				now := time.Now().UTC()
				rec.PublishedAt = &now
			}
			rec.Status = status
		case "publishedAt":
			t, err := timeValue(value)
			if err != nil {
				return &content.ValidationError{Field: "publishedAt", Reason: err.Error()}
			}
			rec.PublishedAt = t
		default:
			return &content.ValidationError{Field: field, Reason: "unknown top-level field"}
		}
	}
	if len(patch.Data) > 0 {
		if rec.Data == nil {
			rec.Data = make(map[string]any, len(patch.Data))
		}
		for field, value := range patch.Data {
			if value == nil {
				delete(rec.Data, field)
				continue
			}
			rec.Data[field] = value
		}
	}
	return nil
}

func stringValue(value any) string {
	s, _ := value.(string)
	return s
}

func timeValue(value any) (*time.Time, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case time.Time:
		t := v
		return &t, nil
	case *time.Time:
		return v, nil
	case string:
		if v == "" {
			return nil, nil
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("must be an RFC 3339 timestamp")
		}
		return &t, nil
	default:
		return nil, fmt.Errorf("must be an RFC 3339 timestamp or null")
	}
}

// itemFromRecord converts a stored row into the engine's item shape. The
// stored draft JSON mirrors the overlay, so a marshal round trip is the
// conversion.
func itemFromRecord(rec store.ContentItem) content.Item {
	it := content.Item{
		ID:             rec.ID,
		Title:          rec.Title,
		Slug:           rec.Slug,
		SeoTitle:       rec.SeoTitle,
		SeoDescription: rec.SeoDescription,
		OGImage:        rec.OGImage,
		Status:         content.Status(rec.Status),
		PublishedAt:    rec.PublishedAt,
		UpdatedAt:      rec.UpdatedAt,
		Draft:          overlayFromMap(rec.Draft),
	}
	if it.Status == "" {
		it.Status = content.StatusDraft
	}
	if rec.Data != nil {
		it.Data = make(map[string]any, len(rec.Data))
		for k, v := range rec.Data {
			it.Data[k] = v
		}
	}
	return it
}

func overlayFromMap(m map[string]any) *content.Overlay {
	if len(m) == 0 {
		return nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	var o content.Overlay
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil
	}
	if o.Empty() {
		return nil
	}
	return &o
}
