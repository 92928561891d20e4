package content

import (
	"context"
	"fmt"
	"time"
)

// BatchEntry is one item's share of a batch request.
type BatchEntry struct {
	ItemID string `json:"itemId"`
	Patch  Patch  `json:"patch"`
}

// BatchPersister sends one request covering every entry. The endpoint has
// no per-item granularity: it either applies all entries or fails whole.
type BatchPersister interface {
	BatchUpdate(ctx context.Context, entries []BatchEntry) ([]Item, error)
}

// Coordinator fans a status transition or a combined save across the
// current view. On batch failure the entire optimistic update rolls back
// to the pre-batch snapshot and the caller surfaces a single notification.
type Coordinator struct {
	engine *Engine
	batch  BatchPersister
}

func NewCoordinator(engine *Engine, batch BatchPersister) *Coordinator {
	return &Coordinator{engine: engine, batch: batch}
}

// CommitPending republishes every item with a pending patch in one request.
// Outstanding autosaves for those items are canceled first so a late
// autosave cannot overwrite the just-published state.
func (c *Coordinator) CommitPending(ctx context.Context) ([]Item, error) {
	e := c.engine

	e.mu.Lock()
	ids := e.pending.ItemIDs()
	if len(ids) == 0 {
		e.mu.Unlock()
		return nil, nil
	}
	snap := e.snapshotLocked(ids)
	entries := make([]BatchEntry, 0, len(ids))
	for _, id := range ids {
		patch, _ := e.pending.Changes(id)
		patch.Set("status", string(StatusPublished), true)
		entries = append(entries, BatchEntry{ItemID: id, Patch: patch})
		// Optimistic: show the item as republished.
		if it, ok := e.items[id]; ok {
			e.items[id] = collapseDraft(it)
		}
		e.pending.Clear(id)
		delete(e.baseline, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		e.gateway.Cancel(id)
	}

	return c.send(ctx, snap, entries)
}

// PublishAll applies the published transition to every item in the view,
// folding in any pending patches.
func (c *Coordinator) PublishAll(ctx context.Context) ([]Item, error) {
	e := c.engine

	e.mu.Lock()
	ids := make([]string, 0, len(e.items))
	for id := range e.items {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		e.mu.Unlock()
		return nil, nil
	}
	snap := e.snapshotLocked(ids)
	now := time.Now()
	entries := make([]BatchEntry, 0, len(ids))
	for _, id := range ids {
		patch, _ := e.pending.Changes(id)
		patch.Set("status", string(StatusPublished), true)
		entries = append(entries, BatchEntry{ItemID: id, Patch: patch})
		if it, ok := e.items[id]; ok {
			it = collapseDraft(it)
			if it.PublishedAt == nil {
				t := now
				it.PublishedAt = &t
			}
			e.items[id] = it
		}
		e.pending.Clear(id)
		delete(e.baseline, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		e.gateway.Cancel(id)
	}

	return c.send(ctx, snap, entries)
}

// UnpublishAll reverts every item to draft. Pending edits are discarded,
// matching single-item unpublish semantics.
func (c *Coordinator) UnpublishAll(ctx context.Context) ([]Item, error) {
	e := c.engine

	e.mu.Lock()
	ids := make([]string, 0, len(e.items))
	for id := range e.items {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		e.mu.Unlock()
		return nil, nil
	}
	snap := e.snapshotLocked(ids)
	entries := make([]BatchEntry, 0, len(ids))
	for _, id := range ids {
		var patch Patch
		patch.Set("status", string(StatusDraft), true)
		patch.Set("publishedAt", nil, true)
		entries = append(entries, BatchEntry{ItemID: id, Patch: patch})
		if it, ok := e.items[id]; ok {
			base, hasBase := e.baseline[id]
			if !hasBase {
				base = it.Clone()
			}
			base.Draft = nil
			base.Status = StatusDraft
			base.PublishedAt = nil
			e.items[id] = base
		}
		e.pending.Clear(id)
		delete(e.baseline, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		e.gateway.Cancel(id)
	}

	return c.send(ctx, snap, entries)
}

func (c *Coordinator) send(ctx context.Context, snap viewSnapshot, entries []BatchEntry) ([]Item, error) {
	e := c.engine
	updated, err := c.batch.BatchUpdate(ctx, entries)
	if err != nil {
		e.mu.Lock()
		e.restoreLocked(snap)
		e.mu.Unlock()
		return nil, fmt.Errorf("batch update of %d items failed: %w", len(entries), err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Item, 0, len(updated))
	for _, it := range updated {
		it.Draft = nil
		e.items[it.ID] = it.Clone()
		out = append(out, it)
	}
	return out, nil
}

// collapseDraft folds the overlay into the item's live fields, the shape a
// successful republish would leave behind.
func collapseDraft(it Item) Item {
	out := it.Clone()
	draft := out.Draft
	out.Draft = nil
	if draft == nil {
		return out
	}
	if draft.Title != nil {
		out.Title = *draft.Title
	}
	if draft.Slug != nil {
		out.Slug = *draft.Slug
	}
	if draft.SeoTitle != nil {
		out.SeoTitle = *draft.SeoTitle
	}
	if draft.SeoDescription != nil {
		out.SeoDescription = *draft.SeoDescription
	}
	if draft.OGImage != nil {
		out.OGImage = *draft.OGImage
	}
	if len(draft.Data) > 0 && out.Data == nil {
		out.Data = make(map[string]any, len(draft.Data))
	}
	for k, v := range draft.Data {
		out.Data[k] = v
	}
	return out
}
