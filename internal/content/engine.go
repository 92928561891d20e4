package content

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
)

// TenantContext pins an engine to one site and collection; it is passed
// explicitly instead of living in ambient global state.
type TenantContext struct {
	SiteID     string
	Collection string
}

// Engine reconciles optimistic local edits with the authoritative store.
// Per item it runs a small state machine over {status} x {hasPending}:
// draft items save immediately and authoritatively, published items
// accumulate a draft overlay plus a pending patch until republish,
// clear-pending, or unpublish collapses the state.
type Engine struct {
	tenant    TenantContext
	config    CollectionConfig
	persister Persister
	gateway   *Gateway
	pending   *PendingStore
	logf      func(format string, args ...any)

	mu    sync.Mutex
	items map[string]Item
	// baseline keeps the last authoritative snapshot (live record, no
	// overlay) for items with pending edits; unpublish reverts to it.
	baseline map[string]Item
}

func NewEngine(tenant TenantContext, config CollectionConfig, persister Persister, gateway *Gateway) *Engine {
	return &Engine{
		tenant:    tenant,
		config:    config,
		persister: persister,
		gateway:   gateway,
		pending:   NewPendingStore(),
		logf:      log.Printf,
		items:     make(map[string]Item),
		baseline:  make(map[string]Item),
	}
}

func (e *Engine) Tenant() TenantContext { return e.tenant }

func (e *Engine) Pending() *PendingStore { return e.pending }

// Load seeds the engine with server items and reconstructs pending entries
// for any published item whose draft differs field-by-field from its live
// record. The diff is recomputed locally rather than trusted from the
// server, to tolerate drift.
func (e *Engine) Load(items []Item) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, raw := range items {
		it := raw.Clone()
		e.items[it.ID] = it
		if !it.Published() || it.Draft.Empty() {
			continue
		}

		live := it.Clone()
		live.Draft = nil
		found := false
		draft := it.Draft
		record := func(field string, value any, topLevel bool) {
			if valuesEqual(ResolveValue(live, field), value) {
				return
			}
			e.pending.RecordChange(it.ID, field, value, topLevel)
			found = true
		}
		if draft.Title != nil {
			record("title", *draft.Title, true)
		}
		if draft.Slug != nil {
			record("slug", *draft.Slug, true)
		}
		if draft.SeoTitle != nil {
			record("seoTitle", *draft.SeoTitle, true)
		}
		if draft.SeoDescription != nil {
			record("seoDescription", *draft.SeoDescription, true)
		}
		if draft.OGImage != nil {
			record("ogImage", *draft.OGImage, true)
		}
		for field, value := range draft.Data {
			record(field, value, false)
		}

		if found {
			e.baseline[it.ID] = live
		} else {
			// Stale server draft equal to the live record; display it as clean.
			it.Draft = nil
			e.items[it.ID] = it
		}
	}
}

// Upsert inserts or replaces one item snapshot (after external create).
func (e *Engine) Upsert(it Item) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.items[it.ID] = it.Clone()
}

func (e *Engine) Item(itemID string) (Item, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	it, ok := e.items[itemID]
	if !ok {
		return Item{}, false
	}
	return it.Clone(), true
}

// Items returns the current view sorted by ID.
func (e *Engine) Items() []Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Item, 0, len(e.items))
	for _, it := range e.items {
		out = append(out, it.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Resolve returns the effective display value of a field.
func (e *Engine) Resolve(itemID, field string) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	it, ok := e.items[itemID]
	if !ok {
		return nil, ErrUnknownItem
	}
	return ResolveValue(it, field), nil
}

// SetField is the single entry point for a user edit. Writing a value equal
// to the currently resolved value is a no-op: no state change and no
// network call, which keeps re-fired onChange handlers from looping.
func (e *Engine) SetField(ctx context.Context, itemID, field string, value any) (Item, error) {
	e.mu.Lock()
	it, ok := e.items[itemID]
	if !ok {
		e.mu.Unlock()
		return Item{}, ErrUnknownItem
	}

	if valuesEqual(ResolveValue(it, field), value) {
		e.mu.Unlock()
		return it.Clone(), nil
	}

	if fc, known := e.config.Field(field); known {
		if err := fc.Validate(value); err != nil {
			e.mu.Unlock()
			return Item{}, err
		}
	}

	if field == "status" {
		next, _ := value.(string)
		e.mu.Unlock()
		switch {
		case it.Published() && next == string(StatusDraft):
			// Not a normal field edit: unpublishing means "back to nothing
			// public", so outstanding unconfirmed edits are dropped.
			return e.Unpublish(ctx, itemID)
		case !it.Published() && next == string(StatusPublished):
			return e.Publish(ctx, itemID)
		default:
			return Item{}, &ValidationError{Field: "status", Reason: fmt.Sprintf("invalid status transition to %q", next)}
		}
	}

	if !it.Published() {
		return e.saveImmediateLocked(ctx, it, field, value)
	}

	// Published: optimistic overlay + pending entry + debounced draft write.
	if !e.pending.Has(itemID) {
		live := it.Clone()
		live.Draft = nil
		e.baseline[itemID] = live
	}
	applyDraftField(&it, field, value)
	e.items[itemID] = it
	e.pending.RecordChange(itemID, field, value, IsTopLevel(field))
	e.mu.Unlock()

	var patch Patch
	patch.Set(field, value, IsTopLevel(field))
	e.gateway.ScheduleAutosave(itemID, patch)
	return it.Clone(), nil
}

// saveImmediateLocked handles the draft-status path: the write is
// authoritative, so a failure rolls the optimistic mutation back and is
// surfaced to the caller. Entered with e.mu held; releases it.
func (e *Engine) saveImmediateLocked(ctx context.Context, it Item, field string, value any) (Item, error) {
	prev := it.Clone()
	applyField(&it, field, value)
	e.items[it.ID] = it
	e.mu.Unlock()

	var patch Patch
	patch.Set(field, value, IsTopLevel(field))
	updated, err := e.gateway.SaveImmediate(ctx, it.ID, patch)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.items[prev.ID] = prev
		return Item{}, fmt.Errorf("save %s: %w", field, err)
	}
	updated.Draft = nil
	e.items[updated.ID] = updated.Clone()
	return updated, nil
}

// Publish promotes a draft item: the full update snapshots the current
// fields as the authoritative published record.
func (e *Engine) Publish(ctx context.Context, itemID string) (Item, error) {
	e.mu.Lock()
	it, ok := e.items[itemID]
	if !ok {
		e.mu.Unlock()
		return Item{}, ErrUnknownItem
	}
	prev := it.Clone()
	e.mu.Unlock()

	var patch Patch
	patch.Set("status", string(StatusPublished), true)
	updated, err := e.persister.SaveItem(ctx, itemID, patch)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.items[prev.ID] = prev
		return Item{}, fmt.Errorf("publish %s: %w", itemID, err)
	}
	updated.Draft = nil
	e.items[updated.ID] = updated.Clone()
	return updated, nil
}

// Republish merges the pending patch into the authoritative record. On
// success the server's returned record (draft cleared) replaces local
// state; on failure the overlay and pending entry are kept so nothing is
// lost.
func (e *Engine) Republish(ctx context.Context, itemID string) (Item, error) {
	e.mu.Lock()
	it, ok := e.items[itemID]
	if !ok {
		e.mu.Unlock()
		return Item{}, ErrUnknownItem
	}
	patch, _ := e.pending.Changes(itemID)
	e.mu.Unlock()

	e.gateway.Cancel(itemID)

	full := patch.Clone()
	full.Set("status", string(StatusPublished), true)
	updated, err := e.persister.SaveItem(ctx, itemID, full)
	if err != nil {
		return it.Clone(), fmt.Errorf("republish %s: %w", itemID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	updated.Draft = nil
	e.items[updated.ID] = updated.Clone()
	e.pending.Clear(itemID)
	delete(e.baseline, itemID)
	return updated, nil
}

// ClearPending discards all unconfirmed edits: the server-side draft is
// deleted, the live record refetched, and local state replaced with it.
func (e *Engine) ClearPending(ctx context.Context, itemID string) (Item, error) {
	e.mu.Lock()
	if _, ok := e.items[itemID]; !ok {
		e.mu.Unlock()
		return Item{}, ErrUnknownItem
	}
	e.mu.Unlock()

	e.gateway.Cancel(itemID)
	if err := e.persister.DeleteDraft(ctx, itemID); err != nil {
		return Item{}, fmt.Errorf("delete draft %s: %w", itemID, err)
	}
	fresh, err := e.persister.FetchItem(ctx, itemID)
	if err != nil {
		return Item{}, fmt.Errorf("refetch %s: %w", itemID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	fresh.Draft = nil
	e.items[fresh.ID] = fresh.Clone()
	e.pending.Clear(itemID)
	delete(e.baseline, itemID)
	return fresh, nil
}

// Unpublish reverts the displayed item to its pre-edit authoritative
// snapshot, drops the pending entry, deletes the server draft and nulls
// publishedAt.
func (e *Engine) Unpublish(ctx context.Context, itemID string) (Item, error) {
	e.mu.Lock()
	it, ok := e.items[itemID]
	if !ok {
		e.mu.Unlock()
		return Item{}, ErrUnknownItem
	}
	base, hasBase := e.baseline[itemID]
	if !hasBase {
		base = it.Clone()
		base.Draft = nil
	}
	e.mu.Unlock()

	e.gateway.Cancel(itemID)
	if err := e.persister.DeleteDraft(ctx, itemID); err != nil {
		// The draft may never have been persisted; the unpublish still applies.
		e.logf("content: delete draft on unpublish %s: %v", itemID, err)
	}

	var patch Patch
	patch.Set("status", string(StatusDraft), true)
	patch.Set("publishedAt", nil, true)
	if _, err := e.persister.SaveItem(ctx, itemID, patch); err != nil {
		return it.Clone(), fmt.Errorf("unpublish %s: %w", itemID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	reverted := base.Clone()
	reverted.Status = StatusDraft
	reverted.PublishedAt = nil
	reverted.Draft = nil
	e.items[itemID] = reverted
	e.pending.Clear(itemID)
	delete(e.baseline, itemID)
	return reverted.Clone(), nil
}

// Delete removes the item and any pending entry.
func (e *Engine) Delete(ctx context.Context, itemID string) error {
	e.mu.Lock()
	if _, ok := e.items[itemID]; !ok {
		e.mu.Unlock()
		return ErrUnknownItem
	}
	e.mu.Unlock()

	e.gateway.Cancel(itemID)
	if err := e.persister.DeleteItem(ctx, itemID); err != nil {
		return fmt.Errorf("delete %s: %w", itemID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.items, itemID)
	delete(e.baseline, itemID)
	e.pending.Clear(itemID)
	return nil
}

func applyField(it *Item, field string, value any) {
	switch field {
	case "title":
		it.Title, _ = value.(string)
	case "slug":
		it.Slug, _ = value.(string)
	case "seoTitle":
		it.SeoTitle, _ = value.(string)
	case "seoDescription":
		it.SeoDescription, _ = value.(string)
	case "ogImage":
		it.OGImage, _ = value.(string)
	default:
		if it.Data == nil {
			it.Data = make(map[string]any)
		}
		it.Data[field] = value
	}
}

func applyDraftField(it *Item, field string, value any) {
	if it.Draft == nil {
		it.Draft = &Overlay{}
	}
	switch field {
	case "title":
		s, _ := value.(string)
		it.Draft.Title = &s
	case "slug":
		s, _ := value.(string)
		it.Draft.Slug = &s
	case "seoTitle":
		s, _ := value.(string)
		it.Draft.SeoTitle = &s
	case "seoDescription":
		s, _ := value.(string)
		it.Draft.SeoDescription = &s
	case "ogImage":
		s, _ := value.(string)
		it.Draft.OGImage = &s
	default:
		if it.Draft.Data == nil {
			it.Draft.Data = make(map[string]any)
		}
		it.Draft.Data[field] = value
	}
}

type viewSnapshot struct {
	ids      []string
	items    map[string]Item
	baseline map[string]Item
	patches  map[string]Patch
}

func (e *Engine) snapshotLocked(ids []string) viewSnapshot {
	snap := viewSnapshot{
		ids:      append([]string(nil), ids...),
		items:    make(map[string]Item, len(ids)),
		baseline: make(map[string]Item),
	}
	for _, id := range ids {
		if it, ok := e.items[id]; ok {
			snap.items[id] = it.Clone()
		}
		if base, ok := e.baseline[id]; ok {
			snap.baseline[id] = base.Clone()
		}
	}
	snap.patches = e.pending.snapshot(ids)
	return snap
}

func (e *Engine) restoreLocked(snap viewSnapshot) {
	for _, id := range snap.ids {
		if it, ok := snap.items[id]; ok {
			e.items[id] = it.Clone()
		} else {
			delete(e.items, id)
		}
		if base, ok := snap.baseline[id]; ok {
			e.baseline[id] = base.Clone()
		} else {
			delete(e.baseline, id)
		}
	}
	e.pending.restore(snap.ids, snap.patches)
}
