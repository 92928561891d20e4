package content

import (
	"context"
	"errors"
	"sync"
	"time"
)

// manualScheduler queues tasks without timers so tests control exactly when
// a debounced write fires.
type manualScheduler struct {
	mu    sync.Mutex
	tasks map[string]func()
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{tasks: make(map[string]func())}
}

func (s *manualScheduler) Schedule(key string, _ time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[key] = fn
}

func (s *manualScheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	delete(s.tasks, key)
	return ok
}

func (s *manualScheduler) Flush(key string) bool {
	s.mu.Lock()
	fn, ok := s.tasks[key]
	delete(s.tasks, key)
	s.mu.Unlock()
	if ok {
		fn()
	}
	return ok
}

func (s *manualScheduler) fireAll() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.tasks))
	for key, fn := range s.tasks {
		fns = append(fns, fn)
		delete(s.tasks, key)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (s *manualScheduler) queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// fakePersister records calls and serves canned items.
type fakePersister struct {
	mu           sync.Mutex
	items        map[string]Item
	saveItemErr  error
	saveDraftErr error
	batchErr     error
	// saveDraftHook runs mid-save, before the call returns; lets tests
	// interleave an edit with an in-flight autosave.
	saveDraftHook func()

	savedItems   []BatchEntry
	savedDrafts  []BatchEntry
	draftDeletes []string
	itemDeletes  []string
	batchCalls   [][]BatchEntry
}

func newFakePersister(items ...Item) *fakePersister {
	f := &fakePersister{items: make(map[string]Item)}
	for _, it := range items {
		f.items[it.ID] = it.Clone()
	}
	return f
}

func (f *fakePersister) SaveItem(_ context.Context, itemID string, patch Patch) (Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveItemErr != nil {
		return Item{}, f.saveItemErr
	}
	it, ok := f.items[itemID]
	if !ok {
		return Item{}, errors.New("no such item")
	}
	it = applyPatchToItem(it, patch)
	it.Draft = nil
	f.items[itemID] = it
	f.savedItems = append(f.savedItems, BatchEntry{ItemID: itemID, Patch: patch.Clone()})
	return it.Clone(), nil
}

func (f *fakePersister) SaveDraft(_ context.Context, itemID string, patch Patch) error {
	if f.saveDraftHook != nil {
		f.saveDraftHook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.savedDrafts = append(f.savedDrafts, BatchEntry{ItemID: itemID, Patch: patch.Clone()})
	if f.saveDraftErr != nil {
		return f.saveDraftErr
	}
	return nil
}

func (f *fakePersister) DeleteDraft(_ context.Context, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.draftDeletes = append(f.draftDeletes, itemID)
	if it, ok := f.items[itemID]; ok {
		it.Draft = nil
		f.items[itemID] = it
	}
	return nil
}

func (f *fakePersister) FetchItem(_ context.Context, itemID string) (Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[itemID]
	if !ok {
		return Item{}, errors.New("no such item")
	}
	return it.Clone(), nil
}

func (f *fakePersister) DeleteItem(_ context.Context, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, itemID)
	f.itemDeletes = append(f.itemDeletes, itemID)
	return nil
}

func (f *fakePersister) BatchUpdate(_ context.Context, entries []BatchEntry) ([]Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls = append(f.batchCalls, entries)
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	out := make([]Item, 0, len(entries))
	for _, entry := range entries {
		it, ok := f.items[entry.ItemID]
		if !ok {
			return nil, errors.New("no such item in batch")
		}
		it = applyPatchToItem(it, entry.Patch)
		it.Draft = nil
		f.items[entry.ItemID] = it
		out = append(out, it.Clone())
	}
	return out, nil
}

func (f *fakePersister) draftSaveCount(itemID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, entry := range f.savedDrafts {
		if entry.ItemID == itemID {
			count++
		}
	}
	return count
}

// applyPatchToItem mimics the server merging a partial patch into the
// authoritative record.
func applyPatchToItem(it Item, patch Patch) Item {
	out := it.Clone()
	for field, value := range patch.Fields {
		switch field {
		case "status":
			s, _ := value.(string)
			out.Status = Status(s)
			if out.Status == StatusPublished && out.PublishedAt == nil {
				t := time.Now()
				out.PublishedAt = &t
			}
		case "publishedAt":
			if value == nil {
				out.PublishedAt = nil
			}
		default:
			applyField(&out, field, value)
		}
	}
	for field, value := range patch.Data {
		applyField(&out, field, value)
	}
	out.UpdatedAt = time.Now()
	return out
}

func strptr(s string) *string { return &s }

func testConfig() CollectionConfig {
	cfg, err := NewCollectionConfig("posts", "Posts", "/blog/{slug}", []FieldConfig{
		{Name: "color", Label: "Color", Type: FieldText},
		{Name: "views", Label: "Views", Type: FieldNumber},
		{Name: "featured", Label: "Featured", Type: FieldBoolean},
		{Name: "category", Label: "Category", Type: FieldSelect, Options: []string{"news", "guide"}},
	})
	if err != nil {
		panic(err)
	}
	return cfg
}

func newTestEngine(persister *fakePersister, items ...Item) (*Engine, *manualScheduler) {
	sched := newManualScheduler()
	gateway := NewGateway(persister, sched, time.Second)
	gateway.SetLogf(func(string, ...any) {})
	engine := NewEngine(TenantContext{SiteID: "site_1", Collection: "posts"}, testConfig(), persister, gateway)
	engine.Load(items)
	return engine, sched
}

func publishedItem(id string) Item {
	publishedAt := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	return Item{
		ID:          id,
		Title:       "Hello",
		Slug:        "hello",
		Status:      StatusPublished,
		PublishedAt: &publishedAt,
		Data:        map[string]any{"color": "blue", "views": float64(10)},
	}
}

func draftItem(id string) Item {
	return Item{
		ID:     id,
		Title:  "Draft post",
		Slug:   "draft-post",
		Status: StatusDraft,
		Data:   map[string]any{"color": "red"},
	}
}
