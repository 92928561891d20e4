package content

import (
	"context"
	"log"
	"sync"
	"time"
)

// Persister is the storage boundary of the reconciliation module: the
// authoritative record update (returning the full record), the draft
// overlay endpoints, and fetch/delete.
type Persister interface {
	SaveItem(ctx context.Context, itemID string, patch Patch) (Item, error)
	SaveDraft(ctx context.Context, itemID string, patch Patch) error
	DeleteDraft(ctx context.Context, itemID string) error
	FetchItem(ctx context.Context, itemID string) (Item, error)
	DeleteItem(ctx context.Context, itemID string) error
}

// Gateway batches and rate-limits outbound writes. Autosaves for the same
// item within the quiet window coalesce into one request carrying the
// latest merged patch; immediate saves pass straight through.
type Gateway struct {
	persister Persister
	scheduler Scheduler
	quiet     time.Duration
	logf      func(format string, args ...any)

	mu     sync.Mutex
	queued map[string]Patch
	// seq guards last-write-wins: an in-flight autosave only clears the
	// queue if no newer edit arrived while it was on the wire.
	seq map[string]uint64
}

func NewGateway(persister Persister, scheduler Scheduler, quiet time.Duration) *Gateway {
	return &Gateway{
		persister: persister,
		scheduler: scheduler,
		quiet:     quiet,
		logf:      log.Printf,
		queued:    make(map[string]Patch),
		seq:       make(map[string]uint64),
	}
}

func autosaveKey(itemID string) string {
	return "autosave:" + itemID
}

// ScheduleAutosave queues a draft write for a published item. Errors are
// logged, not surfaced: the change stays safely in the pending store and
// retries implicitly on the next edit or explicit save.
func (g *Gateway) ScheduleAutosave(itemID string, patch Patch) {
	g.mu.Lock()
	merged := g.queued[itemID]
	merged.Merge(patch)
	g.queued[itemID] = merged
	g.seq[itemID]++
	g.mu.Unlock()

	g.scheduler.Schedule(autosaveKey(itemID), g.quiet, func() {
		g.flushAutosave(itemID)
	})
}

func (g *Gateway) flushAutosave(itemID string) {
	g.mu.Lock()
	patch, ok := g.queued[itemID]
	seq := g.seq[itemID]
	g.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := g.persister.SaveDraft(ctx, itemID, patch); err != nil {
		g.logf("content: draft autosave %s failed (change kept pending): %v", itemID, err)
		return
	}

	g.mu.Lock()
	if g.seq[itemID] == seq {
		delete(g.queued, itemID)
	}
	g.mu.Unlock()
}

// SaveImmediate writes authoritatively with no coalescing; used for
// unpublished items where every field commit is the real write.
func (g *Gateway) SaveImmediate(ctx context.Context, itemID string, patch Patch) (Item, error) {
	return g.persister.SaveItem(ctx, itemID, patch)
}

// Cancel synchronously drops any queued autosave for the item so a stale
// write cannot race a superseding batch save.
func (g *Gateway) Cancel(itemID string) bool {
	g.mu.Lock()
	delete(g.queued, itemID)
	g.seq[itemID]++
	g.mu.Unlock()
	return g.scheduler.Cancel(autosaveKey(itemID))
}

// Flush forces a queued autosave to run now.
func (g *Gateway) Flush(itemID string) bool {
	return g.scheduler.Flush(autosaveKey(itemID))
}

// SetLogf overrides the diagnostic logger (tests).
func (g *Gateway) SetLogf(logf func(format string, args ...any)) {
	g.logf = logf
}
