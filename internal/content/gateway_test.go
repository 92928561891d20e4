package content

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAutosaveCoalescesRapidEdits(t *testing.T) {
	persister := newFakePersister(publishedItem("item_1"))
	sched := newManualScheduler()
	g := NewGateway(persister, sched, time.Second)
	g.SetLogf(func(string, ...any) {})

	// Three rapid edits to the same field inside the quiet window.
	var p1, p2, p3 Patch
	p1.Set("title", "H", true)
	p2.Set("title", "He", true)
	p3.Set("title", "Hello world", true)
	g.ScheduleAutosave("item_1", p1)
	g.ScheduleAutosave("item_1", p2)
	g.ScheduleAutosave("item_1", p3)

	if sched.queued() != 1 {
		t.Fatalf("queued tasks = %d, want 1", sched.queued())
	}
	sched.fireAll()

	if n := persister.draftSaveCount("item_1"); n != 1 {
		t.Fatalf("draft saves = %d, want 1", n)
	}
	saved := persister.savedDrafts[0]
	if saved.Patch.Fields["title"] != "Hello world" {
		t.Errorf("autosaved title = %v, want final value", saved.Patch.Fields["title"])
	}
}

func TestAutosaveMergesAcrossFields(t *testing.T) {
	persister := newFakePersister(publishedItem("item_1"))
	sched := newManualScheduler()
	g := NewGateway(persister, sched, time.Second)

	var p1, p2 Patch
	p1.Set("title", "A", true)
	p2.Set("color", "green", false)
	g.ScheduleAutosave("item_1", p1)
	g.ScheduleAutosave("item_1", p2)
	sched.fireAll()

	if n := persister.draftSaveCount("item_1"); n != 1 {
		t.Fatalf("draft saves = %d, want 1", n)
	}
	saved := persister.savedDrafts[0]
	if saved.Patch.Fields["title"] != "A" || saved.Patch.Data["color"] != "green" {
		t.Errorf("merged patch = %+v", saved.Patch)
	}
}

func TestAutosaveErrorKeepsQueue(t *testing.T) {
	persister := newFakePersister(publishedItem("item_1"))
	persister.saveDraftErr = errors.New("store down")
	sched := newManualScheduler()
	g := NewGateway(persister, sched, time.Second)
	var logged bool
	g.SetLogf(func(string, ...any) { logged = true })

	var p Patch
	p.Set("title", "A", true)
	g.ScheduleAutosave("item_1", p)
	sched.fireAll()

	if !logged {
		t.Error("failed autosave should be logged")
	}

	// Queue survives the failure; the next flush retries with the value.
	persister.saveDraftErr = nil
	g.ScheduleAutosave("item_1", Patch{})
	sched.fireAll()
	if n := persister.draftSaveCount("item_1"); n != 2 {
		t.Fatalf("draft saves = %d, want 2", n)
	}
	if persister.savedDrafts[1].Patch.Fields["title"] != "A" {
		t.Error("retried autosave lost the queued value")
	}
}

func TestAutosaveSeqGuard(t *testing.T) {
	persister := newFakePersister(publishedItem("item_1"))
	sched := newManualScheduler()
	g := NewGateway(persister, sched, time.Second)

	// An edit landing while the flush is on the wire must not be dropped
	// when the flush completes.
	interleaved := false
	persister.saveDraftHook = func() {
		if interleaved {
			return
		}
		interleaved = true
		var p2 Patch
		p2.Set("title", "B", true)
		g.ScheduleAutosave("item_1", p2)
	}

	var p1 Patch
	p1.Set("title", "A", true)
	g.ScheduleAutosave("item_1", p1)
	sched.Flush(autosaveKey("item_1"))

	g.mu.Lock()
	queued, stillQueued := g.queued["item_1"]
	g.mu.Unlock()
	if !stillQueued {
		t.Fatal("newer edit cleared by an older in-flight flush")
	}
	if queued.Fields["title"] != "B" {
		t.Errorf("queued title = %v, want the newer value", queued.Fields["title"])
	}
}

func TestCancelDropsQueuedAutosave(t *testing.T) {
	persister := newFakePersister(publishedItem("item_1"))
	sched := newManualScheduler()
	g := NewGateway(persister, sched, time.Second)

	var p Patch
	p.Set("title", "A", true)
	g.ScheduleAutosave("item_1", p)
	if !g.Cancel("item_1") {
		t.Fatal("Cancel should report a dropped task")
	}
	sched.fireAll()

	if n := persister.draftSaveCount("item_1"); n != 0 {
		t.Errorf("draft saves after cancel = %d, want 0", n)
	}
}

func TestFlushRunsQueuedAutosaveNow(t *testing.T) {
	persister := newFakePersister(publishedItem("item_1"))
	sched := newManualScheduler()
	g := NewGateway(persister, sched, time.Second)

	var p Patch
	p.Set("title", "A", true)
	g.ScheduleAutosave("item_1", p)
	if !g.Flush("item_1") {
		t.Fatal("Flush should report a queued task")
	}
	if n := persister.draftSaveCount("item_1"); n != 1 {
		t.Errorf("draft saves = %d, want 1", n)
	}
}

func TestSaveImmediatePassesThrough(t *testing.T) {
	persister := newFakePersister(draftItem("item_1"))
	sched := newManualScheduler()
	g := NewGateway(persister, sched, time.Second)

	var p Patch
	p.Set("title", "New title", true)
	updated, err := g.SaveImmediate(context.Background(), "item_1", p)
	if err != nil {
		t.Fatalf("SaveImmediate: %v", err)
	}
	if updated.Title != "New title" {
		t.Errorf("title = %q", updated.Title)
	}
	if sched.queued() != 0 {
		t.Error("immediate save must not queue a task")
	}
}
