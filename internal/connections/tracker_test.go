package connections

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// testClock lets tests move the tracker's notion of now.
type testClock struct {
	current time.Time
}

func (c *testClock) now() time.Time { return c.current }

func (c *testClock) advance(d time.Duration) { c.current = c.current.Add(d) }

func setupTracker(t *testing.T) (*Tracker, *testClock) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	tracker := NewTracker(client)
	clock := &testClock{current: time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)}
	tracker.now = clock.now
	return tracker, clock
}

func TestTrackAndActive(t *testing.T) {
	tracker, _ := setupTracker(t)
	ctx := context.Background()

	err := tracker.Track(ctx, Connection{
		SiteID:    "site_1",
		ClientID:  "client_a",
		UserAgent: "Mozilla/5.0",
		Page:      "/pricing",
	})
	if err != nil {
		t.Fatalf("Track: %v", err)
	}

	conns, err := tracker.Active(ctx, "site_1", 5*time.Minute)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if len(conns) != 1 {
		t.Fatalf("active = %d, want 1", len(conns))
	}
	c := conns[0]
	if c.ClientID != "client_a" || c.Page != "/pricing" || c.UserAgent != "Mozilla/5.0" {
		t.Errorf("connection = %+v", c)
	}
	if c.ConnectedAt.IsZero() || c.LastSeenAt.IsZero() {
		t.Error("timestamps should be stamped on track")
	}
}

func TestTrackRequiresIDs(t *testing.T) {
	tracker, _ := setupTracker(t)
	if err := tracker.Track(context.Background(), Connection{SiteID: "site_1"}); err == nil {
		t.Error("expected an error without a client id")
	}
	if err := tracker.Track(context.Background(), Connection{ClientID: "c"}); err == nil {
		t.Error("expected an error without a site id")
	}
}

func TestHeartbeatRefreshesLastSeen(t *testing.T) {
	tracker, clock := setupTracker(t)
	ctx := context.Background()

	if err := tracker.Track(ctx, Connection{SiteID: "site_1", ClientID: "client_a"}); err != nil {
		t.Fatalf("Track: %v", err)
	}
	before, _ := tracker.Active(ctx, "site_1", time.Minute)

	clock.advance(30 * time.Second)
	if err := tracker.Heartbeat(ctx, "site_1", "client_a"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	after, _ := tracker.Active(ctx, "site_1", time.Minute)
	if len(after) != 1 {
		t.Fatalf("active = %d, want 1", len(after))
	}
	if !after[0].LastSeenAt.After(before[0].LastSeenAt) {
		t.Error("heartbeat should advance last seen")
	}
	if !after[0].ConnectedAt.Equal(before[0].ConnectedAt) {
		t.Error("heartbeat must not rewrite connected at")
	}
}

func TestHeartbeatUnknownClientRegisters(t *testing.T) {
	tracker, _ := setupTracker(t)
	ctx := context.Background()

	if err := tracker.Heartbeat(ctx, "site_1", "ghost"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	conns, err := tracker.Active(ctx, "site_1", time.Minute)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if len(conns) != 1 || conns[0].ClientID != "ghost" {
		t.Errorf("conns = %+v", conns)
	}
}

func TestActiveWindowExcludesStale(t *testing.T) {
	tracker, clock := setupTracker(t)
	ctx := context.Background()

	if err := tracker.Track(ctx, Connection{SiteID: "site_1", ClientID: "old"}); err != nil {
		t.Fatalf("Track: %v", err)
	}
	clock.advance(10 * time.Minute)
	if err := tracker.Track(ctx, Connection{SiteID: "site_1", ClientID: "fresh"}); err != nil {
		t.Fatalf("Track: %v", err)
	}

	conns, err := tracker.Active(ctx, "site_1", 5*time.Minute)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if len(conns) != 1 || conns[0].ClientID != "fresh" {
		t.Errorf("active = %+v, want only the fresh connection", conns)
	}
}

func TestRecentOrdersByLastSeen(t *testing.T) {
	tracker, clock := setupTracker(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := tracker.Track(ctx, Connection{SiteID: "site_1", ClientID: id}); err != nil {
			t.Fatalf("Track %s: %v", id, err)
		}
		clock.advance(time.Second)
	}

	conns, err := tracker.Recent(ctx, "site_1", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(conns) != 2 {
		t.Fatalf("recent = %d, want 2", len(conns))
	}
	if conns[0].ClientID != "c" || conns[1].ClientID != "b" {
		t.Errorf("order = %s, %s", conns[0].ClientID, conns[1].ClientID)
	}
}

func TestCleanupDropsStale(t *testing.T) {
	tracker, clock := setupTracker(t)
	ctx := context.Background()

	if err := tracker.Track(ctx, Connection{SiteID: "site_1", ClientID: "old"}); err != nil {
		t.Fatalf("Track: %v", err)
	}
	clock.advance(2 * time.Hour)
	if err := tracker.Track(ctx, Connection{SiteID: "site_1", ClientID: "fresh"}); err != nil {
		t.Fatalf("Track: %v", err)
	}

	removed, err := tracker.Cleanup(ctx, "site_1", time.Hour)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	stats, err := tracker.SiteStats(ctx, "site_1")
	if err != nil {
		t.Fatalf("SiteStats: %v", err)
	}
	if stats.Total != 1 || stats.Active != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestDisconnect(t *testing.T) {
	tracker, _ := setupTracker(t)
	ctx := context.Background()

	if err := tracker.Track(ctx, Connection{SiteID: "site_1", ClientID: "a"}); err != nil {
		t.Fatalf("Track: %v", err)
	}
	if err := tracker.Disconnect(ctx, "site_1", "a"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	conns, err := tracker.Active(ctx, "site_1", time.Minute)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if len(conns) != 0 {
		t.Errorf("active = %d, want 0", len(conns))
	}
}

func TestSitesAreIsolated(t *testing.T) {
	tracker, _ := setupTracker(t)
	ctx := context.Background()

	if err := tracker.Track(ctx, Connection{SiteID: "site_1", ClientID: "a"}); err != nil {
		t.Fatalf("Track: %v", err)
	}
	if err := tracker.Track(ctx, Connection{SiteID: "site_2", ClientID: "b"}); err != nil {
		t.Fatalf("Track: %v", err)
	}

	conns, err := tracker.Active(ctx, "site_1", time.Minute)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if len(conns) != 1 || conns[0].ClientID != "a" {
		t.Errorf("site_1 sees %+v", conns)
	}
}
