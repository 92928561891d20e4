package training

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kevbot123/spool-sub000/internal/store"
)

type fakeSourceStore struct {
	sources  map[string]store.TrainingSource
	inserted []store.TrainingSource
}

func newFakeSourceStore() *fakeSourceStore {
	return &fakeSourceStore{sources: make(map[string]store.TrainingSource)}
}

func (f *fakeSourceStore) InsertTrainingSource(_ context.Context, src store.TrainingSource) error {
	f.sources[src.ID] = src
	f.inserted = append(f.inserted, src)
	return nil
}

func (f *fakeSourceStore) GetTrainingSource(_ context.Context, siteID, sourceID string) (store.TrainingSource, error) {
	src, ok := f.sources[sourceID]
	if !ok || src.SiteID != siteID {
		return store.TrainingSource{}, errors.New("no such source")
	}
	return src, nil
}

func (f *fakeSourceStore) ListTrainingSources(_ context.Context, siteID string) ([]store.TrainingSource, error) {
	out := make([]store.TrainingSource, 0)
	for _, src := range f.sources {
		if src.SiteID == siteID {
			out = append(out, src)
		}
	}
	return out, nil
}

func (f *fakeSourceStore) DeleteTrainingSource(_ context.Context, siteID, sourceID string) error {
	delete(f.sources, sourceID)
	return nil
}

func (f *fakeSourceStore) TrainingUsage(_ context.Context, siteID string) (int64, error) {
	var sum int64
	for _, src := range f.sources {
		if src.SiteID == siteID {
			sum += src.SizeBytes
		}
	}
	return sum, nil
}

func TestAddComputesSizeAndPersists(t *testing.T) {
	fs := newFakeSourceStore()
	svc := NewService(fs)

	src, err := svc.Add(context.Background(), "free", store.TrainingSource{
		SiteID:  "site_1",
		Type:    TypeText,
		Title:   "FAQ",
		Content: "How do I reset my password?",
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	want := int64(len("FAQ") + len("How do I reset my password?"))
	if src.SizeBytes != want {
		t.Errorf("size = %d, want %d", src.SizeBytes, want)
	}
	if src.ID == "" || !strings.HasPrefix(src.ID, "src") {
		t.Errorf("id = %q", src.ID)
	}
	if src.Status != "ready" {
		t.Errorf("status = %q", src.Status)
	}
	if len(fs.inserted) != 1 {
		t.Fatalf("inserted = %d, want 1", len(fs.inserted))
	}
}

func TestAddRejectsOverQuotaWithoutPersisting(t *testing.T) {
	fs := newFakeSourceStore()
	svc := NewService(fs)
	ctx := context.Background()

	// Fill most of the free tier.
	fs.sources["existing"] = store.TrainingSource{ID: "existing", SiteID: "site_1", Type: TypeText, SizeBytes: 399_990}

	_, err := svc.Add(ctx, "free", store.TrainingSource{
		SiteID:  "site_1",
		Type:    TypeText,
		Content: strings.Repeat("x", 100),
	})
	var qerr *QuotaExceededError
	if !errors.As(err, &qerr) {
		t.Fatalf("err = %v, want QuotaExceededError", err)
	}
	if qerr.CurrentUsage != 399_990 || qerr.Limit != 400_000 || qerr.Remaining != 10 || qerr.Attempted != 100 {
		t.Errorf("quota details = %+v", qerr)
	}
	if len(fs.inserted) != 0 {
		t.Error("no record may be written when the quota check fails")
	}
}

func TestAddRemainingNeverNegative(t *testing.T) {
	fs := newFakeSourceStore()
	svc := NewService(fs)

	fs.sources["big"] = store.TrainingSource{ID: "big", SiteID: "site_1", Type: TypeText, SizeBytes: 500_000}

	_, err := svc.Add(context.Background(), "free", store.TrainingSource{
		SiteID:  "site_1",
		Type:    TypeText,
		Content: "more",
	})
	var qerr *QuotaExceededError
	if !errors.As(err, &qerr) {
		t.Fatalf("err = %v, want QuotaExceededError", err)
	}
	if qerr.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", qerr.Remaining)
	}
}

func TestAddHigherPlanAllowsMore(t *testing.T) {
	fs := newFakeSourceStore()
	svc := NewService(fs)

	fs.sources["existing"] = store.TrainingSource{ID: "existing", SiteID: "site_1", Type: TypeText, SizeBytes: 399_990}

	if _, err := svc.Add(context.Background(), "starter", store.TrainingSource{
		SiteID:  "site_1",
		Type:    TypeText,
		Content: strings.Repeat("x", 100),
	}); err != nil {
		t.Fatalf("starter plan should fit: %v", err)
	}
}

func TestAddRejectsInvalidType(t *testing.T) {
	svc := NewService(newFakeSourceStore())
	_, err := svc.Add(context.Background(), "free", store.TrainingSource{SiteID: "site_1", Type: "podcast"})
	if err == nil {
		t.Error("expected an error for an unknown source type")
	}
}

func TestFileSourceCountsObjectSize(t *testing.T) {
	fs := newFakeSourceStore()
	svc := NewService(fs)

	src, err := svc.Add(context.Background(), "free", store.TrainingSource{
		SiteID:    "site_1",
		Type:      TypeFile,
		ObjectKey: "site_1/upload.pdf",
		SizeBytes: 12_345,
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if src.SizeBytes != 12_345 {
		t.Errorf("size = %d, want the object size", src.SizeBytes)
	}
	if src.Title != "site_1/upload.pdf" {
		t.Errorf("title = %q, want defaulted from the object key", src.Title)
	}
}

func TestUsage(t *testing.T) {
	fs := newFakeSourceStore()
	svc := NewService(fs)
	fs.sources["a"] = store.TrainingSource{ID: "a", SiteID: "site_1", SizeBytes: 100}
	fs.sources["b"] = store.TrainingSource{ID: "b", SiteID: "site_2", SizeBytes: 999}

	used, limit, err := svc.Usage(context.Background(), "site_1", "pro")
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if used != 100 {
		t.Errorf("used = %d, want 100 (other sites excluded)", used)
	}
	if limit != 50_000_000 {
		t.Errorf("limit = %d", limit)
	}
}

func TestPlanLimitUnknownPlanFallsBack(t *testing.T) {
	if PlanLimit("enterprise-custom") != PlanLimit("free") {
		t.Error("unknown plans should get the free tier limit")
	}
}
