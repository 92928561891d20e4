package revisions

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestPublishHistoryLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	first := map[string]any{"title": "Hello", "slug": "hello", "status": "published"}
	commit, err := svc.CommitSnapshot("site_1", "posts", "item_1", first, "Avery", "")
	if err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}
	if commit.Hash == "" {
		t.Fatal("expected commit hash")
	}
	if commit.Message != "Publish posts/item_1" {
		t.Errorf("default message = %q", commit.Message)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "site_1")); err != nil {
		t.Fatalf("site repo missing: %v", err)
	}

	second := map[string]any{"title": "Hello world", "slug": "hello", "status": "published"}
	if _, err := svc.CommitSnapshot("site_1", "posts", "item_1", second, "Avery", "Republish after edit"); err != nil {
		t.Fatalf("CommitSnapshot() second error = %v", err)
	}

	history, err := svc.History("site_1", "posts", "item_1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history entries = %d, want 2", len(history))
	}
	if history[0].Message != "Republish after edit" {
		t.Errorf("newest commit = %q, want newest first", history[0].Message)
	}

	payload, err := svc.GetSnapshot("site_1", "posts", "item_1", history[1].Hash)
	if err != nil {
		t.Fatalf("GetSnapshot() error = %v", err)
	}
	if payload["title"] != "Hello" {
		t.Errorf("old snapshot title = %v, want the first published value", payload["title"])
	}
}

func TestHistoryIsPerItem(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if _, err := svc.CommitSnapshot("site_1", "posts", "item_1", map[string]any{"title": "A"}, "Avery", ""); err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}
	if _, err := svc.CommitSnapshot("site_1", "posts", "item_2", map[string]any{"title": "B"}, "Avery", ""); err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}

	history, err := svc.History("site_1", "posts", "item_1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history entries = %d, want only item_1's commit", len(history))
	}
}

func TestHistoryForUnpublishedItem(t *testing.T) {
	svc := New(t.TempDir())

	history, err := svc.History("site_1", "posts", "item_never", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 0 {
		t.Errorf("history entries = %d, want empty for a site with no repo", len(history))
	}
}

func TestSitesAreIsolated(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if _, err := svc.CommitSnapshot("site_1", "posts", "item_1", map[string]any{"title": "A"}, "Avery", ""); err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}

	history, err := svc.History("site_2", "posts", "item_1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 0 {
		t.Errorf("history entries = %d, sites must not share repos", len(history))
	}
}

func TestConcurrentPublishesSameSite(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	const writers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			payload := map[string]any{"title": fmt.Sprintf("title-%02d", idx)}
			itemID := fmt.Sprintf("item_%d", idx%2)
			if _, err := svc.CommitSnapshot("site_1", "posts", itemID, payload, "Avery", fmt.Sprintf("Publish %02d", idx)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("CommitSnapshot() concurrent error = %v", err)
		}
	}

	h1, err := svc.History("site_1", "posts", "item_0", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	h2, err := svc.History("site_1", "posts", "item_1", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(h1)+len(h2) < writers {
		t.Fatalf("total commits = %d, want at least %d", len(h1)+len(h2), writers)
	}
}
