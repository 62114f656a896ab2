package storage

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) == 0 {
		t.Fatal("no migrations applied")
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations out of order: %v", versions)
		}
	}
}

func TestCacheEntryRoundTrip(t *testing.T) {
	s := openTestStore(t)

	entry := CacheEntry{
		ContentHash: "abc123",
		Score:       -2,
		Explanation: "Grace dominates.",
		KeyPhrases:  `["saved by grace"]`,
		Model:       "gpt-4o-mini",
		CreatedAt:   time.Now(),
	}
	if err := s.SaveCacheEntry(entry); err != nil {
		t.Fatalf("SaveCacheEntry: %v", err)
	}

	got, err := s.GetCacheEntry("abc123")
	if err != nil {
		t.Fatalf("GetCacheEntry: %v", err)
	}
	if got.Score != -2 || got.Explanation != "Grace dominates." || got.Model != "gpt-4o-mini" {
		t.Errorf("got %+v", got)
	}
	if got.KeyPhrases != `["saved by grace"]` {
		t.Errorf("KeyPhrases = %q", got.KeyPhrases)
	}

	if _, err := s.GetCacheEntry("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetCacheEntry(missing) = %v, want ErrNotFound", err)
	}
}

func TestSaveCacheEntry_ConflictReplaces(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveCacheEntry(CacheEntry{ContentHash: "h", Score: 1, Model: "m"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveCacheEntry(CacheEntry{ContentHash: "h", Score: -1, Model: "m"}); err != nil {
		t.Fatalf("conflicting save failed: %v", err)
	}

	got, err := s.GetCacheEntry("h")
	if err != nil {
		t.Fatal(err)
	}
	if got.Score != -1 {
		t.Errorf("Score = %d, want newest value -1", got.Score)
	}

	entries, err := s.LoadCacheEntries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("got %d entries, want 1", len(entries))
	}
}

func TestLoadCacheEntries(t *testing.T) {
	s := openTestStore(t)

	for _, hash := range []string{"h1", "h2", "h3"} {
		if err := s.SaveCacheEntry(CacheEntry{ContentHash: hash, Score: 0, Model: "m"}); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := s.LoadCacheEntries()
	if err != nil {
		t.Fatalf("LoadCacheEntries: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("got %d entries, want 3", len(entries))
	}
}

func TestBatchJobLifecycle(t *testing.T) {
	s := openTestStore(t)

	job := BatchJob{
		ID:           "job-1",
		Status:       "created",
		RequestCount: 42,
	}
	if err := s.SaveBatchJob(job); err != nil {
		t.Fatalf("SaveBatchJob: %v", err)
	}

	if err := s.UpdateBatchJob("job-1", "submitted", "batch_xyz", ""); err != nil {
		t.Fatalf("UpdateBatchJob: %v", err)
	}

	got, err := s.GetBatchJob("job-1")
	if err != nil {
		t.Fatalf("GetBatchJob: %v", err)
	}
	if got.Status != "submitted" || got.ProviderID != "batch_xyz" || got.RequestCount != 42 {
		t.Errorf("got %+v", got)
	}

	// Empty provider ID must not clobber the stored one.
	if err := s.UpdateBatchJob("job-1", "completed", "", ""); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetBatchJob("job-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ProviderID != "batch_xyz" {
		t.Errorf("ProviderID = %q after empty update", got.ProviderID)
	}
	if got.Status != "completed" {
		t.Errorf("Status = %q", got.Status)
	}
}

func TestUpdateBatchJob_NotFound(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpdateBatchJob("missing", "failed", "", "boom"); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateBatchJob(missing) = %v, want ErrNotFound", err)
	}
}

func TestListBatchJobs(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		job := BatchJob{ID: id, Status: "created", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.SaveBatchJob(job); err != nil {
			t.Fatal(err)
		}
	}

	jobs, err := s.ListBatchJobs()
	if err != nil {
		t.Fatalf("ListBatchJobs: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("got %d jobs, want 3", len(jobs))
	}
	if jobs[0].ID != "c" {
		t.Errorf("newest first: got %s", jobs[0].ID)
	}
}
