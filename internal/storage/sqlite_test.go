package storage

import (
	"bytes"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
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

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
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
	if len(versions) < 2 {
		t.Fatalf("expected at least two applied migrations, got %v", versions)
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_jobs_status_run_after", "idx_images_record_id"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

func TestKVRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if _, ok, err := s.Get("cory_account"); err != nil || ok {
		t.Fatalf("Get on empty store = ok %v, err %v; want absent", ok, err)
	}

	if err := s.Set("cory_account", `{"a":1}`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("cory_account", `{"a":2}`); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}

	v, ok, err := s.Get("cory_account")
	if err != nil || !ok {
		t.Fatalf("Get = ok %v, err %v", ok, err)
	}
	if v != `{"a":2}` {
		t.Errorf("value = %q, want overwritten payload", v)
	}

	if err := s.Delete("cory_account"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get("cory_account"); ok {
		t.Error("key still present after Delete")
	}
}

func TestMemoryKV(t *testing.T) {
	m := NewMemoryKV()
	if err := m.Set("k", "v"); err != nil {
		t.Fatal(err)
	}
	if v, ok, _ := m.Get("k"); !ok || v != "v" {
		t.Errorf("Get = %q, %v", v, ok)
	}
	m.Delete("k")
	if _, ok, _ := m.Get("k"); ok {
		t.Error("key still present after Delete")
	}
}

func TestImageRoundTrip(t *testing.T) {
	s := openTestStore(t)

	data := []byte{0x89, 'P', 'N', 'G', 1, 2, 3}
	img := Image{ID: "img-1", RecordID: "cory-1", MIMEType: "image/png", Data: data}
	if err := s.SaveImage(img); err != nil {
		t.Fatalf("SaveImage: %v", err)
	}

	got, err := s.GetImage("img-1")
	if err != nil {
		t.Fatalf("GetImage: %v", err)
	}
	if !bytes.Equal(got.Data, data) {
		t.Errorf("data mismatch")
	}
	if got.MIMEType != "image/png" || got.RecordID != "cory-1" {
		t.Errorf("got %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	if _, err := s.GetImage("missing"); err != ErrNotFound {
		t.Errorf("GetImage(missing) err = %v, want ErrNotFound", err)
	}

	n, err := s.DeleteImagesForRecord("cory-1")
	if err != nil || n != 1 {
		t.Fatalf("DeleteImagesForRecord = %d, %v", n, err)
	}
}

func TestPurge(t *testing.T) {
	s := openTestStore(t)

	s.Set("k", "v")
	s.SaveImage(Image{ID: "i", MIMEType: "image/png", Data: []byte{1}})
	s.EnqueueJob(Job{ID: "j", Type: "t", PayloadJSON: "{}"})

	if err := s.Purge(); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if _, ok, _ := s.Get("k"); ok {
		t.Error("kv not purged")
	}
	if _, err := s.GetImage("i"); err != ErrNotFound {
		t.Error("image not purged")
	}
	if _, err := s.GetJob("j"); err != ErrNotFound {
		t.Error("job not purged")
	}
}

func TestJobLifecycle(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "job-1", Type: "synthesize_art", PayloadJSON: `{"x":1}`, MaxAttempts: 2}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	if j, err := s.ClaimNextJob([]string{"other"}); err != nil || j != nil {
		t.Fatalf("claim of other type = %v, %v; want nil", j, err)
	}

	j, err := s.ClaimNextJob([]string{"synthesize_art"})
	if err != nil || j == nil {
		t.Fatalf("ClaimNextJob = %v, %v", j, err)
	}
	if j.Status != JobRunning || j.PayloadJSON != `{"x":1}` {
		t.Errorf("claimed job = %+v", j)
	}

	// Nothing left to claim while running.
	if again, _ := s.ClaimNextJob([]string{"synthesize_art"}); again != nil {
		t.Errorf("claimed a running job twice")
	}

	final, err := s.FailJob("job-1", "boom", true)
	if err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if final {
		t.Error("first failure should be retried")
	}
	got, _ := s.GetJob("job-1")
	if got.Status != JobPending || got.Attempts != 1 || got.LastError != "boom" {
		t.Errorf("after retryable failure job = %+v", got)
	}
	if !got.RunAfter.After(time.Now().Add(-time.Second)) {
		t.Errorf("run_after not pushed into the future: %v", got.RunAfter)
	}

	final, err = s.FailJob("job-1", "boom again", true)
	if err != nil || !final {
		t.Fatalf("second FailJob = %v, %v; want final", final, err)
	}
	n, _ := s.CountJobs(JobFailed)
	if n != 1 {
		t.Errorf("failed jobs = %d, want 1", n)
	}
}

func TestRequeueRunningJobs_AfterRestart(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.EnqueueJob(Job{ID: "job-1", Type: "synthesize_art", PayloadJSON: "{}"})
	s.EnqueueJob(Job{ID: "job-2", Type: "other", PayloadJSON: "{}"})
	if j, err := s.ClaimNextJob([]string{"synthesize_art"}); err != nil || j == nil {
		t.Fatalf("ClaimNextJob = %v, %v", j, err)
	}
	if j, err := s.ClaimNextJob([]string{"other"}); err != nil || j == nil {
		t.Fatalf("ClaimNextJob(other) = %v, %v", j, err)
	}
	s.Close()

	s, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	if j, _ := s.ClaimNextJob([]string{"synthesize_art"}); j != nil {
		t.Fatalf("claimed a running job before requeue")
	}
	n, err := s.RequeueRunningJobs([]string{"synthesize_art"})
	if err != nil || n != 1 {
		t.Fatalf("RequeueRunningJobs = %d, %v; want 1", n, err)
	}
	j, err := s.ClaimNextJob([]string{"synthesize_art"})
	if err != nil || j == nil || j.ID != "job-1" {
		t.Fatalf("claim after requeue = %v, %v; want job-1", j, err)
	}
	if other, _ := s.GetJob("job-2"); other.Status != JobRunning {
		t.Errorf("job of another type status = %q, want running", other.Status)
	}
	if n, _ := s.RequeueRunningJobs(nil); n != 0 {
		t.Errorf("RequeueRunningJobs(nil) = %d, want 0", n)
	}
}

func TestFailJob_NoRetry(t *testing.T) {
	s := openTestStore(t)
	s.EnqueueJob(Job{ID: "job-1", Type: "t", PayloadJSON: "{}"})

	final, err := s.FailJob("job-1", "unconfigured", false)
	if err != nil || !final {
		t.Fatalf("FailJob = %v, %v; want final", final, err)
	}
	if _, err := s.FailJob("missing", "x", true); err != ErrNotFound {
		t.Errorf("FailJob(missing) err = %v", err)
	}
}

func TestCompleteJob(t *testing.T) {
	s := openTestStore(t)
	s.EnqueueJob(Job{ID: "job-1", Type: "t", PayloadJSON: "{}"})

	if err := s.CompleteJob("job-1"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	if err := s.CompleteJob("missing"); err != ErrNotFound {
		t.Errorf("CompleteJob(missing) err = %v", err)
	}
	n, _ := s.CountJobs(JobCompleted)
	if n != 1 {
		t.Errorf("completed jobs = %d", n)
	}
}
