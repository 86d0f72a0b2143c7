package checkpoint

import (
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetJob(t *testing.T) {
	s := openTestStore(t)

	if err := s.CreateJob("job-1", "s3://bucket/docs/"); err != nil {
		t.Fatalf("creating job: %v", err)
	}

	j, err := s.GetJob("job-1")
	if err != nil {
		t.Fatalf("loading job: %v", err)
	}
	if j == nil {
		t.Fatal("job not found after create")
	}
	if j.Status != "running" || j.Source != "s3://bucket/docs/" {
		t.Fatalf("unexpected job: %+v", j)
	}
	if j.CreatedAt.IsZero() {
		t.Fatal("created_at not set")
	}
}

func TestGetJobMissing(t *testing.T) {
	s := openTestStore(t)

	j, err := s.GetJob("nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j != nil {
		t.Fatalf("got %+v, want nil for missing job", j)
	}
}

func TestSaveCursor(t *testing.T) {
	s := openTestStore(t)
	if err := s.CreateJob("job-1", "test"); err != nil {
		t.Fatal(err)
	}

	if err := s.SaveCursor("job-1", "token-42"); err != nil {
		t.Fatalf("saving cursor: %v", err)
	}
	j, err := s.GetJob("job-1")
	if err != nil {
		t.Fatal(err)
	}
	if j.Cursor != "token-42" {
		t.Fatalf("cursor = %q, want token-42", j.Cursor)
	}
}

func TestRecordOutcomeUpserts(t *testing.T) {
	s := openTestStore(t)
	if err := s.CreateJob("job-1", "test"); err != nil {
		t.Fatal(err)
	}

	if err := s.RecordOutcome("job-1", "item-a", "failed", "TransientNetwork", "timeout", 5); err != nil {
		t.Fatalf("recording outcome: %v", err)
	}
	// Second write for the same key replaces the first.
	if err := s.RecordOutcome("job-1", "item-a", "succeeded", "", "", 2); err != nil {
		t.Fatalf("re-recording outcome: %v", err)
	}

	keys, err := s.TerminalKeys("job-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || !keys["item-a"] {
		t.Fatalf("terminal keys = %v, want just item-a", keys)
	}
}

func TestTerminalKeysExcludeCancelled(t *testing.T) {
	s := openTestStore(t)
	if err := s.CreateJob("job-1", "test"); err != nil {
		t.Fatal(err)
	}

	outcomes := map[string]string{
		"a": "succeeded",
		"b": "retried",
		"c": "failed",
		"d": "cancelled",
	}
	for key, status := range outcomes {
		if err := s.RecordOutcome("job-1", key, status, "", "", 1); err != nil {
			t.Fatal(err)
		}
	}

	keys, err := s.TerminalKeys("job-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 3 {
		t.Fatalf("got %d terminal keys, want 3: %v", len(keys), keys)
	}
	if keys["d"] {
		t.Fatal("cancelled items must stay eligible for resume")
	}
}

func TestTerminalKeysScopedToJob(t *testing.T) {
	s := openTestStore(t)
	for _, id := range []string{"job-1", "job-2"} {
		if err := s.CreateJob(id, "test"); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.RecordOutcome("job-1", "shared-key", "succeeded", "", "", 1); err != nil {
		t.Fatal(err)
	}

	keys, err := s.TerminalKeys("job-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Fatalf("job-2 sees job-1's outcomes: %v", keys)
	}
}

func TestFinishJob(t *testing.T) {
	s := openTestStore(t)
	if err := s.CreateJob("job-1", "test"); err != nil {
		t.Fatal(err)
	}

	if err := s.FinishJob("job-1", "completed", `{"succeeded":3}`); err != nil {
		t.Fatalf("finishing job: %v", err)
	}
	j, err := s.GetJob("job-1")
	if err != nil {
		t.Fatal(err)
	}
	if j.Status != "completed" || j.ReportJSON != `{"succeeded":3}` {
		t.Fatalf("unexpected job: %+v", j)
	}
	if j.FinishedAt.IsZero() {
		t.Fatal("finished_at not set")
	}
}

func TestJobRecorderPersistsOutcomes(t *testing.T) {
	s := openTestStore(t)
	if err := s.CreateJob("job-1", "test"); err != nil {
		t.Fatal(err)
	}

	rec := s.ForJob("job-1")
	rec.Outcome("item-a", "succeeded", "", "", 1)
	rec.Cursor("page-2")

	keys, err := s.TerminalKeys("job-1")
	if err != nil {
		t.Fatal(err)
	}
	if !keys["item-a"] {
		t.Fatalf("outcome not persisted: %v", keys)
	}
	j, err := s.GetJob("job-1")
	if err != nil {
		t.Fatal(err)
	}
	if j.Cursor != "page-2" {
		t.Fatalf("cursor = %q, want page-2", j.Cursor)
	}
}
