package history

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/javanstorm/vmxfer/internal/transfer"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreRecordsTransitions(t *testing.T) {
	store := openTestStore(t)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	status := transfer.Status{
		ID:          "t1",
		Direction:   transfer.DirectionExport,
		Source:      "web",
		Destination: "/exports",
		State:       transfer.StatePreflight,
		Tracking:    "unknown",
		StartedAt:   started,
	}
	if err := store.Record(status); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	status.State = transfer.StateRunningJobTracked
	status.Tracking = "tracked"
	status.JobID = "job-1"
	status.Percent = 45
	if err := store.Record(status); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	rec, err := store.Get("t1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.State != "RunningJobTracked" || rec.JobID != "job-1" || rec.Percent != 45 {
		t.Errorf("record = %+v", rec)
	}
	if rec.Finished() {
		t.Error("running transfer reported as finished")
	}

	status.State = transfer.StateFailed
	status.Failure = &transfer.Error{Kind: transfer.KindJob, Detail: "Error"}
	status.FinishedAt = started.Add(time.Minute)
	if err := store.Record(status); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	rec, err = store.Get("t1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !rec.Finished() || rec.OutcomeKind != "JobError" || rec.Detail != "JobError: Error" {
		t.Errorf("record = %+v", rec)
	}
}

func TestStoreGetMissing(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
}

func TestStoreListNewestFirst(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		rec := &Record{ID: id, State: "Succeeded", StartedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := store.Save(rec); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	recs, err := store.List(0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	var ids []string
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	if len(ids) != 3 || ids[0] != "c" || ids[2] != "a" {
		t.Errorf("List order = %v, want [c b a]", ids)
	}

	recs, err = store.List(2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("List(2) returned %d records", len(recs))
	}
}

func TestStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Save(&Record{ID: "t1", State: "Succeeded", OutcomeKind: "Success"}); err != nil {
		t.Fatal(err)
	}
	store.Close()

	store, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	rec, err := store.Get("t1")
	if err != nil || rec.OutcomeKind != "Success" {
		t.Errorf("Get after reopen = %+v, %v", rec, err)
	}
}

func TestFromStatusSuccess(t *testing.T) {
	rec := FromStatus(transfer.Status{ID: "t1", State: transfer.StateSucceeded, Percent: 100})
	if rec.OutcomeKind != "Success" || rec.Detail != "" || rec.State != "Succeeded" {
		t.Errorf("FromStatus = %+v", rec)
	}
}
