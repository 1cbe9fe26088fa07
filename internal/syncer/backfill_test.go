package syncer

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestBackfillWorker_InclusiveRange(t *testing.T) {
	h := newHarness(t)
	for _, date := range []string{"2025-10-01", "2025-10-02", "2025-10-03"} {
		h.source.set(date, `{"Steps":[{"count":10}]}`)
	}

	worker, err := NewBackfillWorker(h.engine, mustDate(t, "2025-10-01"), mustDate(t, "2025-10-03"), 250*time.Millisecond)
	if err != nil {
		t.Fatalf("new backfill: %v", err)
	}
	report := worker.Run(context.Background())
	if report.Outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %s (%v)", report.Outcome, report.Err)
	}

	uploads := h.ingest.received()
	if len(uploads) != 3 {
		t.Fatalf("expected 3 uploads, got %d", len(uploads))
	}
	want := []string{"2025-10-01", "2025-10-02", "2025-10-03"}
	for i, u := range uploads {
		if u.Payload.Date.String() != want[i] || u.Path != "/v1/ingest/daily" {
			t.Fatalf("upload %d: unexpected %s %s", i, u.Path, u.Payload.Date)
		}
	}
	if len(h.sleeps) != 2 || h.sleeps[0] != 250*time.Millisecond {
		t.Fatalf("expected a delay between each date, got %v", h.sleeps)
	}
}

func TestBackfillWorker_SingleDay(t *testing.T) {
	h := newHarness(t)
	h.source.set("2025-09-30", `{"Steps":[{"count":10}]}`)

	worker, err := NewBackfillWorker(h.engine, mustDate(t, "2025-09-30"), mustDate(t, "2025-09-30"), time.Second)
	if err != nil {
		t.Fatalf("new backfill: %v", err)
	}
	worker.Run(context.Background())

	if len(h.ingest.received()) != 1 {
		t.Fatalf("expected one upload, got %d", len(h.ingest.received()))
	}
	if len(h.sleeps) != 0 {
		t.Fatalf("expected no delay for a single date, got %v", h.sleeps)
	}
}

func TestBackfillWorker_RejectsReversedRange(t *testing.T) {
	h := newHarness(t)
	if _, err := NewBackfillWorker(h.engine, mustDate(t, "2025-10-03"), mustDate(t, "2025-10-01"), 0); err == nil {
		t.Fatal("expected error for start after end")
	}
}

func TestBackfillWorker_SingleFlight(t *testing.T) {
	h := newHarness(t)
	worker, err := NewBackfillWorker(h.engine, mustDate(t, "2025-10-01"), mustDate(t, "2025-10-02"), 0)
	if err != nil {
		t.Fatalf("new backfill: %v", err)
	}

	h.engine.backfill.Store(true)
	report := worker.Run(context.Background())
	if !errors.Is(report.Err, ErrBackfillRunning) {
		t.Fatalf("expected ErrBackfillRunning, got %v", report.Err)
	}
	if len(h.source.captured()) != 0 {
		t.Fatal("rejected backfill must not capture")
	}

	h.engine.backfill.Store(false)
	report = worker.Run(context.Background())
	if report.Err != nil {
		t.Fatalf("expected backfill to run, got %v", report.Err)
	}
	if h.engine.BackfillRunning() {
		t.Fatal("expected flag released after run")
	}
}

func TestBackfillWorker_FailuresAreIsolated(t *testing.T) {
	h := newHarness(t)
	for _, date := range []string{"2025-10-01", "2025-10-02", "2025-10-03"} {
		h.source.set(date, `{"Steps":[{"count":10}]}`)
	}
	h.ingest.setStatus("2025-10-02", http.StatusTooManyRequests)

	worker, _ := NewBackfillWorker(h.engine, mustDate(t, "2025-10-01"), mustDate(t, "2025-10-03"), 0)
	report := worker.Run(context.Background())

	if report.Outcome != OutcomeSuccess || report.Count(ActionUploaded) != 2 {
		t.Fatalf("unexpected report: %s %+v", report.Outcome, report.Dates)
	}
	if state := h.state(t, "2025-10-02"); state.LastError != "HTTP 429" {
		t.Fatalf("unexpected failure row: %+v", state)
	}
}

func TestBackfillWorker_ReserveHoldsSlotUntilRun(t *testing.T) {
	h := newHarness(t)
	h.source.set("2025-10-01", `{"Steps":[{"count":10}]}`)

	first, _ := NewBackfillWorker(h.engine, mustDate(t, "2025-10-01"), mustDate(t, "2025-10-01"), 0)
	second, _ := NewBackfillWorker(h.engine, mustDate(t, "2025-10-01"), mustDate(t, "2025-10-01"), 0)

	if err := first.Reserve(); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := second.Reserve(); !errors.Is(err, ErrBackfillRunning) {
		t.Fatalf("expected ErrBackfillRunning, got %v", err)
	}
	if !h.engine.BackfillRunning() {
		t.Fatal("expected slot held after reserve")
	}

	report := first.Run(context.Background())
	if report.Err != nil || report.Count(ActionUploaded) != 1 {
		t.Fatalf("reserved worker must run, got %s %v", report.Outcome, report.Err)
	}
	if h.engine.BackfillRunning() {
		t.Fatal("expected slot released after run")
	}
	if err := second.Reserve(); err != nil {
		t.Fatalf("expected slot free after run, got %v", err)
	}
}
