package healthcheck

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nholik/watchdog-bridge/internal/calendar"
	"github.com/nholik/watchdog-bridge/internal/syncer"
)

func intradayReport(finished time.Time) syncer.RunReport {
	return syncer.RunReport{
		Worker:     syncer.WorkerIntraday,
		Outcome:    syncer.OutcomeSuccess,
		StartedAt:  finished.Add(-150 * time.Millisecond),
		FinishedAt: finished,
		Dates:      []syncer.DateResult{{Date: calendar.Date{Year: 2025, Month: 10, Day: 15}, Action: syncer.ActionUploaded}},
	}
}

func TestHealthHandlerHealthy(t *testing.T) {
	tracker := NewTracker()
	tracker.RecordRun(intradayReport(time.Now().UTC()))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler := HealthHandler(tracker, 5*time.Second)
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.LastIntradayRun == nil {
		t.Fatalf("expected last intraday run to be set")
	}
	status, ok := payload.Workers["intraday"]
	if !ok {
		t.Fatalf("expected intraday worker status, got %+v", payload.Workers)
	}
	if status.DurationMS != 150 || status.Dates != 1 || status.Outcome != "success" {
		t.Fatalf("unexpected worker status: %+v", status)
	}
}

func TestHealthHandlerUnhealthyWhenStale(t *testing.T) {
	tracker := NewTracker()
	tracker.RecordRun(intradayReport(time.Now().Add(-10 * time.Second)))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler := HealthHandler(tracker, 3*time.Second)
	handler(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestHealthHandlerIgnoresOtherWorkers(t *testing.T) {
	tracker := NewTracker()
	tracker.RecordRun(syncer.RunReport{Worker: syncer.WorkerDaily, Outcome: syncer.OutcomeSuccess, FinishedAt: time.Now()})

	rec := httptest.NewRecorder()
	HealthHandler(tracker, time.Hour)(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without an intraday run, got %d", rec.Code)
	}
	if !tracker.Ready() {
		t.Fatalf("any finished run should mark the tracker ready")
	}
}

func TestSeedLastIntradayRun(t *testing.T) {
	tracker := NewTracker()
	tracker.SeedLastIntradayRun(time.Now().Add(-time.Minute))

	if !tracker.Healthy(time.Now(), time.Hour) {
		t.Fatalf("expected seeded run to count toward liveness")
	}
	if tracker.Ready() {
		t.Fatalf("seeding must not mark the tracker ready")
	}
}

func TestReadyHandler(t *testing.T) {
	tracker := NewTracker()

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	handler := ReadyHandler(tracker)
	handler(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before ready, got %d", rec.Code)
	}

	tracker.RecordRun(intradayReport(time.Now()))
	rec = httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after ready, got %d", rec.Code)
	}
}

func TestHealthyWithoutIntradayFollowsReadiness(t *testing.T) {
	tracker := NewTracker()
	if tracker.Healthy(time.Now(), 0) {
		t.Fatalf("expected unhealthy before any run")
	}
	tracker.RecordRun(syncer.RunReport{Worker: syncer.WorkerDaily, Outcome: syncer.OutcomeSuccess, FinishedAt: time.Now()})
	if !tracker.Healthy(time.Now(), 0) {
		t.Fatalf("expected healthy once a daily run finished with intraday disabled")
	}
}
