package syncer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nholik/watchdog-bridge/internal/calendar"
	"github.com/nholik/watchdog-bridge/internal/healthsource"
	"github.com/nholik/watchdog-bridge/internal/ingest"
	"github.com/nholik/watchdog-bridge/internal/payload"
	"github.com/nholik/watchdog-bridge/internal/syncstate"
	"github.com/rs/zerolog"
)

const testAPIKey = "test-key"

type fakeSource struct {
	mu       sync.Mutex
	denied   bool
	raw      map[string]string
	errs     map[string]error
	captures []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{raw: map[string]string{}, errs: map[string]error{}}
}

func (f *fakeSource) Permissions() []healthsource.Permission {
	return []healthsource.Permission{healthsource.PermissionReadHistory}
}

func (f *fakeSource) HasPermission(context.Context, []healthsource.Permission) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.denied, nil
}

func (f *fakeSource) RequestPermission(context.Context, []healthsource.Permission) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.denied = false
	return true, nil
}

func (f *fakeSource) CaptureSnapshot(_ context.Context, start, _ time.Time) (healthsource.Capture, error) {
	key := calendar.Of(start).String()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures = append(f.captures, key)
	if err := f.errs[key]; err != nil {
		return healthsource.Capture{}, err
	}
	raw, ok := f.raw[key]
	if !ok {
		raw = "{}"
	}
	return healthsource.Capture{Snapshot: payload.RawSnapshot([]byte(raw))}, nil
}

func (f *fakeSource) set(date, raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw[date] = raw
}

func (f *fakeSource) captured() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.captures...)
}

type fakeSettings struct {
	mu      sync.Mutex
	lastRun time.Time
}

func (f *fakeSettings) DeviceID(context.Context) (string, error) {
	return "device-1", nil
}

func (f *fakeSettings) SetLastIntradayRun(_ context.Context, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRun = at
	return nil
}

func (f *fakeSettings) LastIntradayRun(context.Context) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastRun, nil
}

type upload struct {
	Path    string
	Payload payload.IngestPayload
}

type ingestServer struct {
	mu       sync.Mutex
	status   map[string]int
	uploads  []upload
	server   *httptest.Server
	badAuths int
}

func newIngestServer(t *testing.T) *ingestServer {
	t.Helper()
	s := &ingestServer{status: map[string]int{}}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		p, err := payload.Unmarshal(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		if r.Header.Get("X-API-Key") != testAPIKey {
			s.badAuths++
		}
		s.uploads = append(s.uploads, upload{Path: r.URL.Path, Payload: p})
		code := s.status[p.Date.String()]
		s.mu.Unlock()

		if code != 0 && code != http.StatusOK {
			http.Error(w, "boom", code)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "inserted": true})
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *ingestServer) setStatus(date string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[date] = code
}

func (s *ingestServer) received() []upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]upload(nil), s.uploads...)
}

type harness struct {
	engine   *Engine
	store    *syncstate.MemoryStore
	source   *fakeSource
	ingest   *ingestServer
	settings *fakeSettings
	mu       sync.Mutex
	now      time.Time
	sleeps   []time.Duration
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    syncstate.NewMemoryStore(),
		source:   newFakeSource(),
		ingest:   newIngestServer(t),
		settings: &fakeSettings{},
		now:      time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC),
	}
	h.engine = h.newEngine(t, h.ingest.server.URL)
	return h
}

func (h *harness) newEngine(t *testing.T, ingestURL string) *Engine {
	t.Helper()
	client, err := ingest.NewClient(zerolog.Nop(), ingestURL, testAPIKey, ingest.WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("new ingest client: %v", err)
	}
	return New(zerolog.Nop(), h.store, h.source, client, h.settings,
		WithLocation(time.UTC),
		WithClock(h.clock),
		WithSleep(func(_ context.Context, d time.Duration) bool {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.sleeps = append(h.sleeps, d)
			return true
		}),
	)
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(d)
}

func (h *harness) state(t *testing.T, date string) syncstate.SyncState {
	t.Helper()
	state, found, err := h.store.Get(context.Background(), date)
	if err != nil {
		t.Fatalf("get %s: %v", date, err)
	}
	if !found {
		t.Fatalf("expected sync state for %s", date)
	}
	return state
}

func mustDate(t *testing.T, value string) calendar.Date {
	t.Helper()
	d, err := calendar.Parse(value)
	if err != nil {
		t.Fatalf("parse date: %v", err)
	}
	return d
}
