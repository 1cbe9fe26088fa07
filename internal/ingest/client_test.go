package ingest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nholik/watchdog-bridge/internal/calendar"
	"github.com/nholik/watchdog-bridge/internal/payload"
	"github.com/rs/zerolog"
)

func testPayload() payload.IngestPayload {
	return payload.New(
		calendar.Date{Year: 2025, Month: time.October, Day: 14},
		payload.RawSnapshot([]byte(`{"Steps":[{"count":1200}]}`)),
		payload.Source{SourceApp: "health_connect", DeviceID: "device-1", CollectedAt: time.Unix(1760400000, 0).UTC()},
	)
}

func newTestClient(t *testing.T, url string, opts ...Option) *Client {
	t.Helper()
	client, err := NewClient(zerolog.Nop(), url, "secret", opts...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewClientValidation(t *testing.T) {
	cases := []struct {
		name string
		url  string
		key  string
	}{
		{name: "missing scheme", url: "ingest.example.com", key: "k"},
		{name: "empty url", url: "", key: "k"},
		{name: "empty key", url: "https://ingest.example.com", key: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewClient(zerolog.Nop(), tc.url, tc.key); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestPostRoutesAndAuthenticates(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		body, _ := io.ReadAll(r.Body)
		p, err := payload.Unmarshal(body)
		if err != nil {
			t.Errorf("decode upload: %v", err)
		}
		if p.Date.String() != "2025-10-14" || p.Source.DeviceID != "device-1" {
			t.Errorf("unexpected payload: %+v", p)
		}
		paths = append(paths, r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"ok","inserted":true,"id":"abc"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL+"/")
	posts := []func(context.Context, payload.IngestPayload) (Result, error){
		client.PostDaily, client.PostIntraday, client.PostDebug,
	}
	for _, post := range posts {
		result, err := post(context.Background(), testPayload())
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		if !result.Success || result.StatusCode != http.StatusOK {
			t.Fatalf("unexpected result: %+v", result)
		}
		if result.Response == nil || result.Response.Status != "ok" || result.Response.Inserted == nil || !*result.Response.Inserted {
			t.Fatalf("unexpected ack: %+v", result.Response)
		}
		if result.Response.ID == nil || *result.Response.ID != "abc" {
			t.Fatalf("unexpected ack id: %+v", result.Response)
		}
	}

	want := []string{"/v1/ingest/daily", "/v1/ingest/intraday", "/v1/ingest/debug"}
	if len(paths) != len(want) {
		t.Fatalf("expected %d requests, got %v", len(want), paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("request %d went to %s, want %s", i, paths[i], want[i])
		}
	}
}

func TestPostRejectedIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte("  bad date  "))
	}))
	defer srv.Close()

	result, err := newTestClient(t, srv.URL).PostDaily(context.Background(), testPayload())
	if err != nil {
		t.Fatalf("non-2xx must be reported in the result, got error %v", err)
	}
	if result.Success || result.StatusCode != http.StatusUnprocessableEntity || result.ErrorBody != "bad date" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestPostAcceptsEmptyAck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	result, err := newTestClient(t, srv.URL).PostDaily(context.Background(), testPayload())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success || result.Response != nil {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestPostTimeoutIsClassified(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := newTestClient(t, srv.URL, WithTimeout(50*time.Millisecond)).PostDaily(context.Background(), testPayload())
	var transportErr *TransportError
	if !errors.As(err, &transportErr) || transportErr.Kind != KindTimeout {
		t.Fatalf("expected network_timeout, got %v", err)
	}
}

func TestPostConnectionErrorIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(t, url).PostIntraday(context.Background(), testPayload())
	var transportErr *TransportError
	if !errors.As(err, &transportErr) || transportErr.Kind != KindConnection {
		t.Fatalf("expected connection_error, got %v", err)
	}
}

func TestEndpointLabel(t *testing.T) {
	if got := EndpointIntraday.Label(); got != "intraday" {
		t.Fatalf("expected intraday label, got %q", got)
	}
}
