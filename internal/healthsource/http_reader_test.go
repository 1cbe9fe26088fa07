package healthsource

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPReader_ReadRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/records/HeartRate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("start") != "2025-10-01T00:00:00Z" {
			t.Errorf("unexpected start %q", r.URL.Query().Get("start"))
		}
		_, _ = w.Write([]byte(`{"records":[{"bpm":61},{"bpm":64}]}`))
	}))
	defer server.Close()

	reader, err := NewHTTPReader(server.URL+"/", time.Second, 0)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}

	start := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	records, err := reader.ReadRecords(context.Background(), "HeartRate", start, start.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("read records: %v", err)
	}
	if len(records) != 2 || string(records[1]) != `{"bpm":64}` {
		t.Fatalf("unexpected records: %s", records)
	}
}

func TestHTTPReader_QuotaSignals(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		isQuota bool
	}{
		{name: "429", status: http.StatusTooManyRequests, isQuota: true},
		{name: "quota message", status: http.StatusServiceUnavailable, body: "API call Quota Exceeded", isQuota: true},
		{name: "plain 500", status: http.StatusInternalServerError, body: "boom"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			reader, err := NewHTTPReader(server.URL, time.Second, 0)
			if err != nil {
				t.Fatalf("new reader: %v", err)
			}
			_, err = reader.ReadRecords(context.Background(), "Steps", time.Unix(0, 0), time.Unix(1, 0))
			if err == nil {
				t.Fatalf("expected error")
			}
			if errors.Is(err, ErrQuotaExceeded) != tc.isQuota {
				t.Fatalf("quota classification mismatch for %v", err)
			}
		})
	}
}

func TestHTTPReader_Permissions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/permissions":
			_, _ = w.Write([]byte(`{"granted":["read:Steps"]}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v1/permissions/request":
			body, _ := io.ReadAll(r.Body)
			var req permissionsBody
			if err := json.Unmarshal(body, &req); err != nil {
				t.Errorf("decode request: %v", err)
			}
			_ = json.NewEncoder(w).Encode(permissionsBody{Granted: req.Permissions})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	reader, err := NewHTTPReader(server.URL, time.Second, 0)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}

	granted, err := reader.GrantedPermissions(context.Background())
	if err != nil || len(granted) != 1 || granted[0] != "read:Steps" {
		t.Fatalf("unexpected granted: %v err=%v", granted, err)
	}

	granted, err = reader.RequestPermissions(context.Background(), []Permission{"read:HeartRate", PermissionReadHistory})
	if err != nil || len(granted) != 2 {
		t.Fatalf("unexpected request result: %v err=%v", granted, err)
	}
}

func TestHTTPReader_Forbidden(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	reader, _ := NewHTTPReader(server.URL, time.Second, 0)
	_, err := reader.GrantedPermissions(context.Background())
	if !errors.Is(err, ErrPermissionMissing) {
		t.Fatalf("expected permission error, got %v", err)
	}
}

func TestHTTPReader_RejectsOversizeBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"records":[` + strings.Repeat(`{},`, 20) + `{}]}`))
	}))
	defer server.Close()

	reader, _ := NewHTTPReader(server.URL, time.Second, 16)
	_, err := reader.ReadRecords(context.Background(), "Steps", time.Unix(0, 0), time.Unix(1, 0))
	if err == nil || !strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("expected size error, got %v", err)
	}
}

func TestNewHTTPReader_Validation(t *testing.T) {
	if _, err := NewHTTPReader(" ", time.Second, 0); err == nil {
		t.Fatalf("expected error for empty url")
	}
	if _, err := NewHTTPReader("http://localhost", 0, 0); err == nil {
		t.Fatalf("expected error for zero timeout")
	}
}
