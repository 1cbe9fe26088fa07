package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var fastTiming = timing{
	timeout:           time.Second,
	rateInterval:      time.Millisecond,
	rateBurst:         1,
	backoffInitial:    time.Millisecond,
	backoffMax:        2 * time.Millisecond,
	backoffMaxElapsed: 50 * time.Millisecond,
}

// scriptedServer answers with statuses in order, repeating the last one.
func scriptedServer(t *testing.T, calls *int32, statuses ...int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(calls, 1))
		status := statuses[min(n, len(statuses))-1]
		if status == http.StatusBadRequest {
			w.WriteHeader(status)
			_, _ = w.Write([]byte("invalid_payload"))
			return
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPosterDeliver(t *testing.T) {
	cases := []struct {
		name      string
		statuses  []int
		wantErr   string
		wantCalls int32
	}{
		{name: "ok first try", statuses: []int{200}, wantCalls: 1},
		{name: "server errors then ok", statuses: []int{500, 502, 200}, wantCalls: 3},
		{name: "client error not retried", statuses: []int{400}, wantErr: "invalid_payload", wantCalls: 1},
		{name: "rate limited without retry-after then ok", statuses: []int{429, 200}, wantCalls: 2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var calls int32
			srv := scriptedServer(t, &calls, tc.statuses...)
			p := newPoster(zerolog.New(io.Discard), "webhook", srv.URL, fastTiming)

			err := p.deliver(context.Background(), "daily", []byte(`{}`))
			if tc.wantErr == "" && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tc.wantErr)) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
			if got := atomic.LoadInt32(&calls); got != tc.wantCalls {
				t.Fatalf("expected %d calls, got %d", tc.wantCalls, got)
			}
		})
	}
}

func TestPosterGivesUpAfterMaxElapsed(t *testing.T) {
	var calls int32
	srv := scriptedServer(t, &calls, 503)
	p := newPoster(zerolog.New(io.Discard), "webhook", srv.URL, fastTiming)

	err := p.deliver(context.Background(), "daily", []byte(`{}`))
	var temporary *temporaryError
	if !errors.As(err, &temporary) {
		t.Fatalf("expected the last temporary error, got %v", err)
	}
	if atomic.LoadInt32(&calls) < 2 {
		t.Fatalf("expected retries before giving up, got %d calls", atomic.LoadInt32(&calls))
	}
}

func TestPosterRetryAfterHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := newPoster(zerolog.New(io.Discard), "slack", srv.URL, fastTiming)
	err := p.postOnce(context.Background(), []byte(`{}`))

	var throttled *retryAfterError
	if !errors.As(err, &throttled) {
		t.Fatalf("expected retry-after error, got %v", err)
	}
	if throttled.Duration != 2*time.Second {
		t.Fatalf("expected 2s retry-after, got %s", throttled.Duration)
	}
}

func TestPosterRateLimitIsPerWorker(t *testing.T) {
	var calls int32
	srv := scriptedServer(t, &calls, 200)
	slow := fastTiming
	slow.rateInterval = time.Hour
	p := newPoster(zerolog.New(io.Discard), "slack", srv.URL, slow)

	if err := p.deliver(context.Background(), "daily", []byte(`{}`)); err != nil {
		t.Fatalf("first daily delivery: %v", err)
	}
	if err := p.deliver(context.Background(), "backfill", []byte(`{}`)); err != nil {
		t.Fatalf("backfill must not wait on the daily limiter: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.deliver(ctx, "daily", []byte(`{}`)); err == nil {
		t.Fatal("expected second daily delivery to be rate limited")
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 calls, got %d", got)
	}
}

func TestPosterStopsOnCancel(t *testing.T) {
	var calls int32
	srv := scriptedServer(t, &calls, 500)
	slowRetry := fastTiming
	slowRetry.backoffInitial = 200 * time.Millisecond
	slowRetry.backoffMax = time.Second
	slowRetry.backoffMaxElapsed = 5 * time.Second
	p := newPoster(zerolog.New(io.Discard), "webhook", srv.URL, slowRetry)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if err := p.deliver(ctx, "daily", []byte(`{}`)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if wait, ok := parseRetryAfter("3"); !ok || wait != 3*time.Second {
		t.Fatalf("expected 3s, got %s %v", wait, ok)
	}
	for _, value := range []string{"", "0", "-1", "soon"} {
		if _, ok := parseRetryAfter(value); ok {
			t.Fatalf("expected %q to be rejected", value)
		}
	}
	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	if wait, ok := parseRetryAfter(future); !ok || wait <= 0 {
		t.Fatalf("expected positive wait for http date, got %s %v", wait, ok)
	}
}
