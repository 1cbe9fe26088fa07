package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const httpErrorBodyLimit = 1024

// timing bounds how often and how persistently a poster delivers.
type timing struct {
	timeout           time.Duration
	rateInterval      time.Duration
	rateBurst         int
	backoffInitial    time.Duration
	backoffMax        time.Duration
	backoffMaxElapsed time.Duration
}

var defaultTiming = timing{
	timeout:           10 * time.Second,
	rateInterval:      time.Second,
	rateBurst:         1,
	backoffInitial:    time.Second,
	backoffMax:        10 * time.Second,
	backoffMaxElapsed: 30 * time.Second,
}

// poster delivers JSON bodies to one webhook. Each worker gets its own rate
// limiter so a noisy backfill cannot starve daily alerts.
type poster struct {
	logger   zerolog.Logger
	channel  string
	url      string
	client   *retryablehttp.Client
	timing   timing
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newPoster(logger zerolog.Logger, channel, url string, t timing) *poster {
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.CheckRetry = func(_ context.Context, _ *http.Response, _ error) (bool, error) {
		return false, nil
	}
	client.Logger = nil
	client.HTTPClient = &http.Client{Timeout: t.timeout}

	return &poster{
		logger:   logger,
		channel:  channel,
		url:      url,
		client:   client,
		timing:   t,
		limiters: make(map[string]*rate.Limiter),
	}
}

// deliver waits for the worker's rate slot and posts body, retrying
// temporary failures with exponential backoff.
func (p *poster) deliver(ctx context.Context, worker string, body []byte) error {
	if err := p.limiter(worker).Wait(ctx); err != nil {
		return err
	}

	retries := backoff.NewExponentialBackOff()
	retries.InitialInterval = p.timing.backoffInitial
	retries.MaxInterval = p.timing.backoffMax
	retries.MaxElapsedTime = p.timing.backoffMaxElapsed
	retries.Reset()

	for {
		err := p.postOnce(ctx, body)
		if err == nil {
			return nil
		}

		var throttled *retryAfterError
		if errors.As(err, &throttled) {
			if retries.NextBackOff() == backoff.Stop {
				return err
			}
			if !sleepWithContext(ctx, throttled.Duration) {
				return ctx.Err()
			}
			continue
		}
		var temporary *temporaryError
		if !errors.As(err, &temporary) {
			return err
		}
		wait := retries.NextBackOff()
		if wait == backoff.Stop {
			return err
		}
		p.logger.Debug().Err(err).Str("channel", p.channel).Dur("wait", wait).Msg("notification delivery failed, retrying")
		if !sleepWithContext(ctx, wait) {
			return ctx.Err()
		}
	}
}

func (p *poster) limiter(worker string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	limiter, ok := p.limiters[worker]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(p.timing.rateInterval), p.timing.rateBurst)
		p.limiters[worker] = limiter
	}
	return limiter
}

func (p *poster) postOnce(ctx context.Context, body []byte) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.timing.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", p.channel, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return &temporaryError{err: fmt.Errorf("%s request failed: %w", p.channel, err)}
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, httpErrorBodyLimit))
	text := strings.TrimSpace(string(data))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		limited := fmt.Errorf("%s rate limited: %s", p.channel, resp.Status)
		if wait, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			return &retryAfterError{Duration: wait, err: limited}
		}
		return &temporaryError{err: limited}
	case resp.StatusCode >= http.StatusInternalServerError:
		return &temporaryError{err: fmt.Errorf("%s server error: %s", p.channel, resp.Status)}
	case text != "":
		return fmt.Errorf("%s request failed: %s (%s)", p.channel, resp.Status, text)
	default:
		return fmt.Errorf("%s request failed: %s", p.channel, resp.Status)
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		if wait := time.Until(when); wait > 0 {
			return wait, true
		}
	}
	return 0, false
}

func sleepWithContext(ctx context.Context, wait time.Duration) bool {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// temporaryError marks failures worth another attempt.
type temporaryError struct {
	err error
}

func (e *temporaryError) Error() string {
	return e.err.Error()
}

func (e *temporaryError) Unwrap() error {
	return e.err
}

type retryAfterError struct {
	Duration time.Duration
	err      error
}

func (e *retryAfterError) Error() string {
	return fmt.Sprintf("rate limited; retry after %s", e.Duration)
}

func (e *retryAfterError) Unwrap() error {
	return e.err
}
