package healthsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nholik/watchdog-bridge/internal/metrics"
	"github.com/nholik/watchdog-bridge/internal/payload"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	defaultRequestDelay = 30 * time.Millisecond
	defaultQuotaPause   = time.Second
	maxQuotaPause       = 30 * time.Second
)

// Provider implements Source on top of a RecordReader. Record types are
// always requested one at a time; concurrent requests trip provider throttling.
type Provider struct {
	logger       zerolog.Logger
	reader       RecordReader
	recordTypes  []RecordType
	requestDelay time.Duration
	quotaPause   time.Duration
	sleep        func(context.Context, time.Duration) bool
	metrics      *metrics.Metrics
}

// ProviderOption customizes Provider behavior.
type ProviderOption func(*Provider)

// WithRequestDelay sets the fixed spacing between record type requests.
func WithRequestDelay(delay time.Duration) ProviderOption {
	return func(p *Provider) {
		p.requestDelay = delay
	}
}

// WithQuotaPause sets the first pause after a quota signal. Later pauses in
// the same capture grow exponentially.
func WithQuotaPause(pause time.Duration) ProviderOption {
	return func(p *Provider) {
		p.quotaPause = pause
	}
}

// WithRecordTypes overrides the captured record types.
func WithRecordTypes(types []RecordType) ProviderOption {
	return func(p *Provider) {
		p.recordTypes = append([]RecordType(nil), types...)
	}
}

// WithMetrics records per-type read failures.
func WithMetrics(m *metrics.Metrics) ProviderOption {
	return func(p *Provider) {
		p.metrics = m
	}
}

// WithSleep overrides how quota pauses wait (primarily for testing).
func WithSleep(sleep func(context.Context, time.Duration) bool) ProviderOption {
	return func(p *Provider) {
		p.sleep = sleep
	}
}

// NewProvider wraps reader with the capture algorithm.
func NewProvider(logger zerolog.Logger, reader RecordReader, opts ...ProviderOption) *Provider {
	p := &Provider{
		logger:       logger,
		reader:       reader,
		recordTypes:  RecordTypes,
		requestDelay: defaultRequestDelay,
		quotaPause:   defaultQuotaPause,
		sleep:        sleepWithContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Permissions enumerates every grant capture needs.
func (p *Provider) Permissions() []Permission {
	perms := make([]Permission, 0, len(p.recordTypes)+1)
	for _, rt := range p.recordTypes {
		perms = append(perms, ReadPermission(rt))
	}
	return append(perms, PermissionReadHistory)
}

// HasPermission reports whether every permission in perms is granted.
func (p *Provider) HasPermission(ctx context.Context, perms []Permission) (bool, error) {
	granted, err := p.reader.GrantedPermissions(ctx)
	if err != nil {
		return false, fmt.Errorf("check permissions: %w", err)
	}
	return containsAll(granted, perms), nil
}

// RequestPermission asks the provider for perms and reports whether all were granted.
func (p *Provider) RequestPermission(ctx context.Context, perms []Permission) (bool, error) {
	granted, err := p.reader.RequestPermissions(ctx, perms)
	if err != nil {
		return false, fmt.Errorf("request permissions: %w", err)
	}
	return containsAll(granted, perms), nil
}

// CaptureSnapshot reads every record type in [start, end) and returns them as
// one opaque JSON object keyed by record type. Types with no records are
// omitted. It fails only when every type failed.
func (p *Provider) CaptureSnapshot(ctx context.Context, start, end time.Time) (Capture, error) {
	limiter := rate.NewLimiter(rate.Every(p.requestDelay), 1)
	if p.requestDelay <= 0 {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}

	quotaBackoff := backoff.NewExponentialBackOff()
	quotaBackoff.InitialInterval = p.quotaPause
	quotaBackoff.MaxInterval = maxQuotaPause
	quotaBackoff.MaxElapsedTime = 0
	quotaBackoff.RandomizationFactor = 0
	quotaBackoff.Reset()

	byType := make(map[string][]json.RawMessage)
	failures := make([]TypeFailure, 0)

	for _, rt := range p.recordTypes {
		if err := limiter.Wait(ctx); err != nil {
			return Capture{}, err
		}

		records, err := p.reader.ReadRecords(ctx, rt, start, end)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Capture{}, ctxErr
			}
			quota := errors.Is(err, ErrQuotaExceeded)
			failures = append(failures, TypeFailure{Type: rt, Err: err, Quota: quota})

			if quota {
				p.metrics.IncProviderReadFailures(string(rt), "quota")
				pause := quotaBackoff.NextBackOff()
				p.logger.Warn().
					Str("record_type", string(rt)).
					Dur("pause", pause).
					Msg("provider quota exceeded, pausing")
				if !p.sleep(ctx, pause) {
					return Capture{}, ctx.Err()
				}
				continue
			}

			p.metrics.IncProviderReadFailures(string(rt), "transient")
			p.logger.Warn().Err(err).Str("record_type", string(rt)).Msg("failed to read record type")
			continue
		}

		if len(records) > 0 {
			byType[string(rt)] = records
		}
	}

	if len(failures) > 0 && len(failures) == len(p.recordTypes) {
		return Capture{Failures: failures}, &CaptureError{Failures: failures}
	}

	// Map keys marshal in sorted order, which keeps the blob canonical.
	raw, err := json.Marshal(byType)
	if err != nil {
		return Capture{}, fmt.Errorf("serialize capture: %w", err)
	}

	return Capture{
		Snapshot: payload.RawSnapshot(raw),
		Failures: failures,
	}, nil
}

func containsAll(granted []Permission, required []Permission) bool {
	have := make(map[Permission]struct{}, len(granted))
	for _, perm := range granted {
		have[perm] = struct{}{}
	}
	for _, perm := range required {
		if _, ok := have[perm]; !ok {
			return false
		}
	}
	return true
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
