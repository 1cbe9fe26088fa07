package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nholik/watchdog-bridge/internal/payload"
)

// Prefix tokens lead every canonical string. Bump the token for a schema when
// its canonical form changes so every stored hash stops matching.
var prefixTokens = map[int]string{
	payload.SchemaStructured: "v1",
	payload.SchemaRaw:        "v3",
}

// Compute returns the lowercase hex SHA-256 of the canonical form of p.
func Compute(p payload.IngestPayload) (string, error) {
	canonical, err := Canonicalize(p)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:]), nil
}

// Canonicalize renders p as the string that is hashed. CollectedAt is left
// out so recapturing identical content yields the same string.
func Canonicalize(p payload.IngestPayload) (string, error) {
	prefix, ok := prefixTokens[p.SchemaVersion]
	if !ok {
		return "", fmt.Errorf("no canonical form for schema version %d", p.SchemaVersion)
	}

	var sb strings.Builder
	sb.WriteString(prefix)
	sb.WriteString("|")
	fmt.Fprintf(&sb, "date=%s|", p.Date)
	fmt.Fprintf(&sb, "app=%s|", p.Source.SourceApp)
	fmt.Fprintf(&sb, "device=%s|", p.Source.DeviceID)

	switch p.SchemaVersion {
	case payload.SchemaRaw:
		if p.Snapshot.Structured != nil {
			return "", fmt.Errorf("schema %d expects a raw snapshot", p.SchemaVersion)
		}
		raw := string(p.Snapshot.Raw)
		if raw == "" {
			raw = "{}"
		}
		sb.WriteString("raw=")
		sb.WriteString(raw)
	case payload.SchemaStructured:
		if p.Snapshot.Structured == nil {
			return "", fmt.Errorf("schema %d expects a structured snapshot", p.SchemaVersion)
		}
		body, err := canonicalSummary(*p.Snapshot.Structured)
		if err != nil {
			return "", err
		}
		sb.WriteString("summary=")
		sb.Write(body)
	}

	return sb.String(), nil
}

func canonicalSummary(summary payload.Summary) ([]byte, error) {
	sleep := append([]payload.SleepSession(nil), summary.SleepSessions...)
	sort.SliceStable(sleep, func(i, j int) bool {
		return lessInterval(sleep[i].StartTime, sleep[i].EndTime, sleep[j].StartTime, sleep[j].EndTime)
	})
	exercise := append([]payload.ExerciseSession(nil), summary.ExerciseSessions...)
	sort.SliceStable(exercise, func(i, j int) bool {
		return lessInterval(exercise[i].StartTime, exercise[i].EndTime, exercise[j].StartTime, exercise[j].EndTime)
	})
	if sleep == nil {
		sleep = []payload.SleepSession{}
	}
	if exercise == nil {
		exercise = []payload.ExerciseSession{}
	}
	summary.SleepSessions = sleep
	summary.ExerciseSessions = exercise

	body, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}
	return body, nil
}

// lessInterval orders by start instant, then end instant. Timestamps that do
// not parse fall back to lexical order.
func lessInterval(startA, endA, startB, endB string) bool {
	if c := compareTimestamps(startA, startB); c != 0 {
		return c < 0
	}
	return compareTimestamps(endA, endB) < 0
}

func compareTimestamps(a, b string) int {
	ta, errA := time.Parse(time.RFC3339Nano, a)
	tb, errB := time.Parse(time.RFC3339Nano, b)
	if errA == nil && errB == nil {
		return ta.Compare(tb)
	}
	return strings.Compare(a, b)
}
