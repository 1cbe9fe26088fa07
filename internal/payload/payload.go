package payload

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/nholik/watchdog-bridge/internal/calendar"
)

// Wire schema generations. Schema 3 ships the opaque capture and supersedes
// the structured schema 1.
const (
	SchemaStructured = 1
	SchemaRaw        = 3
)

// DefaultSourceApp identifies the provider when none is configured.
const DefaultSourceApp = "health_connect"

// Source describes where and when a snapshot was captured.
type Source struct {
	SourceApp   string
	DeviceID    string
	CollectedAt time.Time
}

// IngestPayload is the versioned envelope uploaded for one calendar date.
type IngestPayload struct {
	SchemaVersion int
	Date          calendar.Date
	Snapshot      Snapshot
	Source        Source
}

// New builds a payload whose schema version follows the snapshot form.
func New(date calendar.Date, snapshot Snapshot, source Source) IngestPayload {
	version := SchemaRaw
	if snapshot.Structured != nil {
		version = SchemaStructured
	}
	if source.SourceApp == "" {
		source.SourceApp = DefaultSourceApp
	}
	return IngestPayload{
		SchemaVersion: version,
		Date:          date,
		Snapshot:      snapshot,
		Source:        source,
	}
}

// Snapshot holds either an opaque serialized capture or structured summaries.
type Snapshot struct {
	Raw        json.RawMessage
	Structured *Summary
}

// RawSnapshot wraps an opaque capture.
func RawSnapshot(raw []byte) Snapshot {
	return Snapshot{Raw: json.RawMessage(raw)}
}

// StructuredSnapshot wraps typed summaries.
func StructuredSnapshot(summary Summary) Snapshot {
	return Snapshot{Structured: &summary}
}

// IsEmpty reports whether the snapshot carries no data by every measure.
func (s Snapshot) IsEmpty() bool {
	if s.Structured != nil {
		return s.Structured.IsEmpty()
	}
	return rawIsEmpty(s.Raw)
}

func rawIsEmpty(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return true
	}
	var byType map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &byType); err != nil {
		return false
	}
	for _, records := range byType {
		value := bytes.TrimSpace(records)
		if bytes.Equal(value, []byte("null")) || bytes.Equal(value, []byte("[]")) {
			continue
		}
		var list []json.RawMessage
		if err := json.Unmarshal(value, &list); err == nil && len(list) == 0 {
			continue
		}
		return false
	}
	return true
}

// Summary is the structured snapshot of schema 1.
type Summary struct {
	StepsTotal       int               `json:"steps_total"`
	SleepSessions    []SleepSession    `json:"sleep_sessions"`
	HeartRate        *HeartRateSummary `json:"heart_rate_summary"`
	Body             *BodyMetrics      `json:"body_metrics"`
	Nutrition        *NutritionSummary `json:"nutrition_summary"`
	ExerciseSessions []ExerciseSession `json:"exercise_sessions"`
}

// IsEmpty reports zero steps, no sessions and no summaries.
func (s Summary) IsEmpty() bool {
	return s.StepsTotal == 0 &&
		len(s.SleepSessions) == 0 &&
		len(s.ExerciseSessions) == 0 &&
		s.HeartRate == nil &&
		s.Body == nil &&
		s.Nutrition == nil
}

// SleepSession is one sleep interval. Times are ISO-8601 with offset.
type SleepSession struct {
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	DurationMinutes int    `json:"duration_minutes"`
}

// ExerciseSession is one workout interval.
type ExerciseSession struct {
	StartTime       string  `json:"start_time"`
	EndTime         string  `json:"end_time"`
	DurationMinutes int     `json:"duration_minutes"`
	Title           *string `json:"title,omitempty"`
	Notes           *string `json:"notes,omitempty"`
}

// HeartRateSummary aggregates heart-rate samples for the day.
type HeartRateSummary struct {
	AvgHR     int `json:"avg_hr"`
	MinHR     int `json:"min_hr"`
	MaxHR     int `json:"max_hr"`
	RestingHR int `json:"resting_hr"`
}

// BodyMetrics carries the latest body measurements.
type BodyMetrics struct {
	WeightKg          *float64 `json:"weight_kg,omitempty"`
	BodyFatPercentage *float64 `json:"body_fat_percentage,omitempty"`
}

// NutritionSummary totals intake for the day.
type NutritionSummary struct {
	CaloriesTotal *int     `json:"calories_total,omitempty"`
	ProteinGrams  *float64 `json:"protein_grams,omitempty"`
}
