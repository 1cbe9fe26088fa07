package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nholik/watchdog-bridge/internal/calendar"
)

// Codec converts payloads of one schema version to and from the wire format.
type Codec interface {
	Version() int
	Encode(p IngestPayload) ([]byte, error)
	Decode(data []byte) (IngestPayload, error)
}

var codecs = map[int]Codec{
	SchemaStructured: structuredCodec{},
	SchemaRaw:        rawCodec{},
}

// CodecFor returns the codec registered for a schema version.
func CodecFor(version int) (Codec, error) {
	codec, ok := codecs[version]
	if !ok {
		return nil, fmt.Errorf("unsupported schema version %d", version)
	}
	return codec, nil
}

// Marshal encodes p with the codec for its schema version.
func Marshal(p IngestPayload) ([]byte, error) {
	codec, err := CodecFor(p.SchemaVersion)
	if err != nil {
		return nil, err
	}
	return codec.Encode(p)
}

// Unmarshal decodes any supported wire generation, dispatching on schema_version.
func Unmarshal(data []byte) (IngestPayload, error) {
	var header struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return IngestPayload{}, fmt.Errorf("decode payload header: %w", err)
	}
	codec, err := CodecFor(header.SchemaVersion)
	if err != nil {
		return IngestPayload{}, err
	}
	return codec.Decode(data)
}

type wireSource struct {
	SourceApp   string `json:"source_app"`
	DeviceID    string `json:"device_id"`
	CollectedAt string `json:"collected_at"`
}

func toWireSource(s Source) wireSource {
	return wireSource{
		SourceApp:   s.SourceApp,
		DeviceID:    s.DeviceID,
		CollectedAt: s.CollectedAt.Format(time.RFC3339Nano),
	}
}

func fromWireSource(w wireSource) (Source, error) {
	src := Source{SourceApp: w.SourceApp, DeviceID: w.DeviceID}
	if w.CollectedAt == "" {
		return src, nil
	}
	collected, err := time.Parse(time.RFC3339Nano, w.CollectedAt)
	if err != nil {
		return Source{}, fmt.Errorf("invalid collected_at: %w", err)
	}
	src.CollectedAt = collected
	return src, nil
}

type rawWire struct {
	SchemaVersion int        `json:"schema_version"`
	Date          string     `json:"date"`
	RawJSON       string     `json:"raw_json"`
	Source        wireSource `json:"source"`
}

type rawCodec struct{}

func (rawCodec) Version() int { return SchemaRaw }

func (rawCodec) Encode(p IngestPayload) ([]byte, error) {
	if p.Snapshot.Structured != nil {
		return nil, errors.New("schema 3 requires a raw snapshot")
	}
	raw := p.Snapshot.Raw
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if !json.Valid(raw) {
		return nil, errors.New("raw snapshot is not valid JSON")
	}
	return json.Marshal(rawWire{
		SchemaVersion: SchemaRaw,
		Date:          p.Date.String(),
		RawJSON:       string(raw),
		Source:        toWireSource(p.Source),
	})
}

func (rawCodec) Decode(data []byte) (IngestPayload, error) {
	var w rawWire
	if err := json.Unmarshal(data, &w); err != nil {
		return IngestPayload{}, fmt.Errorf("decode schema 3 payload: %w", err)
	}
	date, err := calendar.Parse(w.Date)
	if err != nil {
		return IngestPayload{}, err
	}
	src, err := fromWireSource(w.Source)
	if err != nil {
		return IngestPayload{}, err
	}
	return IngestPayload{
		SchemaVersion: SchemaRaw,
		Date:          date,
		Snapshot:      RawSnapshot([]byte(w.RawJSON)),
		Source:        src,
	}, nil
}

type structuredWire struct {
	SchemaVersion int    `json:"schema_version"`
	Date          string `json:"date"`
	Summary
	Source wireSource `json:"source"`
}

type structuredCodec struct{}

func (structuredCodec) Version() int { return SchemaStructured }

func (structuredCodec) Encode(p IngestPayload) ([]byte, error) {
	if p.Snapshot.Structured == nil {
		return nil, errors.New("schema 1 requires a structured snapshot")
	}
	summary := *p.Snapshot.Structured
	if summary.SleepSessions == nil {
		summary.SleepSessions = []SleepSession{}
	}
	if summary.ExerciseSessions == nil {
		summary.ExerciseSessions = []ExerciseSession{}
	}
	return json.Marshal(structuredWire{
		SchemaVersion: SchemaStructured,
		Date:          p.Date.String(),
		Summary:       summary,
		Source:        toWireSource(p.Source),
	})
}

func (structuredCodec) Decode(data []byte) (IngestPayload, error) {
	var w structuredWire
	if err := json.Unmarshal(data, &w); err != nil {
		return IngestPayload{}, fmt.Errorf("decode schema 1 payload: %w", err)
	}
	date, err := calendar.Parse(w.Date)
	if err != nil {
		return IngestPayload{}, err
	}
	src, err := fromWireSource(w.Source)
	if err != nil {
		return IngestPayload{}, err
	}
	return IngestPayload{
		SchemaVersion: SchemaStructured,
		Date:          date,
		Snapshot:      StructuredSnapshot(w.Summary),
		Source:        src,
	}, nil
}
