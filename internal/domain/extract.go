package domain

import (
	"encoding/json"
	"time"
)

// Extractors translate a platform record's loose field map into the payload
// stored on an outbox entry. They are total: a missing or malformed field is
// simply omitted from the payload, never an error. The remote schema accepts
// partial rows.

// NumericPayload carries a single reading.
type NumericPayload struct {
	Value *float64 `json:"value,omitempty"`
	Unit  string   `json:"unit,omitempty"`
}

// DurationPayload carries a session length plus its activity label.
type DurationPayload struct {
	Minutes      *float64 `json:"minutes,omitempty"`
	ExerciseType string   `json:"exercise_type,omitempty"`
}

// SleepPayload carries per-stage minute buckets for one sleep session.
type SleepPayload struct {
	TotalMinutes *float64 `json:"total_minutes,omitempty"`
	AwakeMinutes *float64 `json:"awake_minutes,omitempty"`
	LightMinutes *float64 `json:"light_minutes,omitempty"`
	DeepMinutes  *float64 `json:"deep_minutes,omitempty"`
	RemMinutes   *float64 `json:"rem_minutes,omitempty"`
}

func numericExtractor(field string) func(Record) json.RawMessage {
	return func(rec Record) json.RawMessage {
		payload := NumericPayload{
			Value: floatField(rec, field),
			Unit:  stringField(rec, "unit"),
		}
		return mustMarshal(payload)
	}
}

func extractDuration(rec Record) json.RawMessage {
	payload := DurationPayload{
		ExerciseType: stringField(rec, "exercise_type"),
	}
	if minutes := floatField(rec, "minutes"); minutes != nil {
		payload.Minutes = minutes
	} else if !rec.Start.IsZero() && !rec.End.IsZero() && rec.End.After(rec.Start) {
		m := rec.End.Sub(rec.Start).Minutes()
		payload.Minutes = &m
	}
	return mustMarshal(payload)
}

func extractSleep(rec Record) json.RawMessage {
	payload := SleepPayload{
		AwakeMinutes: floatField(rec, "awake_minutes"),
		LightMinutes: floatField(rec, "light_minutes"),
		DeepMinutes:  floatField(rec, "deep_minutes"),
		RemMinutes:   floatField(rec, "rem_minutes"),
	}
	if total := floatField(rec, "total_minutes"); total != nil {
		payload.TotalMinutes = total
	} else if !rec.Start.IsZero() && !rec.End.IsZero() && rec.End.After(rec.Start) {
		m := rec.End.Sub(rec.Start).Minutes()
		payload.TotalMinutes = &m
	}
	return mustMarshal(payload)
}

func floatField(rec Record, key string) *float64 {
	raw, ok := rec.Fields[key]
	if !ok {
		return nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return &v
}

func stringField(rec Record, key string) string {
	raw, ok := rec.Fields[key]
	if !ok {
		return ""
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return v
}

func mustMarshal(v interface{}) json.RawMessage {
	body, err := json.Marshal(v)
	if err != nil {
		// All payload structs marshal cleanly; this is unreachable.
		return json.RawMessage(`{}`)
	}
	return body
}

// EntryFor builds an upsert outbox entry from a platform record using the
// registered extractor for its type.
func EntryFor(rec Record) (OutboxEntry, error) {
	spec, err := Spec(rec.DataType)
	if err != nil {
		return OutboxEntry{}, err
	}
	date := rec.Start
	if date.IsZero() {
		date = rec.End
	}
	return OutboxEntry{
		SourceID:   rec.ID,
		DataType:   rec.DataType,
		Op:         OpUpsert,
		RecordDate: date.UTC(),
		Payload:    spec.Extract(rec),
	}, nil
}

// DeleteEntryFor builds a delete outbox entry for a removed record. Only the
// identifier survives removal, so the payload is empty.
func DeleteEntryFor(dt DataType, recordID string, at time.Time) OutboxEntry {
	return OutboxEntry{
		SourceID:   recordID,
		DataType:   dt,
		Op:         OpDelete,
		RecordDate: at.UTC(),
		Payload:    json.RawMessage(`{}`),
	}
}
