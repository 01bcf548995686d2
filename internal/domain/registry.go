package domain

import (
	"encoding/json"
	"fmt"
	"sort"
)

// PayloadKind tags the shape an extractor produces.
type PayloadKind string

const (
	PayloadNumeric  PayloadKind = "numeric"
	PayloadDuration PayloadKind = "duration"
	PayloadSleep    PayloadKind = "sleep"
)

// TypeSpec describes how one data type is gated, extracted, and delivered.
type TypeSpec struct {
	MetricName  string
	RemoteTable string
	Kind        PayloadKind
	Extract     func(Record) json.RawMessage
}

// typeRegistry is the single lookup table from data type to its handling.
// Adding a tracked type means adding a row here, nothing structural.
var typeRegistry = map[DataType]TypeSpec{
	DataTypeSteps: {
		MetricName:  "daily_steps",
		RemoteTable: "steps_records",
		Kind:        PayloadNumeric,
		Extract:     numericExtractor("count"),
	},
	DataTypeDistance: {
		MetricName:  "daily_distance",
		RemoteTable: "distance_records",
		Kind:        PayloadNumeric,
		Extract:     numericExtractor("meters"),
	},
	DataTypeHeartRate: {
		MetricName:  "resting_heart_rate",
		RemoteTable: "heart_rate_records",
		Kind:        PayloadNumeric,
		Extract:     numericExtractor("bpm"),
	},
	DataTypeWeight: {
		MetricName:  "body_weight",
		RemoteTable: "weight_records",
		Kind:        PayloadNumeric,
		Extract:     numericExtractor("kilograms"),
	},
	DataTypeActiveCalories: {
		MetricName:  "active_calories",
		RemoteTable: "calorie_records",
		Kind:        PayloadNumeric,
		Extract:     numericExtractor("kilocalories"),
	},
	DataTypeExercise: {
		MetricName:  "exercise_minutes",
		RemoteTable: "exercise_records",
		Kind:        PayloadDuration,
		Extract:     extractDuration,
	},
	DataTypeSleep: {
		MetricName:  "sleep_duration",
		RemoteTable: "sleep_records",
		Kind:        PayloadSleep,
		Extract:     extractSleep,
	},
}

// Spec returns the handling spec for a data type.
func Spec(dt DataType) (TypeSpec, error) {
	spec, ok := typeRegistry[dt]
	if !ok {
		return TypeSpec{}, fmt.Errorf("unknown data type: %s", dt)
	}
	return spec, nil
}

// KnownTypes lists all registered data types in stable order.
func KnownTypes() []DataType {
	out := make([]DataType, 0, len(typeRegistry))
	for dt := range typeRegistry {
		out = append(out, dt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MetricFor maps a data type to its remote settings metric name. Unknown
// types map to an empty name, which the gate treats as always enabled.
func MetricFor(dt DataType) string {
	return typeRegistry[dt].MetricName
}
