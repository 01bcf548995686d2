// Package domain defines the health data types and sync contracts shared by
// the detector, stores, and publisher.
package domain

import (
	"encoding/json"
	"time"
)

// DataType identifies one tracked health signal on the platform.
type DataType string

const (
	DataTypeSteps          DataType = "steps"
	DataTypeDistance       DataType = "distance"
	DataTypeHeartRate      DataType = "heart_rate"
	DataTypeSleep          DataType = "sleep"
	DataTypeWeight         DataType = "weight"
	DataTypeActiveCalories DataType = "active_calories"
	DataTypeExercise       DataType = "exercise"
)

// Operation distinguishes record upserts from removals in the outbox.
type Operation string

const (
	OpUpsert Operation = "upsert"
	OpDelete Operation = "delete"
)

// OutboxEntry is one queued change awaiting delivery to the remote store.
// Entries are immutable once appended; only the publisher removes them.
type OutboxEntry struct {
	ID         int64
	SourceID   string
	DataType   DataType
	Op         Operation
	RecordDate time.Time
	Payload    json.RawMessage
	CreatedAt  time.Time
}

// Record is a platform health record as returned by the health API. Fields
// holds the type-specific values; extractors tolerate missing keys.
type Record struct {
	ID       string
	DataType DataType
	Start    time.Time
	End      time.Time
	Origin   string
	Fields   map[string]json.RawMessage
}

// Change is one item of a change feed page. Deleted changes carry only the
// record identifier.
type Change struct {
	RecordID string
	Deleted  bool
	Record   *Record
}

// ChangePage is one page of the platform change feed.
type ChangePage struct {
	Changes   []Change
	NextToken string
	HasMore   bool
	Expired   bool
}
