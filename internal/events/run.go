// Package events defines the run change payloads published through the outbox.
package events

import "time"

// Event types written to the outbox and carried in the event_type header.
const (
	TypeRunCreated = "run.created"
	TypeRunUpdated = "run.updated"
	TypeRunDeleted = "run.deleted"
)

// Kafka record headers set by the outbox dispatcher.
const (
	HeaderEventType = "event_type"
	HeaderEventID   = "event_id"
)

// RunCreated represents the message emitted when a new run is stored.
type RunCreated struct {
	RunID       int64     `json:"run_id"`
	Title       string    `json:"title"`
	StartedOn   time.Time `json:"started_on"`
	CompletedOn time.Time `json:"completed_on"`
	Miles       float64   `json:"miles"`
	Location    string    `json:"location"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// RunUpdated carries the full replacement record.
type RunUpdated struct {
	RunID       int64     `json:"run_id"`
	Title       string    `json:"title"`
	StartedOn   time.Time `json:"started_on"`
	CompletedOn time.Time `json:"completed_on"`
	Miles       float64   `json:"miles"`
	Location    string    `json:"location"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// RunDeleted is emitted only when a delete actually removed a row.
type RunDeleted struct {
	RunID      int64     `json:"run_id"`
	OccurredAt time.Time `json:"occurred_at"`
}
