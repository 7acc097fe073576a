package model

import "time"

// SyncEvent is one per-entity outcome of a batch, persisted to the event log.
type SyncEvent struct {
	ID         string    `db:"id"          json:"id"`
	BatchID    string    `db:"batch_id"    json:"batch_id"`
	Kind       string    `db:"kind"        json:"kind"`                  // account|user
	InternalID string    `db:"internal_id" json:"internal_id"`           // platform id
	ExternalID string    `db:"external_id" json:"external_id,omitempty"` // lead/contact id, may be empty
	Op         string    `db:"op"          json:"op"`                    // skip|insert|update
	Outcome    string    `db:"outcome"     json:"outcome"`               // skipped|success|error
	Message    string    `db:"message"     json:"message,omitempty"`     // skip reason or error text
	CreatedAt  time.Time `db:"created_at"  json:"created_at"`
}

const (
	OutcomeSkipped = "skipped"
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)
