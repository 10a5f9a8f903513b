package models

import (
	"encoding/json"
	"time"
)

// QuarantineRecord is an observation that exhausted its processing retries.
// Quarantined observations can be requeued once the underlying fault is
// fixed.
type QuarantineRecord struct {
	ID            string          `json:"id" db:"id"`
	ObservationID string          `json:"observation_id" db:"observation_id"`
	Reason        string          `json:"reason" db:"reason"`
	Attempts      int             `json:"attempts" db:"attempts"`
	Payload       json.RawMessage `json:"payload" db:"payload"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	RequeuedAt    *time.Time      `json:"requeued_at,omitempty" db:"requeued_at"`
}
