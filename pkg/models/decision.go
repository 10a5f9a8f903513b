package models

import (
	"encoding/json"
	"time"
)

// DecisionOutcome is the verdict reached for an observation against a
// candidate entity
type DecisionOutcome string

const (
	// DecisionOutcomeAutoMatch cleared the upper threshold and was attached
	// automatically
	DecisionOutcomeAutoMatch DecisionOutcome = "auto_match"
	// DecisionOutcomeReviewPending landed between thresholds and awaits a
	// human verdict
	DecisionOutcomeReviewPending DecisionOutcome = "review_pending"
	// DecisionOutcomeNewEntity fell below the lower threshold against every
	// candidate and created a fresh entity
	DecisionOutcomeNewEntity DecisionOutcome = "new_entity"
	// DecisionOutcomeReviewConfirmed is a human approval of a pending pair
	DecisionOutcomeReviewConfirmed DecisionOutcome = "review_confirmed"
	// DecisionOutcomeReviewRejected is a human rejection of a pending pair
	DecisionOutcomeReviewRejected DecisionOutcome = "review_rejected"
)

// FieldScore is the scored contribution of one field comparison.
type FieldScore struct {
	Field     string  `json:"field"`
	Agreement float64 `json:"agreement"`
	Weight    float64 `json:"weight"`
	Missing   bool    `json:"missing"`
}

// ScoreBreakdown explains how a comparison score was assembled. It is stored
// with every decision so verdicts can be audited later.
type ScoreBreakdown struct {
	Fields        []FieldScore `json:"fields"`
	LogOdds       float64      `json:"log_odds"`
	Probability   float64      `json:"probability"`
	ConfigVersion int          `json:"config_version"`
	HouseholdCap  bool         `json:"household_cap,omitempty"`
}

// Decision is the durable record of a resolution verdict.
type Decision struct {
	ID            string          `json:"id" db:"id"`
	ObservationID string          `json:"observation_id" db:"observation_id"`
	EntityID      *string         `json:"entity_id,omitempty" db:"entity_id"`
	Outcome       DecisionOutcome `json:"outcome" db:"outcome"`
	LogOdds       float64         `json:"log_odds" db:"log_odds"`
	Probability   float64         `json:"probability" db:"probability"`
	Breakdown     json.RawMessage `json:"breakdown" db:"breakdown"`
	ConfigVersion int             `json:"config_version" db:"config_version"`
	DecidedBy     *string         `json:"decided_by,omitempty" db:"decided_by"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}
