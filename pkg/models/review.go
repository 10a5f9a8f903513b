package models

import (
	"encoding/json"
	"time"
)

// ReviewTier buckets review items by score for queue ordering
type ReviewTier string

const (
	// ReviewTierHigh is near-certain matches awaiting confirmation
	ReviewTierHigh ReviewTier = "high"
	// ReviewTierMedium is plausible matches needing judgment
	ReviewTierMedium ReviewTier = "medium"
	// ReviewTierLow is weak matches kept for completeness
	ReviewTierLow ReviewTier = "low"
)

// ReviewStatus is the state of a review queue item
type ReviewStatus string

const (
	// ReviewStatusPending awaits a reviewer
	ReviewStatusPending ReviewStatus = "pending"
	// ReviewStatusConfirmed was approved; the merge was executed
	ReviewStatusConfirmed ReviewStatus = "confirmed"
	// ReviewStatusRejected was declined; a kept_separate edge was recorded
	ReviewStatusRejected ReviewStatus = "rejected"
	// ReviewStatusStale was invalidated by a newer observation or a merge of
	// one of its entities
	ReviewStatusStale ReviewStatus = "stale"
)

// ReviewItem is a candidate match pair awaiting a human verdict. Confidence
// only ratchets upward: re-observing the same pair keeps the higher score.
type ReviewItem struct {
	ID            string          `json:"id" db:"id"`
	ObservationID string          `json:"observation_id" db:"observation_id"`
	EntityID      string          `json:"entity_id" db:"entity_id"`
	OtherEntityID *string         `json:"other_entity_id,omitempty" db:"other_entity_id"`
	Tier          ReviewTier      `json:"tier" db:"tier"`
	Status        ReviewStatus    `json:"status" db:"status"`
	LogOdds       float64         `json:"log_odds" db:"log_odds"`
	Probability   float64         `json:"probability" db:"probability"`
	Breakdown     json.RawMessage `json:"breakdown" db:"breakdown"`
	ConfigVersion int             `json:"config_version" db:"config_version"`
	ReviewedBy    *string         `json:"reviewed_by,omitempty" db:"reviewed_by"`
	ReviewedAt    *time.Time      `json:"reviewed_at,omitempty" db:"reviewed_at"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// ReviewVerdictRequest records a reviewer's verdict on a pending item
type ReviewVerdictRequest struct {
	Approve bool    `json:"approve"`
	Note    *string `json:"note,omitempty"`
}
