package models

import (
	"encoding/json"
	"time"
)

// FieldParams holds the match and non-match probabilities for one field.
// Weights are derived from them: agreement log2(m/u), disagreement
// log2((1-m)/(1-u)).
type FieldParams struct {
	Field string  `json:"field"`
	M     float64 `json:"m" validate:"gt=0,lt=1"`
	U     float64 `json:"u" validate:"gt=0,lt=1"`
}

// MatchParams is the full scoring parameter set for one config version.
// HouseholdCap is the shared-address entity count above which an address
// stops driving merges; AddressWeightCap bounds how many bits a shared
// address can contribute and must stay below the upper threshold.
type MatchParams struct {
	Fields           []FieldParams `json:"fields"`
	UpperThreshold   float64       `json:"upper_threshold"`
	LowerThreshold   float64       `json:"lower_threshold"`
	HouseholdCap     int           `json:"household_cap"`
	AddressWeightCap float64       `json:"address_weight_cap"`
	CandidateLimit   int           `json:"candidate_limit"`
}

// MatchConfig is a versioned, immutable scoring configuration. Every
// decision records the version it was scored under.
type MatchConfig struct {
	ID        string          `json:"id" db:"id"`
	Version   int             `json:"version" db:"version"`
	Params    json.RawMessage `json:"params" db:"params"`
	Comment   *string         `json:"comment,omitempty" db:"comment"`
	Active    bool            `json:"active" db:"active"`
	CreatedBy *string         `json:"created_by,omitempty" db:"created_by"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// CreateMatchConfigRequest publishes a new config version
type CreateMatchConfigRequest struct {
	Params  MatchParams `json:"params" validate:"required"`
	Comment *string     `json:"comment,omitempty"`
}
