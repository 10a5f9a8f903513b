package models

import (
	"time"
)

// EdgeType is the relationship asserted between two entities
type EdgeType string

const (
	// EdgeTypeMergedInto records that the left entity was merged into the
	// right entity
	EdgeTypeMergedInto EdgeType = "merged_into"
	// EdgeTypeKeptSeparate records a human verdict that two entities are
	// distinct. It suppresses future automatic merges unless new evidence
	// scores higher than it did at verdict time.
	EdgeTypeKeptSeparate EdgeType = "kept_separate"
	// EdgeTypeSplit records that a previous merge was undone
	EdgeTypeSplit EdgeType = "split"
)

// IdentityEdge is an assertion about the relationship between two entities.
// Edges are append-only; a split does not remove the merge edge it reverses,
// it records a new edge pointing back at it through ReferencesEdgeID.
type IdentityEdge struct {
	ID               string    `json:"id" db:"id"`
	LeftEntityID     string    `json:"left_entity_id" db:"left_entity_id"`
	RightEntityID    string    `json:"right_entity_id" db:"right_entity_id"`
	Type             EdgeType  `json:"type" db:"type"`
	Reason           *string   `json:"reason,omitempty" db:"reason"`
	ScoreAtVerdict   *float64  `json:"score_at_verdict,omitempty" db:"score_at_verdict"`
	ReferencesEdgeID *string   `json:"references_edge_id,omitempty" db:"references_edge_id"`
	CreatedBy        *string   `json:"created_by,omitempty" db:"created_by"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// SplitEntityRequest undoes a specific merge edge by re-homing the listed
// mis-merged identifiers onto a fresh entity.
type SplitEntityRequest struct {
	EdgeID        string   `json:"edge_id" validate:"required"`
	IdentifierIDs []string `json:"identifier_ids" validate:"required,min=1"`
	Reason        *string  `json:"reason,omitempty"`
}
