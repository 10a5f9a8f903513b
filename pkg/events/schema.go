package events

import (
	"time"

	"github.com/fieldhaven/atlas/pkg/models"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// Event types published to the identity events topic
const (
	EventEntityMerged     = "entity.merged"
	EventEntitySplit      = "entity.split"
	EventDecisionRecorded = "decision.recorded"
)

// EntityMergedEvent is published when two entities are merged
type EntityMergedEvent struct {
	EventType     string    `json:"event_type"`
	SchemaVersion string    `json:"schema_version"`
	SurvivorID    string    `json:"survivor_id"`
	MergedID      string    `json:"merged_id"`
	PerformedBy   *string   `json:"performed_by,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// EntitySplitEvent is published when a merged entity is restored
type EntitySplitEvent struct {
	EventType     string    `json:"event_type"`
	SchemaVersion string    `json:"schema_version"`
	SurvivorID    string    `json:"survivor_id"`
	RestoredID    string    `json:"restored_id"`
	PerformedBy   *string   `json:"performed_by,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// DecisionRecordedEvent is published for every pipeline decision
type DecisionRecordedEvent struct {
	EventType     string                 `json:"event_type"`
	SchemaVersion string                 `json:"schema_version"`
	ObservationID string                 `json:"observation_id"`
	EntityID      string                 `json:"entity_id,omitempty"`
	Outcome       models.DecisionOutcome `json:"outcome"`
	LogOdds       float64                `json:"log_odds"`
	Probability   float64                `json:"probability"`
	ConfigVersion int                    `json:"config_version"`
	Timestamp     time.Time              `json:"timestamp"`
}
