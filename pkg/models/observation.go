package models

import (
	"encoding/json"
	"time"
)

// ObservationStatus tracks an observation through the pipeline
type ObservationStatus string

const (
	// ObservationStatusPending is queued for resolution
	ObservationStatusPending ObservationStatus = "pending"
	// ObservationStatusProcessed has been resolved to an entity or a verdict
	ObservationStatusProcessed ObservationStatus = "processed"
	// ObservationStatusSuperseded was replaced by a newer observation for
	// the same source record before it finished processing
	ObservationStatusSuperseded ObservationStatus = "superseded"
	// ObservationStatusQuarantined failed processing past the retry limit
	ObservationStatusQuarantined ObservationStatus = "quarantined"
)

// RawIdentifier is a single identifying value as received from a source
// system, before normalization.
type RawIdentifier struct {
	Type  string `json:"type" validate:"required"`
	Value string `json:"value" validate:"required"`
}

// Observation is a sighting of an identity from a source system. The pair
// (Source, SourceRecordID) identifies the upstream record; Version increases
// each time the upstream record is re-observed.
type Observation struct {
	ID             string            `json:"id" db:"id"`
	Source         string            `json:"source" db:"source"`
	SourceRecordID string            `json:"source_record_id" db:"source_record_id"`
	Kind           EntityKind        `json:"kind" db:"kind"`
	RawIdentifiers json.RawMessage   `json:"raw_identifiers" db:"raw_identifiers"`
	Fingerprint    string            `json:"fingerprint" db:"fingerprint"`
	Version        int               `json:"version" db:"version"`
	Status         ObservationStatus `json:"status" db:"status"`
	EntityID       *string           `json:"entity_id,omitempty" db:"entity_id"`
	ObservedAt     time.Time         `json:"observed_at" db:"observed_at"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at" db:"updated_at"`
}

// NormalizedObservation is an observation after normalization, ready for
// candidate generation and scoring.
type NormalizedObservation struct {
	ObservationID string
	Kind          EntityKind
	FirstName     string
	LastName      string
	NameTokens    []string
	NameClass     NameClass
	Emails        []string
	Phones        []string
	Address       string
	Latitude      *float64
	Longitude     *float64
	GeoBucket     string
	ExternalRefs  []string
}

// NameClass classifies the usefulness of a name for matching
type NameClass string

const (
	// NameClassPerson looks like a real personal name
	NameClassPerson NameClass = "person"
	// NameClassOrganization looks like a business or organization name
	NameClassOrganization NameClass = "organization"
	// NameClassPlaceholder is a filler value such as "unknown" or "test"
	NameClassPlaceholder NameClass = "placeholder"
	// NameClassUnclassifiable could not be classified
	NameClassUnclassifiable NameClass = "unclassifiable"
)
