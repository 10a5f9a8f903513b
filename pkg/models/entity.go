package models

import (
	"time"
)

// EntityKind classifies a canonical entity
type EntityKind string

const (
	// EntityKindPerson is an individual human
	EntityKindPerson EntityKind = "person"
	// EntityKindPlace is a location such as a household or facility
	EntityKindPlace EntityKind = "place"
	// EntityKindAnimal is an animal linked to a person or place
	EntityKindAnimal EntityKind = "animal"
)

// EntityQuality flags entities whose identifying data is weak
type EntityQuality string

const (
	// EntityQualityNormal is a fully identified entity
	EntityQualityNormal EntityQuality = "normal"
	// EntityQualityLowInformation marks entities created from records with
	// placeholder or unusable names. They are excluded from candidate
	// generation by name.
	EntityQualityLowInformation EntityQuality = "low_information"
)

// CanonicalEntity is the golden record for a resolved identity. An entity
// that has been merged away points at its survivor via MergedInto and is
// never deleted.
type CanonicalEntity struct {
	ID          string        `json:"id" db:"id"`
	Kind        EntityKind    `json:"kind" db:"kind"`
	DisplayName string        `json:"display_name" db:"display_name"`
	FirstName   *string       `json:"first_name,omitempty" db:"first_name"`
	LastName    *string       `json:"last_name,omitempty" db:"last_name"`
	Quality     EntityQuality `json:"quality" db:"quality"`
	MergedInto  *string       `json:"merged_into,omitempty" db:"merged_into"`
	MergedAt    *time.Time    `json:"merged_at,omitempty" db:"merged_at"`
	SourceCount int           `json:"source_count" db:"source_count"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" db:"updated_at"`
	Version     int           `json:"version" db:"version"`
}

// IsMerged reports whether this entity has been merged into another.
func (e *CanonicalEntity) IsMerged() bool {
	return e.MergedInto != nil && *e.MergedInto != ""
}
