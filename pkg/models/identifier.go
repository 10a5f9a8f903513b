package models

import (
	"time"
)

// IdentifierType is the kind of identifying value attached to an entity
type IdentifierType string

const (
	// IdentifierTypeEmail is a normalized email address
	IdentifierTypeEmail IdentifierType = "email"
	// IdentifierTypePhone is a normalized phone number
	IdentifierTypePhone IdentifierType = "phone"
	// IdentifierTypeNameToken is a single normalized name token
	IdentifierTypeNameToken IdentifierType = "name_token"
	// IdentifierTypeAddress is a normalized street address
	IdentifierTypeAddress IdentifierType = "address"
	// IdentifierTypeGeoBucket is a coarse latitude/longitude grid cell
	IdentifierTypeGeoBucket IdentifierType = "geo_bucket"
	// IdentifierTypeExternalRef is a source system record reference
	IdentifierTypeExternalRef IdentifierType = "external_ref"
)

// Identifier is a normalized identifying value linked to an entity. The
// identifier index is the sole source of match candidates.
type Identifier struct {
	ID        string         `json:"id" db:"id"`
	EntityID  string         `json:"entity_id" db:"entity_id"`
	Type      IdentifierType `json:"type" db:"type"`
	Value     string         `json:"value" db:"value"`
	Source    string         `json:"source" db:"source"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}
