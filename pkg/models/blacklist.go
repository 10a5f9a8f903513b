package models

import (
	"time"
)

// BlacklistEntry marks an identifier value as shared or junk. Blacklisted
// values are stripped from observations before scoring rather than rejected,
// so a record carrying one still resolves on its remaining evidence.
type BlacklistEntry struct {
	ID        string         `json:"id" db:"id"`
	Type      IdentifierType `json:"type" db:"type"`
	Value     string         `json:"value" db:"value"`
	Reason    *string        `json:"reason,omitempty" db:"reason"`
	CreatedBy *string        `json:"created_by,omitempty" db:"created_by"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	DeletedAt *time.Time     `json:"deleted_at,omitempty" db:"deleted_at"`
}

// CreateBlacklistEntryRequest adds a value to the blacklist
type CreateBlacklistEntryRequest struct {
	Type   IdentifierType `json:"type" validate:"required,oneof=email phone name_token address"`
	Value  string         `json:"value" validate:"required"`
	Reason *string        `json:"reason,omitempty"`
}
