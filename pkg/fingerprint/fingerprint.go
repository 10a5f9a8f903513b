// Package fingerprint derives deterministic content hashes for observations.
// Re-delivery of an unchanged source record produces the same fingerprint,
// which makes intake idempotent.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/fieldhaven/atlas/pkg/models"
)

// Observation fingerprints the identifying content of an observation. The
// observed-at timestamp is deliberately excluded so that a re-export of the
// same record hashes identically.
func Observation(source, sourceRecordID string, kind models.EntityKind, identifiers []models.RawIdentifier) string {
	parts := make([]string, 0, len(identifiers)+3)
	parts = append(parts, source, sourceRecordID, string(kind))

	values := make([]string, 0, len(identifiers))
	for _, id := range identifiers {
		values = append(values, id.Type+"="+id.Value)
	}
	sort.Strings(values)
	parts = append(parts, values...)

	hash := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(hash[:])
}

// FromJSON fingerprints raw identifier JSON as carried on the wire.
func FromJSON(source, sourceRecordID string, kind models.EntityKind, rawIdentifiers json.RawMessage) (string, error) {
	var identifiers []models.RawIdentifier
	if err := json.Unmarshal(rawIdentifiers, &identifiers); err != nil {
		return "", err
	}
	return Observation(source, sourceRecordID, kind, identifiers), nil
}

// HasChanged compares two fingerprints.
func HasChanged(oldFingerprint, newFingerprint string) bool {
	return oldFingerprint != newFingerprint
}
