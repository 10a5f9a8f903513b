// Package nameclass classifies names by how much matching signal they carry.
package nameclass

import (
	"strings"

	"github.com/fieldhaven/atlas/pkg/models"
	"github.com/fieldhaven/atlas/pkg/normalizers"
)

// placeholders are filler values source systems use when a name is unknown.
var placeholders = map[string]bool{
	"unknown":        true,
	"unk":            true,
	"n/a":            true,
	"na":             true,
	"none":           true,
	"test":           true,
	"testing":        true,
	"anonymous":      true,
	"anon":           true,
	"no name":        true,
	"noname":         true,
	"not provided":   true,
	"not available":  true,
	"declined":       true,
	"refused":        true,
	"caller":         true,
	"walk in":        true,
	"walkin":         true,
	"tbd":            true,
	"xxx":            true,
	"asdf":           true,
	"first":          true,
	"last":           true,
	"firstname":      true,
	"lastname":       true,
	"customer":       true,
	"client":         true,
	"resident":       true,
	"homeowner":      true,
	"property owner": true,
}

// orgMarkers are tokens that indicate a business or organization name.
var orgMarkers = map[string]bool{
	"llc":          true,
	"inc":          true,
	"corp":         true,
	"co":           true,
	"ltd":          true,
	"company":      true,
	"corporation":  true,
	"incorporated": true,
	"services":     true,
	"management":   true,
	"properties":   true,
	"property":     true,
	"apartments":   true,
	"hoa":          true,
	"association":  true,
	"county":       true,
	"city":         true,
	"department":   true,
	"dept":         true,
	"clinic":       true,
	"hospital":     true,
	"shelter":      true,
	"rescue":       true,
	"humane":       true,
	"society":      true,
	"church":       true,
	"school":       true,
	"university":   true,
	"farm":         true,
	"farms":        true,
	"ranch":        true,
	"kennel":       true,
	"kennels":      true,
}

// Classify categorizes a raw name. Placeholder and unclassifiable names must
// not drive candidate generation; entities created from them are flagged low
// information.
func Classify(raw string) models.NameClass {
	normalized := normalizers.NormalizeName(raw)
	if normalized == "" {
		return models.NameClassUnclassifiable
	}

	if placeholders[normalized] {
		return models.NameClassPlaceholder
	}

	tokens := strings.Fields(normalized)

	allPlaceholder := true
	for _, token := range tokens {
		if orgMarkers[token] {
			return models.NameClassOrganization
		}
		if !placeholders[token] {
			allPlaceholder = false
		}
	}
	if allPlaceholder {
		return models.NameClassPlaceholder
	}

	// A single short token or a digit-only name is too weak to classify.
	if len(tokens) == 1 && len(tokens[0]) < 3 {
		return models.NameClassUnclassifiable
	}
	if normalizers.DigitsOnly(normalized) == strings.ReplaceAll(normalized, " ", "") {
		return models.NameClassUnclassifiable
	}

	return models.NameClassPerson
}

// UsableForMatching reports whether a name of this class may contribute name
// evidence and name-based candidates.
func UsableForMatching(class models.NameClass) bool {
	return class == models.NameClassPerson || class == models.NameClassOrganization
}
