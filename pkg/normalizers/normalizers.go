// Package normalizers provides field normalization for the identifier index
package normalizers

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

// registry holds all registered normalizers
var registry = make(map[string]Normalizer)

func init() {
	// Register built-in normalizers
	Register("lowercase", Lowercase)
	Register("trim", Trim)
	Register("nphone", NormalizePhone)
	Register("nemail", NormalizeEmail)
	Register("nname", NormalizeName)
	Register("naddress", NormalizeAddress)
	Register("digits_only", DigitsOnly)
	Register("alphanumeric", Alphanumeric)
}

// Register adds a normalizer to the registry
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

// Get retrieves a normalizer by name
func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Apply applies a named normalizer to a value
func Apply(value, normalizer string) string {
	fn, ok := registry[normalizer]
	if !ok {
		return value
	}
	return fn(value)
}

// ApplyChain applies multiple normalizers in sequence
func ApplyChain(value string, normalizers ...string) string {
	result := value
	for _, name := range normalizers {
		result = Apply(result, name)
	}
	return result
}

// Lowercase converts string to lowercase
func Lowercase(s string) string {
	return strings.ToLower(s)
}

// Trim removes leading and trailing whitespace
func Trim(s string) string {
	return strings.TrimSpace(s)
}

// NormalizePhone reduces a phone number to its digits. An 11-digit number
// with a leading 1 has the country code stripped. Numbers under 10 digits
// carry no matching signal and normalize to empty.
func NormalizePhone(s string) string {
	digits := DigitsOnly(s)
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) < 10 {
		return ""
	}
	return digits
}

// NormalizeEmail normalizes an email address (lowercase, trim). Values
// without an @ normalize to empty.
func NormalizeEmail(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	at := strings.Index(s, "@")
	if at <= 0 || at == len(s)-1 {
		return ""
	}
	return s
}

// NormalizeName normalizes a person's name for matching
// - Lowercase
// - Remove common suffixes (Jr., Sr., III, etc.)
// - Remove punctuation, collapse whitespace
func NormalizeName(s string) string {
	s = strings.ToLower(s)

	suffixes := []string{" jr.", " jr", " sr.", " sr", " iii", " ii", " iv", " phd", " md", " dds", " dvm"}
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			s = s[:len(s)-len(suffix)]
		}
	}

	var result strings.Builder
	prevSpace := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
			prevSpace = false
		} else if unicode.IsSpace(r) || r == '-' || r == '\'' {
			if !prevSpace {
				result.WriteRune(' ')
				prevSpace = true
			}
		}
	}

	return strings.TrimSpace(result.String())
}

// NameTokens splits a normalized name into its unique tokens, sorted.
// Single-character tokens (initials) are dropped.
func NameTokens(s string) []string {
	seen := make(map[string]bool)
	var tokens []string
	for _, token := range strings.Fields(NormalizeName(s)) {
		if len(token) < 2 || seen[token] {
			continue
		}
		seen[token] = true
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens
}

// DigitsOnly keeps only digit characters
func DigitsOnly(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// Alphanumeric keeps only alphanumeric characters
func Alphanumeric(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// NormalizeZipCode normalizes a US zip code
func NormalizeZipCode(s string) string {
	digits := DigitsOnly(s)
	if len(digits) == 5 || len(digits) == 9 {
		return digits
	}
	return ""
}

var spaceRe = regexp.MustCompile(`\s+`)

// NormalizeAddress normalizes a street address string
func NormalizeAddress(s string) string {
	s = strings.ToLower(s)

	replacements := map[string]string{
		" street":    " st",
		" avenue":    " ave",
		" boulevard": " blvd",
		" drive":     " dr",
		" road":      " rd",
		" lane":      " ln",
		" court":     " ct",
		" circle":    " cir",
		" place":     " pl",
		" trail":     " trl",
		" highway":   " hwy",
		" apartment": " apt",
		" suite":     " ste",
		" unit":      " unit",
		" north":     " n",
		" south":     " s",
		" east":      " e",
		" west":      " w",
	}

	for full, abbr := range replacements {
		s = strings.ReplaceAll(s, full, abbr)
	}

	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) && r != '-' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// GeoBucket maps a coordinate pair onto a coarse grid cell roughly a
// kilometer on a side. Entities in the same or adjacent cells are treated
// as geographically corroborated.
func GeoBucket(lat, lng float64) string {
	return fmt.Sprintf("%.2f:%.2f", gridSnap(lat), gridSnap(lng))
}

// GeoBucketNeighbors returns the bucket for the coordinate and its eight
// surrounding cells.
func GeoBucketNeighbors(lat, lng float64) []string {
	buckets := make([]string, 0, 9)
	for dlat := -1; dlat <= 1; dlat++ {
		for dlng := -1; dlng <= 1; dlng++ {
			buckets = append(buckets, GeoBucket(lat+float64(dlat)*gridSize, lng+float64(dlng)*gridSize))
		}
	}
	return buckets
}

const gridSize = 0.01

func gridSnap(v float64) float64 {
	snapped := float64(int(v/gridSize)) * gridSize
	if v < 0 && v != snapped {
		snapped -= gridSize
	}
	return snapped
}
