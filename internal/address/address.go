// Package address holds the pure parsing and house-name generation helpers.
// Everything here is deterministic string-in, value-out: no I/O, no state.
package address

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultCountry is assumed when the input text carries no 4th component.
const DefaultCountry = "United States"

// Coordinate is a WGS84 point.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Address is a structured postal address. Coordinate is nil when no geocode
// is known; callers must check HasCoordinate before using it.
type Address struct {
	Street     string      `json:"street"`
	City       string      `json:"city"`
	State      string      `json:"state"`
	PostalCode string      `json:"postalCode"`
	Country    string      `json:"country"`
	Coordinate *Coordinate `json:"coordinate,omitempty"`
}

// HasCoordinate reports whether the address carries a real geocode.
func (a Address) HasCoordinate() bool {
	return a.Coordinate != nil
}

// FullText renders the address back to the comma-separated form Parse accepts.
func (a Address) FullText() string {
	statePostal := a.State
	if a.PostalCode != "" {
		statePostal = strings.TrimSpace(a.State + " " + a.PostalCode)
	}
	parts := []string{a.Street, a.City, statePostal}
	if a.Country != "" && a.Country != DefaultCountry {
		parts = append(parts, a.Country)
	}
	return strings.Join(parts, ", ")
}

// Parse splits free text into a structured address. It expects at least
// three comma-separated components (street, city, state+postal) and returns
// nil for anything shorter. The third component splits on whitespace: first
// token is the state, second (if present) the postal code. A 4th component
// is the country; otherwise DefaultCountry is assumed. The coordinate is
// taken from fallback when provided; the parsed text alone never yields one.
func Parse(text string, fallback *Coordinate) *Address {
	parts := strings.Split(text, ",")
	if len(parts) < 3 {
		return nil
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil
	}

	addr := &Address{
		Street:  parts[0],
		City:    parts[1],
		Country: DefaultCountry,
	}

	stateTokens := strings.Fields(parts[2])
	if len(stateTokens) > 0 {
		addr.State = stateTokens[0]
	}
	if len(stateTokens) > 1 {
		addr.PostalCode = stateTokens[1]
	}

	if len(parts) > 3 && parts[3] != "" {
		addr.Country = parts[3]
	}

	if fallback != nil {
		c := *fallback
		addr.Coordinate = &c
	}
	return addr
}

var (
	houseNumber = regexp.MustCompile(`^\d+$`)
	startsDigit = regexp.MustCompile(`^\d`)
)

// streetSuffixes is the vocabulary of street-type tokens stripped by
// GenerateHouseName, longest spellings first so "Street" wins over "St".
var streetSuffixes = []string{
	"boulevard", "blvd",
	"parkway", "pkwy",
	"street", "st",
	"avenue", "ave",
	"circle", "cir",
	"court", "ct",
	"drive", "dr",
	"place", "pl",
	"road", "rd",
	"lane", "ln",
	"way",
}

// GenerateHouseName derives a simple house name from a street: it strips a
// leading house number and a trailing street-type suffix, then appends
// " House". Returns "My House" when nothing survives the stripping.
func GenerateHouseName(street string) string {
	words := strings.Fields(strings.TrimSpace(street))
	if len(words) > 0 && houseNumber.MatchString(words[0]) {
		words = words[1:]
	}
	if len(words) > 0 {
		last := strings.ToLower(strings.TrimSuffix(words[len(words)-1], "."))
		for _, suffix := range streetSuffixes {
			if last == suffix {
				words = words[:len(words)-1]
				break
			}
		}
	}

	base := strings.TrimSpace(strings.Join(words, " "))
	if base == "" {
		return "My House"
	}
	return base + " House"
}

// streetTheme maps a recognized street-type token to the themed noun used
// for the primary suggestion.
var streetTheme = map[string]string{
	"street":    "House",
	"st":        "House",
	"avenue":    "Manor",
	"ave":       "Manor",
	"road":      "Lodge",
	"rd":        "Lodge",
	"lane":      "Cottage",
	"ln":        "Cottage",
	"drive":     "Villa",
	"dr":        "Villa",
	"court":     "Haven",
	"ct":        "Haven",
	"place":     "Residence",
	"pl":        "Residence",
	"way":       "Retreat",
	"circle":    "Nest",
	"cir":       "Nest",
	"boulevard": "Estate",
	"blvd":      "Estate",
}

// themedSecondaries produces the type-specific secondary variants for a base
// name given the themed noun chosen for it.
func themedSecondaries(base, theme string) []string {
	switch theme {
	case "House":
		return []string{"Casa " + base}
	case "Manor":
		return []string{base + " Estate"}
	case "Lodge":
		return []string{base + " Den"}
	case "Cottage":
		return []string{base + " Nook"}
	case "Villa":
		return []string{"Casa " + base}
	case "Haven":
		return []string{base + " Hideaway"}
	case "Residence":
		return []string{base + " House"}
	case "Retreat":
		return []string{base + " Hideaway"}
	case "Nest":
		return []string{base + " Perch"}
	case "Estate":
		return []string{base + " Manor"}
	default:
		return []string{base + " Home"}
	}
}

var cardinalDirections = map[string]bool{
	"n": true, "s": true, "e": true, "w": true,
	"north": true, "south": true, "east": true, "west": true,
}

var genericSuggestions = []string{"My Smart Home", "The Connected House"}

// GenerateHouseNameSuggestions produces 1–3 ranked house-name suggestions
// from free address text. A recognized street-type token themes the word
// before it; otherwise the first plausible token is suffixed generically.
// The result is deduplicated in order, padded with fixed generic names only
// when short, and never empty or longer than 3.
func GenerateHouseNameSuggestions(addressText string) []string {
	tokens := strings.Fields(strings.NewReplacer(",", " ", ".", " ").Replace(addressText))

	var suggestions []string

	// Primary path: word immediately before a recognized street-type token.
	for i, tok := range tokens {
		theme, ok := streetTheme[strings.ToLower(tok)]
		if !ok || i == 0 {
			continue
		}
		base := cleanBaseName(tokens[i-1])
		if base == "" {
			continue
		}
		suggestions = append(suggestions, base+" "+theme)
		suggestions = append(suggestions, themedSecondaries(base, theme)...)
		break
	}

	// Fallback: first non-numeric token longer than 2 chars that is not a
	// cardinal direction.
	if len(suggestions) == 0 {
		for _, tok := range tokens {
			base := cleanBaseName(tok)
			if base == "" || len(base) <= 2 {
				continue
			}
			if cardinalDirections[strings.ToLower(base)] {
				continue
			}
			if _, isType := streetTheme[strings.ToLower(base)]; isType {
				continue
			}
			suggestions = append(suggestions,
				base+" House",
				base+" Home",
				"Casa "+base,
			)
			break
		}
	}

	out := dedupe(suggestions)
	for _, generic := range genericSuggestions {
		if len(out) >= 3 {
			break
		}
		out = appendUnique(out, generic)
	}
	if len(out) == 0 {
		out = []string{genericSuggestions[0]}
	}
	if len(out) > 3 {
		out = out[:3]
	}
	return out
}

// cleanBaseName strips punctuation and rejects purely numeric tokens.
func cleanBaseName(tok string) string {
	base := strings.Trim(tok, ".,;:!?\"'()")
	if base == "" {
		return ""
	}
	if startsDigit.MatchString(base) {
		return ""
	}
	return titleCase(base)
}

func titleCase(word string) string {
	if word == "" {
		return word
	}
	return strings.ToUpper(word[:1]) + strings.ToLower(word[1:])
}

func dedupe(in []string) []string {
	var out []string
	for _, s := range in {
		out = appendUnique(out, s)
	}
	return out
}

func appendUnique(out []string, candidate string) []string {
	for _, existing := range out {
		if strings.EqualFold(existing, candidate) {
			return out
		}
	}
	return append(out, candidate)
}

// MetadataPair formats a coordinate for note metadata.
func (c Coordinate) MetadataPair() (lat, lon string) {
	return fmt.Sprintf("%.6f", c.Latitude), fmt.Sprintf("%.6f", c.Longitude)
}
