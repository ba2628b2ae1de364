package locator

import (
	"regexp"
	"strings"
)

var gridPattern = regexp.MustCompile(`^[A-Ra-r]{2}[0-9]{2}([A-Xa-x]{2})?([0-9]{2})?$`)

// Valid reports whether s is a plausible Maidenhead locator (4, 6 or 8
// characters).
func Valid(s string) bool {
	return gridPattern.MatchString(strings.TrimSpace(s))
}

// RegionLookup maps a grid locator to the location code a service expects
// (e.g. "US-NH"). The mapping is approximate: a grid square can straddle
// borders, so implementations are heuristics, not truth. Callers may inject
// a fuller table than the built-in one.
type RegionLookup interface {
	Region(grid string) (string, bool)
}

// StaticLookup resolves against a fixed prefix table, longest prefix first.
type StaticLookup struct {
	prefixes map[string]string
}

func NewStaticLookup(prefixes map[string]string) *StaticLookup {
	normalized := make(map[string]string, len(prefixes))
	for k, v := range prefixes {
		normalized[strings.ToUpper(strings.TrimSpace(k))] = v
	}
	return &StaticLookup{prefixes: normalized}
}

func (l *StaticLookup) Region(grid string) (string, bool) {
	g := strings.ToUpper(strings.TrimSpace(grid))
	// A malformed locator must not resolve by prefix accident.
	if !Valid(g) {
		return "", false
	}
	for n := len(g); n >= 2; n-- {
		if region, ok := l.prefixes[g[:n]]; ok {
			return region, true
		}
	}
	return "", false
}

// DefaultLookup is intentionally partial: it covers the grid fields and
// squares seen in practice from the supported services and nothing more.
func DefaultLookup() *StaticLookup {
	return NewStaticLookup(map[string]string{
		// North America
		"FN42": "US-MA",
		"FN43": "US-NH",
		"FN31": "US-CT",
		"FN30": "US-NY",
		"FM18": "US-VA",
		"FM19": "US-MD",
		"EM": "US-TN",
		"EL": "US-FL",
		"CM": "US-CA",
		"CN85": "US-OR",
		"CN87": "US-WA",
		"DM33": "US-AZ",
		"DN70": "US-CO",
		"FN03": "CA-ON",
		"FN25": "CA-QC",
		// Europe
		"IO91": "GB-ENG",
		"IO83": "GB-ENG",
		"IO75": "GB-SCT",
		"JO62": "DE-BE",
		"JN58": "DE-BY",
		"JN18": "FR-IDF",
		"JO22": "NL-NH",
		"JN76": "SI-0",
	})
}
