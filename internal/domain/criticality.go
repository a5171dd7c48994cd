package domain

import "strings"

// Criticality is the bounded severity verdict assigned to an article.
// The zero value None means the analyzer has not produced a verdict yet.
// Ordering is total: None < Low < Medium < High < Critical, and a stored
// article's level only ever moves forward from None.
type Criticality int

const (
	CriticalityNone Criticality = iota
	CriticalityLow
	CriticalityMedium
	CriticalityHigh
	CriticalityCritical
)

var criticalityNames = map[Criticality]string{
	CriticalityNone:     "NONE",
	CriticalityLow:      "LOW",
	CriticalityMedium:   "MEDIUM",
	CriticalityHigh:     "HIGH",
	CriticalityCritical: "CRITICAL",
}

// String renders the canonical upper-case name; unknown values render as NONE.
func (c Criticality) String() string {
	if name, ok := criticalityNames[c]; ok {
		return name
	}
	return "NONE"
}

// ParseCriticality maps a level name to its enum value, case-insensitively.
func ParseCriticality(value string) (Criticality, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for level, name := range criticalityNames {
		if name == normalized {
			return level, true
		}
	}
	return CriticalityNone, false
}
