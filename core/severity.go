package core

// Severity classifies events and alerts.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRanks = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// IsValid reports whether s is a known severity.
func (s Severity) IsValid() bool {
	_, ok := severityRanks[s]
	return ok
}

// Rank returns the ordering position of s, info lowest. Unknown severities
// rank below info so they never win a max comparison.
func (s Severity) Rank() int {
	if r, ok := severityRanks[s]; ok {
		return r
	}
	return -1
}

func (s Severity) String() string {
	return string(s)
}

// MaxSeverity returns the highest-ranked severity in the slice, or
// SeverityInfo for an empty slice.
func MaxSeverity(severities []Severity) Severity {
	max := SeverityInfo
	for _, s := range severities {
		if s.Rank() > max.Rank() {
			max = s
		}
	}
	return max
}
