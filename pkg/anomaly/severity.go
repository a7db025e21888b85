package anomaly

// Severity is a bucketed confidence level.
type Severity string

// Severity levels, ordered from least to most severe.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type severityBand struct {
	lower, upper float64
	label        Severity
}

// Bands are [lower, upper) except the last, which includes 100.
var severityBands = []severityBand{
	{0, 60, SeverityLow},
	{60, 75, SeverityMedium},
	{75, 90, SeverityHigh},
	{90, 100, SeverityCritical},
}

// SeverityFor maps a confidence in [0, 100] to its severity level.
// Values outside the range clamp to the nearest band.
func SeverityFor(confidence float64) Severity {
	for _, b := range severityBands {
		if confidence < b.upper {
			return b.label
		}
	}
	return severityBands[len(severityBands)-1].label
}
