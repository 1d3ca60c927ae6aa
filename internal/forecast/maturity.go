package forecast

// Maturity grades how much history a series carries. Used to gate model
// invocation and annotate run summaries.
type Maturity struct {
	Days       int
	Level      string
	Confidence float64
}

// AssessMaturity buckets a series by observed days.
func AssessMaturity(days int) Maturity {
	switch {
	case days < 3:
		return Maturity{Days: days, Level: "insufficient", Confidence: 0}
	case days < 7:
		return Maturity{Days: days, Level: "minimal", Confidence: 0.25}
	case days < 14:
		return Maturity{Days: days, Level: "limited", Confidence: 0.5}
	case days < 30:
		return Maturity{Days: days, Level: "moderate", Confidence: 0.75}
	default:
		return Maturity{Days: days, Level: "good", Confidence: 0.95}
	}
}
