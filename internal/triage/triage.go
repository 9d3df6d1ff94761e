package triage

import "strings"

// Urgency is the closed set of triage tiers.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

var (
	highKeywords   = []string{"chest", "shortness", "unconscious", "bleeding", "fracture"}
	mediumKeywords = []string{"fever", "infection", "sprain", "pain", "cough"}
	lowKeywords    = []string{"mild", "headache", "checkup", "refill", "allergy"}
)

// Classify maps raw symptom text to an urgency tier with human-readable
// reasons. Matching is case-insensitive substring against fixed keyword sets,
// high before medium before low. Unmatched input defaults to medium so it is
// never silently treated as low-risk.
func Classify(symptoms string) (Urgency, []string) {
	normalized := strings.ToLower(symptoms)

	switch {
	case containsAny(normalized, highKeywords):
		return UrgencyHigh, []string{"High risk symptoms detected"}
	case containsAny(normalized, mediumKeywords):
		return UrgencyMedium, []string{"Moderate symptoms detected"}
	case containsAny(normalized, lowKeywords):
		return UrgencyLow, []string{"Routine or mild symptoms detected"}
	default:
		return UrgencyMedium, []string{"Defaulting to medium urgency for manual review"}
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
