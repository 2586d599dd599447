package models

// Intent is the structured request derived from one assistant reply.
//
// Optional location and language fields are nil when the model did not supply
// them; an explicit JSON null and a missing key both decode to nil.
type Intent struct {
	SpecialistType        string   `json:"specialist_type"`
	City                  *string  `json:"city"`
	Country               *string  `json:"country"`
	Language              *string  `json:"language"`
	Symptoms              []string `json:"symptoms,omitempty"`
	Urgent                bool     `json:"urgent"`
	TelehealthAppropriate bool     `json:"telehealth_appropriate"`
	GPAppropriate         bool     `json:"gp_appropriate,omitempty"`
	QuestioningComplete   bool     `json:"questioning_complete"`
	Severity              string   `json:"severity,omitempty"`
}

// WantsSearch reports whether the intent asks for a search. A completion flag
// without a specialist type is a contract violation and does not trigger one.
func (i *Intent) WantsSearch() bool {
	return i != nil && i.QuestioningComplete && i.SpecialistType != ""
}

// HasSymptoms reports whether the reply extracted any symptoms.
func (i *Intent) HasSymptoms() bool {
	return i != nil && len(i.Symptoms) > 0
}

// HasExplicitLocation reports whether the intent names a city or a country.
func (i *Intent) HasExplicitLocation() bool {
	return i != nil && (i.City != nil || i.Country != nil)
}

// SeverityLabel returns "high" for urgent intents, the model-supplied severity
// when present, and "medium" otherwise.
func (i *Intent) SeverityLabel() string {
	switch {
	case i == nil:
		return "medium"
	case i.Urgent:
		return "high"
	case i.Severity != "":
		return i.Severity
	default:
		return "medium"
	}
}
