package flow

import (
	"strings"

	"github.com/BTreeMap/DocFinder/internal/models"
)

const nearMePhrase = "near me"

// ApplyNearMe overrides the intent location with the patient's registered
// location when the message says "near me". The override applies even when
// the model extracted a location and the result counts as explicit, so the
// search does not widen to a global fallback. It reports whether the
// override happened.
func ApplyNearMe(in *models.Intent, message string, loc *models.PatientLocation) bool {
	if in == nil || !loc.Known() {
		return false
	}
	if !strings.Contains(strings.ToLower(message), nearMePhrase) {
		return false
	}
	city, country := *loc.City, *loc.Country
	in.City = &city
	in.Country = &country
	return true
}

// ApplyHints fills intent gaps from the request hints. Values extracted from
// the reply win; a telehealth hint of true forces the hard filter.
func ApplyHints(in *models.Intent, req models.ChatRequest) {
	if in == nil {
		return
	}
	if in.City == nil {
		in.City = trimmed(req.City)
	}
	if in.Country == nil {
		in.Country = trimmed(req.Country)
	}
	if in.Language == nil {
		in.Language = trimmed(req.Language)
	}
	if req.TelehealthAppropriate {
		in.TelehealthAppropriate = true
	}
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	return models.StringPtr(*s)
}
