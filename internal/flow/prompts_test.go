package flow

import (
	"strings"
	"testing"

	"github.com/BTreeMap/DocFinder/internal/models"
)

func TestRenderSystemPrompt(t *testing.T) {
	known := RenderSystemPrompt(zurich())
	if !strings.Contains(known, "stored in your profile: Zurich, Switzerland.") {
		t.Error("known location must be substituted")
	}
	if strings.Contains(known, "{patient_city}") || strings.Contains(known, "{patient_country}") {
		t.Error("placeholders must be replaced")
	}

	for _, loc := range []*models.PatientLocation{nil, {City: models.StringPtr("Zurich")}} {
		unknown := RenderSystemPrompt(loc)
		if !strings.Contains(unknown, noLocationLine) || strings.Contains(unknown, "{patient_city}") {
			t.Errorf("partial or missing location must render the no-location variant")
		}
	}
	if RenderSystemPrompt(zurich()) != known {
		t.Error("rendering must be deterministic")
	}
}

func TestSubstitutePlaceholders(t *testing.T) {
	in := "Doctors near {location} ({patient_city} in {patient_country})"
	if got := SubstitutePlaceholders(in, zurich()); got != "Doctors near Zurich, Switzerland (Zurich in Switzerland)" {
		t.Errorf("SubstitutePlaceholders = %q", got)
	}
	if got := SubstitutePlaceholders(in, nil); got != in {
		t.Errorf("unknown location must leave reply unchanged, got %q", got)
	}
}

func TestLocationLockTurn(t *testing.T) {
	turn := LocationLockTurn(zurich())
	if turn.Role != models.RoleSystem || turn.Content != "PATIENT LOCATION LOCK: Zurich, Switzerland" {
		t.Errorf("unexpected lock turn %+v", turn)
	}
}
