package flow

import (
	"testing"

	"github.com/BTreeMap/DocFinder/internal/models"
)

func TestApplyNearMe(t *testing.T) {
	tests := []struct {
		name    string
		message string
		loc     *models.PatientLocation
		city    *string
		want    bool
		wantCty string
	}{
		{"overrides explicit city", "dermatologist NEAR ME", zurich(), models.StringPtr("Basel"), true, "Zurich"},
		{"fills missing city", "any gp near me?", zurich(), nil, true, "Zurich"},
		{"no phrase", "dermatologist in Basel", zurich(), models.StringPtr("Basel"), false, "Basel"},
		{"unknown location", "near me", nil, nil, false, ""},
		{"partial location", "near me", &models.PatientLocation{City: models.StringPtr("Zurich")}, nil, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := &models.Intent{SpecialistType: "dermatologist", City: tt.city}
			if got := ApplyNearMe(in, tt.message, tt.loc); got != tt.want {
				t.Errorf("ApplyNearMe = %v, want %v", got, tt.want)
			}
			if models.Deref(in.City) != tt.wantCty {
				t.Errorf("city = %q, want %q", models.Deref(in.City), tt.wantCty)
			}
			if tt.want && !in.HasExplicitLocation() {
				t.Error("overridden location must count as explicit")
			}
		})
	}
	if ApplyNearMe(nil, "near me", zurich()) {
		t.Error("nil intent must be ignored")
	}
}

func TestApplyHints(t *testing.T) {
	in := &models.Intent{City: models.StringPtr("Bern")}
	ApplyHints(in, models.ChatRequest{
		City:     models.StringPtr("Geneva"),
		Country:  models.StringPtr("Switzerland"),
		Language: new(string),
	})
	if models.Deref(in.City) != "Bern" {
		t.Error("intent city must win over hint")
	}
	if models.Deref(in.Country) != "Switzerland" {
		t.Error("hint must fill missing country")
	}
	if in.Language != nil {
		t.Error("blank hint must stay nil")
	}
	if in.TelehealthAppropriate {
		t.Error("telehealth must stay false without hint")
	}

	ApplyHints(in, models.ChatRequest{TelehealthAppropriate: true})
	if !in.TelehealthAppropriate {
		t.Error("telehealth hint must force the filter")
	}
	ApplyHints(nil, models.ChatRequest{})
}
