// Package format renders ranked doctors as a chat-friendly text summary.
package format

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BTreeMap/DocFinder/internal/models"
)

const (
	// NoMatches is returned for an empty result list.
	NoMatches = "I couldn't find any specialists matching your criteria. You might want to contact your primary care physician for a referral."

	urgentBanner   = "⚠️ Based on your symptoms, this may require urgent attention. Please consider seeking immediate medical help if symptoms are severe. ⚠️\n\n"
	header         = "Here are some recommended doctors that might help with your symptoms:\n\n"
	telehealthNote = "Your symptoms may be suitable for an initial online consultation. Some of these doctors offer telehealth consultations, which may be suitable for your initial assessment."
	indent         = "   "
)

// Recommendations renders doctors as a numbered list. Absent fields are
// omitted. The result is never empty.
func Recommendations(doctors []models.Doctor, urgent, telehealth bool) string {
	if len(doctors) == 0 {
		return NoMatches
	}

	var b strings.Builder
	if urgent {
		b.WriteString(urgentBanner)
	}
	b.WriteString(header)
	for i := range doctors {
		writeDoctor(&b, i+1, &doctors[i])
		b.WriteString("\n")
	}
	if telehealth {
		b.WriteString(telehealthNote)
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeDoctor(b *strings.Builder, n int, d *models.Doctor) {
	fmt.Fprintf(b, "%d. %s\n", n, d.FullName())

	field := func(label, value string) {
		if value = strings.TrimSpace(value); value != "" {
			fmt.Fprintf(b, "%s%s %s\n", indent, label, value)
		}
	}
	field("Specialty:", strings.Join(d.SpecialtyNames(), ", "))
	field("Languages:", strings.Join(d.Languages, ", "))
	field("Location:", location(d))
	if d.AverageRating > 0 {
		field("Rating:", strconv.FormatFloat(d.AverageRating, 'f', -1, 64)+"/5")
	}
	if d.ServiceType != "" {
		field("Avg. Wait Time:", d.ServiceType.String()+" days")
	}
	field("Info:", d.HealthcareProfessionalInfo)
	field("Consultation Fees:", d.Fees.String())
	if d.IsOnline {
		b.WriteString(indent + "✓ Telehealth Available\n")
	}
	field("Website:", d.WebURL)
}

func location(d *models.Doctor) string {
	parts := make([]string, 0, 2)
	if d.City != nil && d.City.Name != "" {
		parts = append(parts, d.City.Name)
	}
	if d.Country != nil && d.Country.Name != "" {
		parts = append(parts, d.Country.Name)
	}
	return strings.Join(parts, ", ")
}
