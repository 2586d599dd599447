package store

import (
	"database/sql"
	"fmt"

	"github.com/BTreeMap/DocFinder/internal/models"
)

// scanPatientRow scans a Patient joined with its city and country names.
func scanPatientRow(row *sql.Row) (*models.Patient, error) {
	var p models.Patient
	var city, country sql.NullString
	if err := row.Scan(&p.ID, &p.Name, &p.Phone, &city, &country); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("scan patient failed: %w", err)
	}
	if city.Valid {
		p.Location.City = models.StringPtr(city.String)
	}
	if country.Valid {
		p.Location.Country = models.StringPtr(country.String)
	}
	return &p, nil
}
