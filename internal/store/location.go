package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/BTreeMap/DocFinder/internal/models"
)

// DefaultLocationTTL bounds how long a resolved patient location is cached.
const DefaultLocationTTL = time.Hour

// PatientLookup is the read side of PatientRepo used for location lookups.
type PatientLookup interface {
	GetPatient(ctx context.Context, id string) (*models.Patient, error)
}

// LocationResolver returns a patient's registered city and country, caching
// found patients in a KV.
type LocationResolver struct {
	patients PatientLookup
	kv       KV
	ttl      time.Duration
}

func NewLocationResolver(patients PatientLookup, kv KV, ttl time.Duration) *LocationResolver {
	if ttl <= 0 {
		ttl = DefaultLocationTTL
	}
	return &LocationResolver{patients: patients, kv: kv, ttl: ttl}
}

func locationKey(patientID string) string {
	return "patient_location:" + patientID
}

// Resolve returns the patient's location. An unknown patient yields a nil
// location and a nil error.
func (r *LocationResolver) Resolve(ctx context.Context, patientID string) (*models.PatientLocation, error) {
	key := locationKey(patientID)
	if r.kv != nil {
		if data, ok, err := r.kv.Get(ctx, key); err != nil {
			slog.Warn("LocationResolver.Resolve: cache read failed", "patientID", patientID, "error", err)
		} else if ok {
			var loc models.PatientLocation
			if err := json.Unmarshal(data, &loc); err == nil {
				return &loc, nil
			}
		}
	}

	p, err := r.patients.GetPatient(ctx, patientID)
	if errors.Is(err, ErrPatientNotFound) {
		slog.Info("LocationResolver.Resolve: patient not found", "patientID", patientID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	loc := p.Location
	if r.kv != nil {
		if data, err := json.Marshal(loc); err == nil {
			if err := r.kv.Set(ctx, key, data, r.ttl); err != nil {
				slog.Warn("LocationResolver.Resolve: cache write failed", "patientID", patientID, "error", err)
			}
		}
	}
	slog.Debug("LocationResolver.Resolve: resolved", "patientID", patientID,
		"city", models.Deref(loc.City), "country", models.Deref(loc.Country))
	return &loc, nil
}
