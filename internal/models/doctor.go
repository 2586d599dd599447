package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// TagAcceptingPatients marks practitioners currently taking new patients.
const TagAcceptingPatients = "Accepting Patients"

// NamedRef is a {name: ...} object as stored in the search index.
type NamedRef struct {
	Name string `json:"name"`
}

// CityRef is the nested city object of an indexed practitioner.
type CityRef struct {
	Name   string    `json:"name"`
	Canton *NamedRef `json:"canton,omitempty"`
}

// Doctor is the read-only projection of a practitioner returned by the index.
type Doctor struct {
	ID                         FlexString `json:"id"`
	Title                      string     `json:"title,omitempty"`
	FirstName                  string     `json:"first_name,omitempty"`
	LastName                   string     `json:"last_name,omitempty"`
	Specialties                []NamedRef `json:"specialties,omitempty"`
	Languages                  StringList `json:"languages,omitempty"`
	City                       *CityRef   `json:"city,omitempty"`
	Country                    *NamedRef  `json:"country,omitempty"`
	AverageRating              float64    `json:"average_rating"`
	IsOnline                   bool       `json:"is_online"`
	Fees                       FlexString `json:"fees,omitempty"`
	ServiceType                FlexString `json:"service_type,omitempty"` // average wait in days
	HealthcareProfessionalInfo string     `json:"healthcare_professional_info,omitempty"`
	AboutMe                    string     `json:"about_me,omitempty"`
	WebURL                     string     `json:"web_url,omitempty"`
	PatientStatus              FlexString `json:"patient_status,omitempty"`
	Tags                       []string   `json:"tags,omitempty"`
	EncryptedID                string     `json:"encrypted_id,omitempty"`
	Score                      float64    `json:"score,omitempty"`
}

// FullName joins title, first and last name, skipping empty parts.
func (d *Doctor) FullName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{d.Title, d.FirstName, d.LastName} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// SpecialtyNames returns the specialty labels in index order.
func (d *Doctor) SpecialtyNames() []string {
	names := make([]string, 0, len(d.Specialties))
	for _, s := range d.Specialties {
		if s.Name != "" {
			names = append(names, s.Name)
		}
	}
	return names
}

// FlexString decodes a JSON string, number or null into a string.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		var b bool
		if berr := json.Unmarshal(data, &b); berr != nil {
			return err
		}
		*f = FlexString(strconv.FormatBool(b))
		return nil
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return string(f) }

// StringList decodes either a JSON array of strings or a comma-separated string.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if data[0] == '[' {
		var items []string
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*l = cleanList(items)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*l = cleanList(strings.Split(s, ","))
	return nil
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}
