package models

import (
	"strings"
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single message in the stored dialogue.
type Turn struct {
	Role    Role   `json:"role" msgpack:"role"`
	Content string `json:"content" msgpack:"content"`
}

// ConversationState is the per-patient dialogue persisted in the key-value store.
// Turn 0, when present, is the active system prompt.
type ConversationState struct {
	Dialogue  []Turn    `json:"dialogue" msgpack:"dialogue"`
	Symptoms  []string  `json:"symptoms" msgpack:"symptoms"`
	UpdatedAt time.Time `json:"updated_at" msgpack:"updated_at"`
}

// IsEmpty reports whether no dialogue has been stored yet.
func (s *ConversationState) IsEmpty() bool {
	return s == nil || len(s.Dialogue) == 0
}

// HasSystemPrompt reports whether turn 0 is a system turn.
func (s *ConversationState) HasSystemPrompt() bool {
	return !s.IsEmpty() && s.Dialogue[0].Role == RoleSystem
}

// LastTurns returns up to n trailing turns.
func (s *ConversationState) LastTurns(n int) []Turn {
	if s.IsEmpty() || n <= 0 {
		return nil
	}
	if len(s.Dialogue) <= n {
		return s.Dialogue
	}
	return s.Dialogue[len(s.Dialogue)-n:]
}

// PatientLocation is the resolved city/country pair of a known patient.
// A nil field means unknown.
type PatientLocation struct {
	City    *string `json:"city,omitempty" msgpack:"city"`
	Country *string `json:"country,omitempty" msgpack:"country"`
}

// Known reports whether both city and country are present.
func (l *PatientLocation) Known() bool {
	return l != nil && l.City != nil && l.Country != nil
}

// CityOrNil returns the city pointer, tolerating a nil receiver.
func (l *PatientLocation) CityOrNil() *string {
	if l == nil {
		return nil
	}
	return l.City
}

// CountryOrNil returns the country pointer, tolerating a nil receiver.
func (l *PatientLocation) CountryOrNil() *string {
	if l == nil {
		return nil
	}
	return l.Country
}

// Patient is the subset of the patient record this service reads.
type Patient struct {
	ID       string
	Name     string
	Phone    string
	Location PatientLocation
}

// StringPtr returns a pointer to a trimmed copy of s, or nil when s is blank.
func StringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
