// Package models defines the core data structures for DocFinder.
//
// It includes the conversational intent, patient location, doctor projection and
// the API envelope shared across modules.
package models

import (
	"errors"
	"strings"
)

// Validation constants for input validation
const (
	// MaxMessageLength defines the maximum allowed length for a single chat message
	MaxMessageLength = 4096
)

// Error variables for better error handling and testability
var (
	ErrMissingPatientID = errors.New("patient_id is required")
	ErrEmptyMessage     = errors.New("message is required")
	ErrMessageTooLong   = errors.New("message exceeds maximum length")
)

// ChatRequest is the input of a single "advance conversation" call.
type ChatRequest struct {
	PatientID             string  `json:"patient_id"`
	Message               string  `json:"message"`
	City                  *string `json:"city,omitempty"`
	Country               *string `json:"country,omitempty"`
	Language              *string `json:"language,omitempty"`
	TelehealthAppropriate bool    `json:"telehealth_appropriate,omitempty"`
}

// Validate checks that the request carries a patient identifier and a usable message.
func (r *ChatRequest) Validate() error {
	if strings.TrimSpace(r.PatientID) == "" {
		return ErrMissingPatientID
	}
	if strings.TrimSpace(r.Message) == "" {
		return ErrEmptyMessage
	}
	if len(r.Message) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// Recommendations is the ranked search outcome attached to a chat response.
type Recommendations struct {
	SpecialistType        string   `json:"specialist_type"`
	Specialists           []Doctor `json:"specialists"`
	TelehealthAppropriate bool     `json:"telehealth_appropriate"`
	Severity              string   `json:"severity"`
	Summary               string   `json:"summary,omitempty"`
}

// ChatResponse is the output of a single "advance conversation" call.
type ChatResponse struct {
	Response        string           `json:"response"`
	Recommendations *Recommendations `json:"recommendations"`
	Intent          *Intent          `json:"-"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse is the JSON envelope of every HTTP reply.
type APIResponse struct {
	Status  APIStatus `json:"status"`
	Message string    `json:"message,omitempty"`
	Result  any       `json:"result,omitempty"`
}

// Success wraps result in an "ok" envelope.
func Success(result any) APIResponse {
	return APIResponse{Status: APIStatusOK, Result: result}
}

// Error wraps a user-facing message in an "error" envelope.
func Error(message string) APIResponse {
	return APIResponse{Status: APIStatusError, Message: message}
}
