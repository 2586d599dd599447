// Package flow implements the conversation controller: it decides when a
// dialogue resets, drives the completion service, extracts intent from the
// reply and triggers the doctor search once enough has been gathered.
package flow

import (
	"context"
	"errors"

	"github.com/BTreeMap/DocFinder/internal/genai"
	"github.com/BTreeMap/DocFinder/internal/models"
	"github.com/BTreeMap/DocFinder/internal/search"
)

// ErrCompletionUnavailable is returned when the completion service failed
// after the retry budget was spent.
var ErrCompletionUnavailable = errors.New("completion service unavailable")

// ErrConversationUnavailable is returned when the stored dialogue could not
// be read. Nothing is saved in that case.
var ErrConversationUnavailable = errors.New("conversation store unavailable")

// Completer produces one assistant reply for a dialogue.
type Completer interface {
	Complete(ctx context.Context, req genai.CompletionRequest) (string, error)
}

// Searcher returns ranked doctors for search parameters.
type Searcher interface {
	Search(ctx context.Context, p search.Params) ([]models.Doctor, error)
}

// LocationResolver returns a patient's registered location, or nil when
// unknown.
type LocationResolver interface {
	Resolve(ctx context.Context, patientID string) (*models.PatientLocation, error)
}

// ConversationRepo loads and saves per-patient dialogue. Save overwrites.
type ConversationRepo interface {
	Load(ctx context.Context, patientID string) (*models.ConversationState, error)
	Save(ctx context.Context, patientID string, state *models.ConversationState) error
}
