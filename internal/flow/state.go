package flow

import "github.com/BTreeMap/DocFinder/internal/models"

// Phase is the controller's view of a stored conversation when a message
// arrives.
type Phase string

const (
	// PhaseEmpty means no dialogue is stored (first message or expired).
	PhaseEmpty Phase = "EMPTY"
	// PhaseActive means the dialogue continues.
	PhaseActive Phase = "ACTIVE"
	// PhaseReset means the classifier detected a topic change; the dialogue
	// restarts from a fresh system prompt.
	PhaseReset Phase = "RESET"
)

// freshState returns a dialogue holding only the system prompt, followed by
// a location lock turn when the location is known.
func freshState(prompt string, loc *models.PatientLocation) *models.ConversationState {
	state := &models.ConversationState{
		Dialogue: []models.Turn{{Role: models.RoleSystem, Content: prompt}},
	}
	if loc.Known() {
		state.Dialogue = append(state.Dialogue, LocationLockTurn(loc))
	}
	return state
}

// syncSystemPrompt rewrites turn 0 in place when it differs from prompt. It
// reports whether turn 0 changed.
func syncSystemPrompt(state *models.ConversationState, prompt string) bool {
	if state.Dialogue[0].Content == prompt {
		return false
	}
	state.Dialogue[0].Content = prompt
	return true
}
