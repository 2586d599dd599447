package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/BTreeMap/DocFinder/internal/models"
)

// DefaultConversationTTL is how long an idle conversation survives.
const DefaultConversationTTL = 24 * time.Hour

// ConversationStore persists per-patient dialogue state in a KV as msgpack.
// Save is a full overwrite; concurrent writers on one key are last-writer-wins.
type ConversationStore struct {
	kv  KV
	ttl time.Duration
	now func() time.Time
}

// NewConversationStore creates a store writing entries with the given TTL.
func NewConversationStore(kv KV, ttl time.Duration) *ConversationStore {
	if ttl <= 0 {
		ttl = DefaultConversationTTL
	}
	return &ConversationStore{kv: kv, ttl: ttl, now: time.Now}
}

func conversationKey(patientID string) string {
	return "conversation:" + patientID
}

// Load returns the stored state, or an empty state when none exists or the
// stored payload cannot be decoded.
func (s *ConversationStore) Load(ctx context.Context, patientID string) (*models.ConversationState, error) {
	data, ok, err := s.kv.Get(ctx, conversationKey(patientID))
	if err != nil {
		slog.Error("ConversationStore.Load: get failed", "patientID", patientID, "error", err)
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if !ok || len(data) == 0 {
		return &models.ConversationState{}, nil
	}
	return decodeConversation(patientID, data), nil
}

// Save overwrites the stored state and refreshes its TTL.
func (s *ConversationStore) Save(ctx context.Context, patientID string, state *models.ConversationState) error {
	if state == nil {
		state = &models.ConversationState{}
	}
	state.UpdatedAt = s.now().UTC()
	data, err := msgpack.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	if err := s.kv.Set(ctx, conversationKey(patientID), data, s.ttl); err != nil {
		slog.Error("ConversationStore.Save: set failed", "patientID", patientID, "error", err)
		return fmt.Errorf("save conversation: %w", err)
	}
	slog.Debug("ConversationStore.Save: saved", "patientID", patientID, "turns", len(state.Dialogue), "symptoms", len(state.Symptoms))
	return nil
}

// legacyConversation matches payloads whose updated_at is a Unix timestamp
// in seconds rather than an encoded time.
type legacyConversation struct {
	Dialogue  []models.Turn `json:"dialogue" msgpack:"dialogue"`
	Symptoms  []string      `json:"symptoms" msgpack:"symptoms"`
	UpdatedAt any           `json:"updated_at" msgpack:"updated_at"`
}

func (l legacyConversation) state() *models.ConversationState {
	s := &models.ConversationState{Dialogue: l.Dialogue, Symptoms: l.Symptoms}
	switch v := l.UpdatedAt.(type) {
	case float64:
		s.UpdatedAt = time.Unix(0, int64(v*float64(time.Second))).UTC()
	case int64:
		s.UpdatedAt = time.Unix(v, 0).UTC()
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			s.UpdatedAt = t
		}
	case time.Time:
		s.UpdatedAt = v
	}
	return s
}

// decodeConversation tries msgpack first, then msgpack and JSON in the
// legacy shape.
func decodeConversation(patientID string, data []byte) *models.ConversationState {
	var state models.ConversationState
	mpErr := msgpack.Unmarshal(data, &state)
	if mpErr == nil {
		return &state
	}
	var legacy legacyConversation
	if err := msgpack.Unmarshal(data, &legacy); err == nil {
		return legacy.state()
	}
	legacy = legacyConversation{}
	if err := json.Unmarshal(data, &legacy); err == nil {
		slog.Debug("ConversationStore.Load: decoded legacy JSON payload", "patientID", patientID)
		return legacy.state()
	}
	slog.Warn("ConversationStore.Load: undecodable payload, starting fresh", "patientID", patientID, "error", mpErr)
	return &models.ConversationState{}
}
