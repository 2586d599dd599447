package flow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/DocFinder/internal/genai"
	"github.com/BTreeMap/DocFinder/internal/models"
	"github.com/BTreeMap/DocFinder/internal/search"
	"github.com/BTreeMap/DocFinder/internal/store"
	"github.com/BTreeMap/DocFinder/internal/util"
)

// mockCompleter routes requests to separate handlers for the dialogue, the
// reset classifier and the no-results acknowledgement.
type mockCompleter struct {
	mu         sync.Mutex
	requests   []genai.CompletionRequest
	dialogue   func(turns []models.Turn) (string, error)
	classify   func() (string, error)
	noResults  func() (string, error)
	classified int
}

func (m *mockCompleter) Complete(ctx context.Context, req genai.CompletionRequest) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	switch {
	case req.Turns[0].Content == resetSystemPrompt:
		m.mu.Lock()
		m.classified++
		m.mu.Unlock()
		if m.classify == nil {
			return "NO", nil
		}
		return m.classify()
	case strings.HasPrefix(req.Turns[len(req.Turns)-1].Content, "We couldn't find any"):
		if m.noResults == nil {
			return "", errors.New("no handler")
		}
		return m.noResults()
	default:
		return m.dialogue(req.Turns)
	}
}

func (m *mockCompleter) dialogueCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests) - m.classified
}

type mockSearcher struct {
	mu     sync.Mutex
	params []search.Params
	docs   []models.Doctor
	err    error
}

func (m *mockSearcher) Search(ctx context.Context, p search.Params) ([]models.Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params = append(m.params, p)
	return m.docs, m.err
}

type mockLocations struct {
	loc *models.PatientLocation
	err error
}

func (m mockLocations) Resolve(ctx context.Context, patientID string) (*models.PatientLocation, error) {
	return m.loc, m.err
}

func zurich() *models.PatientLocation {
	return &models.PatientLocation{City: models.StringPtr("Zurich"), Country: models.StringPtr("Switzerland")}
}

func reply(text, json string) func([]models.Turn) (string, error) {
	return func([]models.Turn) (string, error) {
		return text + "\n\n```json\n" + json + "\n```", nil
	}
}

type harness struct {
	ctrl      *Controller
	completer *mockCompleter
	searcher  *mockSearcher
	convs     *store.ConversationStore
}

func newHarness(t *testing.T, loc LocationResolver, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		completer: &mockCompleter{},
		searcher:  &mockSearcher{},
		convs:     store.NewConversationStore(store.NewInMemoryKV(), 24*time.Hour),
	}
	base := []Option{
		WithResetClassifier(NewResetClassifier(h.completer)),
		WithCompletionRetry(util.RetryPolicy{Attempts: 2}),
	}
	if loc != nil {
		base = append(base, WithLocations(loc))
	}
	h.ctrl = NewController(h.completer, h.searcher, h.convs, append(base, opts...)...)
	return h
}

func (h *harness) state(t *testing.T, id string) *models.ConversationState {
	t.Helper()
	s, err := h.convs.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("load conversation: %v", err)
	}
	return s
}

func TestAdvance_DirectRequestEndToEnd(t *testing.T) {
	h := newHarness(t, nil)
	h.completer.dialogue = reply("Here are the best dermatologists recommended for you:",
		`{"specialist_type": "Dermatologist", "city": "Geneva", "country": null, "questioning_complete": true, "symptoms": []}`)
	h.searcher.docs = []models.Doctor{{ID: "1"}, {ID: "2"}, {ID: "3"}}

	resp, err := h.ctrl.Advance(context.Background(), models.ChatRequest{PatientID: "p1", Message: "I need a dermatologist in Geneva"})
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if strings.Contains(resp.Response, "```") || strings.Contains(resp.Response, "specialist_type") {
		t.Errorf("display text must not contain JSON: %q", resp.Response)
	}
	if resp.Recommendations == nil || len(resp.Recommendations.Specialists) != 3 {
		t.Fatalf("expected 3 recommendations, got %+v", resp.Recommendations)
	}
	if resp.Recommendations.SpecialistType != "dermatologist" || resp.Recommendations.Severity != "medium" {
		t.Errorf("unexpected recommendations %+v", resp.Recommendations)
	}
	if resp.Recommendations.Summary == "" {
		t.Error("expected formatted summary")
	}

	if len(h.searcher.params) != 1 {
		t.Fatalf("expected one search, got %d", len(h.searcher.params))
	}
	p := h.searcher.params[0]
	if p.SpecialistType != "dermatologist" || models.Deref(p.City) != "Geneva" || p.Country != nil {
		t.Errorf("unexpected search params %+v", p)
	}

	if h.completer.classified != 0 {
		t.Error("empty conversation must not be classified for reset")
	}
	s := h.state(t, "p1")
	if len(s.Dialogue) != 3 || s.Dialogue[0].Role != models.RoleSystem || s.Dialogue[1].Role != models.RoleUser || s.Dialogue[2].Role != models.RoleAssistant {
		t.Errorf("unexpected stored dialogue %+v", s.Dialogue)
	}
	if !strings.Contains(s.Dialogue[0].Content, noLocationLine) {
		t.Error("unknown location must render the no-location prompt")
	}
}

func TestAdvance_MinimumSymptomGuard(t *testing.T) {
	h := newHarness(t, nil)
	h.searcher.docs = []models.Doctor{{ID: "1"}}
	ctx := context.Background()

	h.completer.dialogue = reply("How long have you had the rash?",
		`{"symptoms": ["rash"], "specialist_type": "dermatologist", "questioning_complete": true}`)
	resp, err := h.ctrl.Advance(ctx, models.ChatRequest{PatientID: "p2", Message: "I have a rash"})
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if resp.Recommendations != nil || len(h.searcher.params) != 0 {
		t.Fatal("first symptom turn must not search")
	}
	if resp.Intent == nil || resp.Intent.QuestioningComplete {
		t.Errorf("outbound intent must be marked incomplete: %+v", resp.Intent)
	}
	if got := h.state(t, "p2").Symptoms; len(got) != 1 {
		t.Errorf("symptoms must be persisted, got %v", got)
	}

	h.completer.dialogue = reply("Here are the best dermatologists recommended for you:",
		`{"symptoms": ["itching"], "specialist_type": "dermatologist", "questioning_complete": true}`)
	resp, err = h.ctrl.Advance(ctx, models.ChatRequest{PatientID: "p2", Message: "It also itches"})
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if resp.Recommendations == nil || len(h.searcher.params) != 1 {
		t.Fatal("second symptom turn must search")
	}
	if got := h.state(t, "p2").Symptoms; len(got) != 2 {
		t.Errorf("expected 2 accumulated symptoms, got %v", got)
	}
}

func TestAdvance_CompletionUnavailable(t *testing.T) {
	h := newHarness(t, nil)
	h.completer.dialogue = func([]models.Turn) (string, error) { return "", errors.New("timeout") }

	_, err := h.ctrl.Advance(context.Background(), models.ChatRequest{PatientID: "p3", Message: "hello"})
	if !errors.Is(err, ErrCompletionUnavailable) {
		t.Fatalf("expected ErrCompletionUnavailable, got %v", err)
	}
	if h.completer.dialogueCalls() != 2 {
		t.Errorf("expected 2 attempts, got %d", h.completer.dialogueCalls())
	}
	s := h.state(t, "p3")
	if len(s.Dialogue) != 2 || s.Dialogue[1].Content != "hello" {
		t.Errorf("user turn must be persisted, got %+v", s.Dialogue)
	}
}

func TestAdvance_InvalidRequest(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.ctrl.Advance(context.Background(), models.ChatRequest{PatientID: "p4", Message: "  "})
	if !errors.Is(err, models.ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
	if len(h.completer.requests) != 0 {
		t.Error("invalid request must not call the completion service")
	}
	if !h.state(t, "p4").IsEmpty() {
		t.Error("invalid request must not touch stored state")
	}
}

func TestAdvance_NoResults(t *testing.T) {
	tests := []struct {
		name      string
		noResults func() (string, error)
		searchErr error
		want      string
	}{
		{"model acknowledgement", func() (string, error) { return "Sorry, no cardiologists are listed yet.", nil }, nil, "Sorry, no cardiologists are listed yet."},
		{"fixed fallback", nil, nil, "I couldn't find any cardiologists available in our website matching your criteria."},
		{"search error", nil, errors.New("index down"), "I couldn't find any cardiologists available in our website matching your criteria."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.completer.dialogue = reply("Here are the best cardiologists recommended for you:",
				`{"specialist_type": "cardiologist", "questioning_complete": true}`)
			h.completer.noResults = tt.noResults
			h.searcher.err = tt.searchErr

			resp, err := h.ctrl.Advance(context.Background(), models.ChatRequest{PatientID: "p5", Message: "find a cardiologist"})
			if err != nil {
				t.Fatalf("Advance failed: %v", err)
			}
			if resp.Recommendations != nil {
				t.Error("no results must not produce recommendations")
			}
			if resp.Response != tt.want {
				t.Errorf("response = %q, want %q", resp.Response, tt.want)
			}
		})
	}
}

func TestAdvance_ResetStartsFreshWithLocationLock(t *testing.T) {
	h := newHarness(t, mockLocations{loc: zurich()})
	ctx := context.Background()
	h.completer.dialogue = reply("When did the pain start?", `{"symptoms": ["back pain"], "questioning_complete": false}`)
	if _, err := h.ctrl.Advance(ctx, models.ChatRequest{PatientID: "p6", Message: "my back hurts"}); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	first := h.state(t, "p6")
	if len(first.Dialogue) != 4 || !strings.HasPrefix(first.Dialogue[1].Content, "PATIENT LOCATION LOCK: Zurich, Switzerland") {
		t.Fatalf("expected location lock turn, got %+v", first.Dialogue)
	}

	h.completer.classify = func() (string, error) { return " yes ", nil }
	h.completer.dialogue = func([]models.Turn) (string, error) { return "Hello! How can I help?", nil }
	if _, err := h.ctrl.Advance(ctx, models.ChatRequest{PatientID: "p6", Message: "hi there"}); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	s := h.state(t, "p6")
	if len(s.Dialogue) != 4 || s.Dialogue[2].Content != "hi there" {
		t.Errorf("reset must replace the dialogue, got %+v", s.Dialogue)
	}
	if len(s.Symptoms) != 0 {
		t.Errorf("reset must clear symptoms, got %v", s.Symptoms)
	}
	if !strings.Contains(s.Dialogue[0].Content, "Zurich, Switzerland") {
		t.Error("system prompt must carry the registered location")
	}
}

func TestAdvance_RewritesStaleSystemPrompt(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	stale := &models.ConversationState{
		Dialogue: []models.Turn{
			{Role: models.RoleSystem, Content: "old prompt"},
			{Role: models.RoleUser, Content: "earlier"},
			{Role: models.RoleAssistant, Content: "earlier reply"},
		},
		Symptoms: []string{"cough"},
	}
	if err := h.convs.Save(ctx, "p7", stale); err != nil {
		t.Fatalf("save: %v", err)
	}
	h.completer.dialogue = func(turns []models.Turn) (string, error) {
		if turns[0].Content == "old prompt" {
			t.Error("completion must see the current system prompt")
		}
		return "Any fever?", nil
	}
	if _, err := h.ctrl.Advance(ctx, models.ChatRequest{PatientID: "p7", Message: "still coughing"}); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	s := h.state(t, "p7")
	if len(s.Dialogue) != 5 || s.Dialogue[1].Content != "earlier" {
		t.Errorf("rewrite must keep the dialogue, got %+v", s.Dialogue)
	}
	if s.Dialogue[0].Content != RenderSystemPrompt(nil) {
		t.Error("turn 0 must hold the current prompt")
	}
	if len(s.Symptoms) != 1 {
		t.Errorf("symptoms must survive, got %v", s.Symptoms)
	}
}

func TestAdvance_NearMeUsesRegisteredLocation(t *testing.T) {
	h := newHarness(t, mockLocations{loc: zurich()})
	h.completer.dialogue = reply("Here are the best dentists recommended for you:",
		`{"specialist_type": "dentist", "city": "Basel", "questioning_complete": true}`)
	h.searcher.docs = []models.Doctor{{ID: "1"}}

	if _, err := h.ctrl.Advance(context.Background(), models.ChatRequest{PatientID: "p8", Message: "a dentist Near Me please"}); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	p := h.searcher.params[0]
	if models.Deref(p.City) != "Zurich" || models.Deref(p.Country) != "Switzerland" {
		t.Errorf("near me must use the registered location, got %+v", p)
	}
	if models.Deref(p.PatientCity) != "Zurich" {
		t.Errorf("patient location must be passed through, got %+v", p)
	}
}

func TestAdvance_LocationFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, mockLocations{err: errors.New("db down")})
	h.completer.dialogue = func([]models.Turn) (string, error) { return "How can I help?", nil }
	resp, err := h.ctrl.Advance(context.Background(), models.ChatRequest{PatientID: "p9", Message: "hello"})
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if resp.Response != "How can I help?" || resp.Intent != nil {
		t.Errorf("unexpected response %+v", resp)
	}
}

type failingKV struct {
	store.KV
	getErr error
	sets   int
}

func (f *failingKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, f.getErr
}

func (f *failingKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.sets++
	return nil
}

func TestAdvance_ConversationLoadFailureKeepsHistory(t *testing.T) {
	kv := &failingKV{getErr: errors.New("redis down")}
	completer := &mockCompleter{dialogue: func([]models.Turn) (string, error) { return "hi", nil }}
	ctrl := NewController(completer, &mockSearcher{}, store.NewConversationStore(kv, time.Hour))

	_, err := ctrl.Advance(context.Background(), models.ChatRequest{PatientID: "p12", Message: "hello"})
	if !errors.Is(err, ErrConversationUnavailable) {
		t.Fatalf("expected ErrConversationUnavailable, got %v", err)
	}
	if kv.sets != 0 {
		t.Errorf("stored history must not be overwritten, got %d writes", kv.sets)
	}
	if completer.dialogueCalls() != 0 {
		t.Error("completion must not run without the stored dialogue")
	}
}

type keyLocker struct {
	mu   sync.Mutex
	keys []string
}

func (l *keyLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	l.keys = append(l.keys, key)
	l.mu.Unlock()
	return func() {}, nil
}

func TestAdvance_LockKeyIsConversationScoped(t *testing.T) {
	locker := &keyLocker{}
	h := newHarness(t, nil, WithLocker(locker, time.Second))
	h.completer.dialogue = func([]models.Turn) (string, error) { return "ok", nil }
	if _, err := h.ctrl.Advance(context.Background(), models.ChatRequest{PatientID: "p13", Message: "hello"}); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if len(locker.keys) != 1 || locker.keys[0] != "conversation:p13" {
		t.Errorf("lock keys = %v, want [conversation:p13]", locker.keys)
	}
}

func TestAdvance_HintsFillIntentGaps(t *testing.T) {
	h := newHarness(t, nil)
	h.completer.dialogue = reply("Here are the best psychiatrists recommended for you:",
		`{"specialist_type": "psychiatrist", "questioning_complete": true, "telehealth_appropriate": false}`)
	h.searcher.docs = []models.Doctor{{ID: "1"}}

	_, err := h.ctrl.Advance(context.Background(), models.ChatRequest{
		PatientID:             "p10",
		Message:               "psychiatrist please",
		Language:              models.StringPtr("French"),
		TelehealthAppropriate: true,
	})
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	p := h.searcher.params[0]
	if models.Deref(p.Language) != "French" || !p.TelehealthRequired {
		t.Errorf("hints not applied: %+v", p)
	}
}

func TestAdvance_SerializesWithLocker(t *testing.T) {
	h := newHarness(t, nil, WithLocker(store.NewInMemoryLocker(), time.Second))
	h.completer.dialogue = func([]models.Turn) (string, error) { return "ok", nil }

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.ctrl.Advance(context.Background(), models.ChatRequest{PatientID: "p11", Message: "hello"})
		}()
	}
	wg.Wait()
	if got := len(h.state(t, "p11").Dialogue); got != 11 {
		t.Errorf("expected 11 turns after 5 serialized calls, got %d", got)
	}
}
