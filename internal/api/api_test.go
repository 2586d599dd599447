package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/DocFinder/internal/flow"
	"github.com/BTreeMap/DocFinder/internal/models"
	"github.com/BTreeMap/DocFinder/internal/testutil"
)

type mockAdvancer struct {
	requests []models.ChatRequest
	resp     models.ChatResponse
	err      error
}

func (m *mockAdvancer) Advance(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	m.requests = append(m.requests, req)
	return m.resp, m.err
}

func postChat(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	return testutil.Serve(s.Handler(), testutil.NewJSONRequest(http.MethodPost, "/chat", body))
}

func TestChatHandler_Success(t *testing.T) {
	adv := &mockAdvancer{resp: models.ChatResponse{
		Response: "Here are the best dermatologists recommended for you:",
		Recommendations: &models.Recommendations{
			SpecialistType: "dermatologist",
			Specialists:    []models.Doctor{{ID: "1", EncryptedID: "enc"}},
			Severity:       "medium",
		},
		Intent: &models.Intent{SpecialistType: "dermatologist"},
	}}
	rr := postChat(t, NewServer(adv), `{"patient_id": "42", "message": "I need a dermatologist in Geneva", "city": "Geneva"}`)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr, "chat")
	result := testutil.AssertJSONResponse(t, rr, models.APIStatusOK)["result"].(map[string]any)
	if result["response"] == "" || result["recommendations"] == nil {
		t.Errorf("unexpected result %v", result)
	}
	if _, leaked := result["Intent"]; leaked {
		t.Error("intent must not be serialized")
	}
	if len(adv.requests) != 1 || models.Deref(adv.requests[0].City) != "Geneva" {
		t.Errorf("request not forwarded: %+v", adv.requests)
	}
	if rr.Header().Get(RequestIDHeader) == "" {
		t.Error("expected request id header")
	}
}

func TestChatHandler_NullRecommendations(t *testing.T) {
	rr := postChat(t, NewServer(&mockAdvancer{resp: models.ChatResponse{Response: "How long?"}}), `{"patient_id": "42", "message": "rash"}`)
	result := testutil.AssertJSONResponse(t, rr, models.APIStatusOK)["result"].(map[string]any)
	if v, ok := result["recommendations"]; !ok || v != nil {
		t.Errorf("recommendations must be present and null, got %v", result)
	}
}

func TestChatHandler_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
		calls  int
	}{
		{"invalid json", `{"patient_id":`, nil, http.StatusBadRequest, 0},
		{"missing patient", `{"message": "hi"}`, nil, http.StatusBadRequest, 0},
		{"empty message", `{"patient_id": "42", "message": ""}`, nil, http.StatusBadRequest, 0},
		{"completion unavailable", `{"patient_id": "42", "message": "hi"}`, fmt.Errorf("%w: timeout", flow.ErrCompletionUnavailable), http.StatusServiceUnavailable, 1},
		{"conversation unavailable", `{"patient_id": "42", "message": "hi"}`, fmt.Errorf("%w: redis down", flow.ErrConversationUnavailable), http.StatusServiceUnavailable, 1},
		{"internal", `{"patient_id": "42", "message": "hi"}`, errors.New("lock conversation: redis down"), http.StatusInternalServerError, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adv := &mockAdvancer{err: tt.err}
			rr := postChat(t, NewServer(adv), tt.body)
			testutil.AssertHTTPStatus(t, tt.status, rr, tt.name)
			if len(adv.requests) != tt.calls {
				t.Errorf("expected %d controller calls, got %d", tt.calls, len(adv.requests))
			}
			if out := testutil.AssertJSONResponse(t, rr, models.APIStatusError); out["message"] == "" {
				t.Errorf("unexpected error envelope %v", out)
			}
		})
	}
}

func TestChatHandler_UnavailableMessageHidesDetail(t *testing.T) {
	adv := &mockAdvancer{err: fmt.Errorf("%w: dial tcp 10.0.0.1:443", flow.ErrCompletionUnavailable)}
	rr := postChat(t, NewServer(adv), `{"patient_id": "42", "message": "hi"}`)
	if msg := testutil.AssertJSONResponse(t, rr, models.APIStatusError)["message"]; msg != msgUnavailable {
		t.Errorf("message = %v", msg)
	}
}

func TestChatHandler_MethodNotAllowed(t *testing.T) {
	rr := testutil.Serve(NewServer(&mockAdvancer{}).Handler(), httptest.NewRequest(http.MethodGet, "/chat", nil))
	if rr.Code != http.StatusMethodNotAllowed || rr.Header().Get("Allow") != http.MethodPost {
		t.Errorf("expected 405 with Allow header, got %d", rr.Code)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rr := httptest.NewRecorder()
	NewServer(&mockAdvancer{}).Handler().ServeHTTP(rr, req)
	if got := rr.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("request id = %q", got)
	}
}

func TestHealthHandler(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	rr := testutil.Serve(NewServer(&mockAdvancer{}, WithHealthCheck("redis", ok)).Handler(), httptest.NewRequest(http.MethodGet, "/health", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr, "healthy")

	rr = testutil.Serve(NewServer(&mockAdvancer{}, WithHealthCheck("redis", ok), WithHealthCheck("elasticsearch", down)).Handler(),
		httptest.NewRequest(http.MethodGet, "/health", nil))
	testutil.AssertHTTPStatus(t, http.StatusServiceUnavailable, rr, "degraded")
	checks := testutil.AssertJSONResponse(t, rr, models.APIStatusError)["result"].(map[string]any)["checks"].(map[string]any)
	if checks["elasticsearch"] != "unavailable" || checks["redis"] != "ok" {
		t.Errorf("unexpected checks %v", checks)
	}
}

func TestWithAddr(t *testing.T) {
	if s := NewServer(nil); s.opts.Addr != DefaultAddr {
		t.Errorf("default addr = %q", s.opts.Addr)
	}
	if s := NewServer(nil, WithAddr(":9090")); s.opts.Addr != ":9090" {
		t.Errorf("addr = %q", s.opts.Addr)
	}
}
