// Package testutil provides common test helpers for DocFinder handler and
// store tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/BTreeMap/DocFinder/internal/models"
	"github.com/BTreeMap/DocFinder/internal/store"
)

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected int, rr *httptest.ResponseRecorder, context string) {
	t.Helper()
	if rr.Code != expected {
		t.Errorf("%s: expected status %d, got %d (body %q)", context, expected, rr.Code, rr.Body.String())
	}
}

// AssertJSONResponse decodes an API envelope and validates its status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus models.APIStatus) map[string]any {
	t.Helper()
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode JSON response %q: %v", rr.Body.String(), err)
	}
	status, ok := response["status"].(string)
	if !ok {
		t.Error("response missing or invalid 'status' field")
	} else if status != string(expectedStatus) {
		t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
	}
	return response
}

// NewJSONRequest builds a request whose body is the raw JSON string.
func NewJSONRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// NewFormRequest builds a urlencoded POST, as Twilio sends webhooks.
func NewFormRequest(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// Serve runs req through h and returns the recorded response.
func Serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// SeedPatients saves each patient into repo, failing the test on error.
func SeedPatients(t *testing.T, repo store.PatientRepo, patients ...models.Patient) {
	t.Helper()
	for _, p := range patients {
		if err := repo.SavePatient(context.Background(), p); err != nil {
			t.Fatalf("failed to seed patient %s: %v", p.ID, err)
		}
	}
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}
