// Package intent turns a language-model reply into a structured intent and a
// display text with the machine-readable parts removed.
//
// Model output is never trusted to be valid JSON. Extraction tries, in order:
// the whole reply as one object, the first fenced code block, a phrase
// pattern such as "best dermatologist recommended" (only when the reply has
// no fenced block), and finally a left-to-right scan for the first decodable
// object. No match is not an error.
package intent

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/BTreeMap/DocFinder/internal/models"
)

// Strategy names reported by Extractor.Parse.
const (
	StrategyWhole  = "whole"
	StrategyFenced = "fenced"
	StrategyScan   = "scan"
	StrategyPhrase = "phrase"
)

var (
	recommendationMarkers = []string{"here are the best", "recommended for you", "specialist"}
	bestPattern           = regexp.MustCompile(`(?i)\bbest\s+([\p{L}\-]+(?:\s+[\p{L}\-]+){0,2}?)\s+recommended`)
)

// knownKeys are the fields that make a JSON object an intent.
var knownKeys = []string{
	"specialist_type", "city", "country", "language", "symptoms", "urgent",
	"telehealth_appropriate", "gp_appropriate", "questioning_complete", "severity",
}

// Result is the outcome of one extraction.
type Result struct {
	Intent   *models.Intent
	Strategy string
}

// Extract returns the intent carried by reply, or nil. loc supplies the
// city and country for phrase-only recommendations.
func Extract(reply string, loc *models.PatientLocation) *models.Intent {
	return Parse(reply, loc).Intent
}

// Parse is Extract reporting which strategy matched.
func Parse(reply string, loc *models.PatientLocation) Result {
	trimmed := strings.TrimSpace(reply)
	if trimmed == "" {
		return Result{}
	}
	if in := fromWhole(trimmed); in != nil {
		return matched(in, StrategyWhole)
	}
	_, fenced := fencedBlock(trimmed)
	if fenced {
		if in := fromFence(trimmed); in != nil {
			return matched(in, StrategyFenced)
		}
	} else if in := fromPhrase(trimmed, loc); in != nil {
		// recommendation prose outranks stray objects in the text
		return matched(in, StrategyPhrase)
	}
	if in := fromScan(trimmed); in != nil {
		return matched(in, StrategyScan)
	}
	return Result{}
}

func matched(in *models.Intent, strategy string) Result {
	slog.Debug("intent.Parse: extracted", "strategy", strategy, "specialistType", in.SpecialistType,
		"questioningComplete", in.QuestioningComplete)
	return Result{Intent: in, Strategy: strategy}
}

func fromWhole(s string) *models.Intent {
	return decodeObject([]byte(s))
}

// fencedBlock returns the content of the first ```json block, or else of the
// first generic fenced block that starts with '{'.
func fencedBlock(s string) (string, bool) {
	lower := strings.ToLower(s)
	if i := strings.Index(lower, "```json"); i >= 0 {
		rest := s[i+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		return strings.TrimSpace(rest), true
	}
	if !strings.Contains(s, "```") {
		return "", false
	}
	parts := strings.Split(s, "```")
	for i := 1; i < len(parts); i += 2 {
		if p := strings.TrimSpace(parts[i]); strings.HasPrefix(p, "{") {
			return p, true
		}
	}
	return "", false
}

func fromFence(s string) *models.Intent {
	block, ok := fencedBlock(s)
	if !ok {
		return nil
	}
	if in := decodeObject([]byte(block)); in != nil {
		return in
	}
	// A fence holding an object followed by commentary still counts.
	return fromScan(block)
}

// fromScan decodes at every '{' left to right and returns the first intent
// object. Text after a decoded object is ignored.
func fromScan(s string) *models.Intent {
	_, _, in := scanObject(s)
	return in
}

// scanObject reports the byte span of the first intent object in s.
func scanObject(s string) (start, end int, in *models.Intent) {
	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(s[i:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			continue
		}
		if in := decodeObject(raw); in != nil {
			return i, i + int(dec.InputOffset()), in
		}
	}
	return -1, -1, nil
}

func fromPhrase(s string, loc *models.PatientLocation) *models.Intent {
	lower := strings.ToLower(s)
	marked := false
	for _, m := range recommendationMarkers {
		if strings.Contains(lower, m) {
			marked = true
			break
		}
	}
	if !marked {
		return nil
	}
	m := bestPattern.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	in := &models.Intent{
		SpecialistType:      strings.ToLower(strings.Join(strings.Fields(m[1]), " ")),
		QuestioningComplete: true,
	}
	if loc.Known() {
		in.City, in.Country = loc.City, loc.Country
	}
	return in
}

// decodeObject converts a JSON object with at least one intent key into an
// Intent. Field types are decoded leniently.
func decodeObject(data []byte) *models.Intent {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil
	}
	matched := false
	for _, k := range knownKeys {
		if _, ok := fields[k]; ok {
			matched = true
			break
		}
	}
	if !matched {
		return nil
	}
	return &models.Intent{
		SpecialistType:        strings.ToLower(models.Deref(optString(fields["specialist_type"]))),
		City:                  optString(fields["city"]),
		Country:               optString(fields["country"]),
		Language:              optString(fields["language"]),
		Symptoms:              stringList(fields["symptoms"]),
		Urgent:                flag(fields["urgent"]),
		TelehealthAppropriate: flag(fields["telehealth_appropriate"]),
		GPAppropriate:         flag(fields["gp_appropriate"]),
		QuestioningComplete:   flag(fields["questioning_complete"]),
		Severity:              strings.ToLower(models.Deref(optString(fields["severity"]))),
	}
}

// optString decodes a string field; null, blank and the literal "null" map to nil.
func optString(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	if strings.EqualFold(strings.TrimSpace(s), "null") || strings.EqualFold(strings.TrimSpace(s), "none") {
		return nil
	}
	return models.StringPtr(s)
}

func stringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		if s := optString(raw); s != nil {
			return []string{*s}
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s := optString(it); s != nil {
			out = append(out, *s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// flag decodes a boolean that may arrive as a bool, a string or a number.
func flag(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "1":
			return true
		}
		return false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		f, err := strconv.ParseFloat(n.String(), 64)
		return err == nil && f != 0
	}
	return false
}
