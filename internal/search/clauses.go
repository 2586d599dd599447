package search

import "fmt"

// SpecialtyClause matches the practitioner's specialty. With Labels set it is
// an exact any-of match; otherwise a fuzzy best-fields match on Text that
// favors the exact keyword field.
type SpecialtyClause struct {
	Labels     []string
	Text       string
	ExactBoost float64
	Fuzziness  int
}

func (c SpecialtyClause) Source() map[string]any {
	var inner map[string]any
	if len(c.Labels) > 0 {
		should := make([]any, 0, len(c.Labels))
		for _, l := range c.Labels {
			should = append(should, map[string]any{"term": map[string]any{"specialties.name.exact": l}})
		}
		inner = map[string]any{"bool": map[string]any{
			"should":               should,
			"minimum_should_match": 1,
		}}
	} else {
		inner = map[string]any{"multi_match": map[string]any{
			"query":     c.Text,
			"fields":    []string{fmt.Sprintf("specialties.name.exact^%g", c.ExactBoost), "specialties.name"},
			"fuzziness": c.Fuzziness,
			"operator":  "or",
			"type":      "best_fields",
		}}
	}
	return nested("specialties", inner)
}

// LocationClause requires the nested location object at Path to match Value,
// either exactly on the keyword field or as analyzed text.
type LocationClause struct {
	Path  string
	Value string
}

func (c LocationClause) Source() map[string]any {
	return nested(c.Path, map[string]any{"bool": map[string]any{
		"should": []any{
			map[string]any{"term": map[string]any{c.Path + ".name.exact": c.Value}},
			map[string]any{"match": map[string]any{c.Path + ".name": c.Value}},
		},
		"minimum_should_match": 1,
	}})
}

// LocationBoostClause adds score when the nested location equals Value.
type LocationBoostClause struct {
	Path  string
	Value string
	Boost float64
}

func (c LocationBoostClause) Source() map[string]any {
	return nested(c.Path, map[string]any{"term": map[string]any{
		c.Path + ".name.exact": map[string]any{"value": c.Value, "boost": c.Boost},
	}})
}

// TermClause is an exact term match, optionally boosted.
type TermClause struct {
	Field string
	Value any
	Boost float64
}

func (c TermClause) Source() map[string]any {
	if c.Boost > 0 {
		return map[string]any{"term": map[string]any{c.Field: map[string]any{"value": c.Value, "boost": c.Boost}}}
	}
	return map[string]any{"term": map[string]any{c.Field: c.Value}}
}

// VectorClause scores documents by cosine similarity between Vector and the
// dense vector Field, mapped into [0, 2*Scale]. Documents without a vector
// score zero.
type VectorClause struct {
	Field  string
	Vector []float32
	Scale  float64
}

func (c VectorClause) Source() map[string]any {
	script := fmt.Sprintf(
		"doc['%[1]s'].size() == 0 ? 0 : (cosineSimilarity(params.query_vector, '%[1]s') + 1.0) * params.scale",
		c.Field)
	return map[string]any{"script_score": map[string]any{
		"query": map[string]any{"match_all": map[string]any{}},
		"script": map[string]any{
			"source": script,
			"params": map[string]any{
				"query_vector": c.Vector,
				"scale":        c.Scale,
			},
		},
	}}
}

func nested(path string, query map[string]any) map[string]any {
	return map[string]any{"nested": map[string]any{"path": path, "query": query}}
}
