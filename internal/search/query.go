// Package search builds structured practitioner queries from a conversational
// intent and ranks results from the search index.
//
// A SearchQuery is a must/should split: must clauses (specialty, location,
// language, hard telehealth filter) are AND-ed and decide whether anything
// matches at all; should clauses (location and online boosts, vector
// similarity) only add score.
package search

import (
	"strings"
)

// Params are the inputs of one search. City, Country and Language are the
// explicitly requested values; PatientCity and PatientCountry are the
// patient's registered location. A nil pointer means absent.
type Params struct {
	SpecialistType     string  `json:"specialist_type"`
	City               *string `json:"city"`
	Country            *string `json:"country"`
	Language           *string `json:"language"`
	TelehealthRequired bool    `json:"telehealth_required"`
	PatientCity        *string `json:"patient_city"`
	PatientCountry     *string `json:"patient_country"`
}

// ExplicitLocation reports whether the caller named a city or a country.
func (p Params) ExplicitLocation() bool {
	return p.City != nil || p.Country != nil
}

// WithoutLocation returns a copy with every location constraint removed,
// including the patient's.
func (p Params) WithoutLocation() Params {
	p.City, p.Country, p.PatientCity, p.PatientCountry = nil, nil, nil, nil
	return p
}

// Clause is one rendered fragment of the index query.
type Clause interface {
	Source() map[string]any
}

// SearchQuery is an immutable must/should query.
type SearchQuery struct {
	must    []Clause
	should  []Clause
	city    string
	country string
}

// Must returns a copy of the required clauses.
func (q SearchQuery) Must() []Clause {
	return append([]Clause(nil), q.must...)
}

// Should returns a copy of the boost clauses.
func (q SearchQuery) Should() []Clause {
	return append([]Clause(nil), q.should...)
}

// EffectiveCity is the lowercased city the query filters on, or "".
func (q SearchQuery) EffectiveCity() string { return q.city }

// EffectiveCountry is the lowercased country the query filters on, or "".
func (q SearchQuery) EffectiveCountry() string { return q.country }

// WithShould returns a new query with c appended to the boost clauses.
func (q SearchQuery) WithShould(c Clause) SearchQuery {
	should := make([]Clause, 0, len(q.should)+1)
	should = append(should, q.should...)
	q.should = append(should, c)
	q.must = append([]Clause(nil), q.must...)
	return q
}

// Source renders the request body: bool query, page size, and ordering by
// score then average rating.
func (q SearchQuery) Source(size int) map[string]any {
	boolQuery := map[string]any{
		"must":   renderClauses(q.must),
		"should": renderClauses(q.should),
	}
	return map[string]any{
		"query": map[string]any{"bool": boolQuery},
		"size":  size,
		"sort": []any{
			"_score",
			map[string]any{"average_rating": map[string]any{"order": "desc"}},
		},
	}
}

func renderClauses(cs []Clause) []any {
	out := make([]any, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Source())
	}
	return out
}

// Builder converts Params into a SearchQuery.
type Builder struct {
	gpSynonyms      map[string]struct{}
	gpLabels        []string
	exactBoost      float64
	fuzziness       int
	cityBoost       float64
	countryBoost    float64
	telehealthBoost float64
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithGP sets the general-practice synonyms and the canonical labels they map to.
func WithGP(synonyms, labels []string) BuilderOption {
	return func(b *Builder) {
		if len(synonyms) > 0 {
			b.gpSynonyms = make(map[string]struct{}, len(synonyms))
			for _, s := range synonyms {
				b.gpSynonyms[normalize(s)] = struct{}{}
			}
		}
		if len(labels) > 0 {
			b.gpLabels = append([]string(nil), labels...)
		}
	}
}

// WithSpecialtyMatching sets the exact-field boost and the edit distance tolerated.
func WithSpecialtyMatching(exactBoost float64, fuzziness int) BuilderOption {
	return func(b *Builder) {
		if exactBoost > 0 {
			b.exactBoost = exactBoost
		}
		if fuzziness >= 0 {
			b.fuzziness = fuzziness
		}
	}
}

// WithBoosts sets the weights of the home-city, home-country and online boosts.
func WithBoosts(city, country, telehealth float64) BuilderOption {
	return func(b *Builder) {
		if city > 0 {
			b.cityBoost = city
		}
		if country > 0 {
			b.countryBoost = country
		}
		if telehealth > 0 {
			b.telehealthBoost = telehealth
		}
	}
}

// NewBuilder returns a Builder with the default matching rules.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		gpLabels:        []string{"general practitioner", "general practitioner (gp)", "general internal medicine"},
		exactBoost:      10,
		fuzziness:       1,
		cityBoost:       2.0,
		countryBoost:    1.5,
		telehealthBoost: 1.5,
	}
	WithGP([]string{"general practitioner", "family doctor", "gp"}, nil)(b)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// IsGP reports whether label names general practice.
func (b *Builder) IsGP(label string) bool {
	_, ok := b.gpSynonyms[normalize(label)]
	return ok
}

// Build converts p into a query. It is pure and case-insensitive.
func (b *Builder) Build(p Params) SearchQuery {
	var q SearchQuery
	label := normalize(p.SpecialistType)

	if b.IsGP(label) {
		q.must = append(q.must, SpecialtyClause{Labels: b.gpLabels})
	} else {
		q.must = append(q.must, SpecialtyClause{Text: label, ExactBoost: b.exactBoost, Fuzziness: b.fuzziness})
	}

	q.city = effective(p.City, p.PatientCity)
	q.country = effective(p.Country, p.PatientCountry)
	if q.country != "" {
		q.must = append(q.must, LocationClause{Path: "country", Value: q.country})
	}
	if q.city != "" {
		q.must = append(q.must, LocationClause{Path: "city", Value: q.city})
	}

	if pc := normalizePtr(p.PatientCity); pc != "" && pc == q.city {
		q.should = append(q.should, LocationBoostClause{Path: "city", Value: pc, Boost: b.cityBoost})
	}
	if pc := normalizePtr(p.PatientCountry); pc != "" && pc == q.country {
		q.should = append(q.should, LocationBoostClause{Path: "country", Value: pc, Boost: b.countryBoost})
	}

	if lang := normalizePtr(p.Language); lang != "" {
		q.must = append(q.must, TermClause{Field: "languages.exact", Value: lang})
	}

	if p.TelehealthRequired {
		q.must = append(q.must, TermClause{Field: "is_online", Value: true})
	} else {
		q.should = append(q.should, TermClause{Field: "is_online", Value: true, Boost: b.telehealthBoost})
	}
	return q
}

// effective returns the lowercased explicit value, else the patient's.
func effective(explicit, patient *string) string {
	if v := normalizePtr(explicit); v != "" {
		return v
	}
	return normalizePtr(patient)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizePtr(s *string) string {
	if s == nil {
		return ""
	}
	return normalize(*s)
}
