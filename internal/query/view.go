// Package query builds a session's searchable, filterable, sortable view of
// diagnostic records.
package query

import (
	"sort"
	"strconv"
	"strings"

	"github.com/neuroscan-portal/internal/domain"
)

// Direction is a sort direction
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// State is the caller-controlled part of a view
type State struct {
	Search       string    `json:"search"`
	DoctorFilter string    `json:"doctorFilter"`
	SortKey      string    `json:"sortKey,omitempty"`
	Direction    Direction `json:"direction,omitempty"`
}

// View is a filtered, sorted projection of a base record set
type View struct {
	State
	Role    domain.Role               `json:"role,omitempty"`
	Records []domain.DiagnosticRecord `json:"records"`
	Facets  []string                  `json:"facets"`
	Total   int                       `json:"total"`
}

// sortValue extracts a comparable value. Exactly one of the returned
// fields is meaningful for a given key.
type sortValue struct {
	text   string
	number float64
	isText bool
}

var sortKeys = map[string]func(r *domain.DiagnosticRecord) sortValue{
	"id":             func(r *domain.DiagnosticRecord) sortValue { return sortValue{number: float64(r.ID)} },
	"date":           func(r *domain.DiagnosticRecord) sortValue { return sortValue{number: float64(r.Date.Unix())} },
	"confidence":     func(r *domain.DiagnosticRecord) sortValue { return sortValue{number: r.Confidence} },
	"classification": func(r *domain.DiagnosticRecord) sortValue { return textValue(r.Classification) },
	"modelUsed":      func(r *domain.DiagnosticRecord) sortValue { return textValue(r.ModelUsed) },
	"notes":          func(r *domain.DiagnosticRecord) sortValue { return textValue(r.Notes) },
	"patient":        func(r *domain.DiagnosticRecord) sortValue { return textValue(r.Patient.FullName()) },
	"doctor":         func(r *domain.DiagnosticRecord) sortValue { return textValue(r.Doctor.FullName()) },
	"doctorName":     func(r *domain.DiagnosticRecord) sortValue { return textValue(r.Doctor.FullName()) },
}

func textValue(s string) sortValue {
	return sortValue{text: strings.ToLower(s), isText: true}
}

// ValidSortKey reports whether key can be sorted on
func ValidSortKey(key string) bool {
	_, ok := sortKeys[key]
	return ok
}

// SortKeys lists the sortable keys in a stable order
func SortKeys() []string {
	keys := make([]string, 0, len(sortKeys))
	for k := range sortKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Toggle returns the state after choosing key: the same key flips the
// direction, a new key starts ascending
func (s State) Toggle(key string) State {
	if s.SortKey == key {
		if s.Direction == Ascending {
			s.Direction = Descending
		} else {
			s.Direction = Ascending
		}
		return s
	}
	s.SortKey = key
	s.Direction = Ascending
	return s
}

// Facets returns the distinct doctor full names of records, sorted
func Facets(records []domain.DiagnosticRecord) []string {
	seen := make(map[string]struct{}, len(records))
	facets := make([]string, 0)
	for i := range records {
		name := records[i].Doctor.FullName()
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		facets = append(facets, name)
	}
	sort.Strings(facets)
	return facets
}

// Apply projects base through state for a caller with the given role. base
// is never modified.
func Apply(base []domain.DiagnosticRecord, role domain.Role, state State) View {
	scope := roles[role]
	query := strings.ToLower(strings.TrimSpace(state.Search))
	doctor := strings.ToLower(strings.TrimSpace(state.DoctorFilter))
	if !scope.doctorFilter {
		doctor = ""
	}

	records := make([]domain.DiagnosticRecord, 0, len(base))
	for i := range base {
		if matchesSearch(&base[i], scope, query) && matchesDoctor(&base[i], doctor) {
			records = append(records, base[i])
		}
	}

	if key, ok := sortKeys[state.SortKey]; ok {
		desc := state.Direction == Descending
		sort.SliceStable(records, func(i, j int) bool {
			a, b := key(&records[i]), key(&records[j])
			if desc {
				a, b = b, a
			}
			if a.isText {
				return a.text < b.text
			}
			return a.number < b.number
		})
	}

	return View{
		State:   state,
		Role:    role,
		Records: records,
		Facets:  Facets(base),
		Total:   len(base),
	}
}

func matchesSearch(r *domain.DiagnosticRecord, scope roleScope, query string) bool {
	if query == "" {
		return true
	}
	if scope.searchFields == nil {
		return false
	}
	for _, field := range scope.searchFields(r) {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}

func matchesDoctor(r *domain.DiagnosticRecord, doctor string) bool {
	return doctor == "" || strings.ToLower(r.Doctor.FullName()) == doctor
}

// String renders the state for logs
func (s State) String() string {
	return "search=" + strconv.Quote(s.Search) +
		" doctor=" + strconv.Quote(s.DoctorFilter) +
		" sort=" + s.SortKey + ":" + string(s.Direction)
}
