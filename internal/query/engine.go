package query

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/neuroscan-portal/internal/domain"
)

// roleScope is what differs between the doctor and patient views
type roleScope struct {
	fetch        func(ctx context.Context, store domain.RecordStore, username string) ([]domain.DiagnosticRecord, error)
	searchFields func(r *domain.DiagnosticRecord) []string
	doctorFilter bool
}

var roles = map[domain.Role]roleScope{
	domain.RoleDoctor: {
		fetch: func(ctx context.Context, store domain.RecordStore, username string) ([]domain.DiagnosticRecord, error) {
			return store.FetchByDoctor(ctx, username)
		},
		searchFields: func(r *domain.DiagnosticRecord) []string {
			return []string{r.Patient.EMBG, r.Patient.Name, r.Patient.Surname, r.Patient.Email}
		},
	},
	domain.RolePatient: {
		fetch: func(ctx context.Context, store domain.RecordStore, username string) ([]domain.DiagnosticRecord, error) {
			return store.FetchByPatient(ctx, username)
		},
		searchFields: func(r *domain.DiagnosticRecord) []string {
			return []string{r.Classification, r.Notes, r.Doctor.Name, r.Doctor.Surname}
		},
		doctorFilter: true,
	},
}

// Engine keeps one session's base record set and view state
type Engine struct {
	identity domain.IdentityContext
	store    domain.RecordStore
	log      *logrus.Logger

	mu     sync.Mutex
	base   []domain.DiagnosticRecord
	role   domain.Role
	loaded bool
	state  State
}

// NewEngine creates an engine with an empty view
func NewEngine(identity domain.IdentityContext, store domain.RecordStore, logger *logrus.Logger) *Engine {
	return &Engine{
		identity: identity,
		store:    store,
		log:      logger,
	}
}

// Refresh refetches the base set for the session's identity. An anonymous
// session fetches nothing and sees an empty view. A failed fetch leaves the
// previous view in place.
func (e *Engine) Refresh(ctx context.Context) (View, error) {
	identity, ok, err := e.identity.Identity(ctx)
	if err != nil {
		return e.View(), fmt.Errorf("reading identity: %w", err)
	}

	if !ok {
		e.mu.Lock()
		e.base = nil
		e.role = ""
		e.loaded = false
		view := e.viewLocked()
		e.mu.Unlock()
		return view, nil
	}

	scope, known := roles[identity.Role]
	if !known {
		return e.View(), domain.ErrForbidden
	}

	records, err := scope.fetch(ctx, e.store, identity.Username)
	if err != nil {
		e.log.WithFields(logrus.Fields{
			"username": identity.Username,
			"role":     identity.Role,
			"error":    err,
		}).Error("Failed to fetch records")
		return e.View(), fmt.Errorf("%w: %v", domain.ErrFetch, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.base = records
	e.role = identity.Role
	e.loaded = true

	e.log.WithFields(logrus.Fields{
		"role":    identity.Role,
		"records": len(records),
	}).Debug("Records refreshed")

	return e.viewLocked(), nil
}

// Loaded reports whether a base set has been fetched
func (e *Engine) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded
}

// Invalidate marks the base set stale so the next read refetches it. The
// current records and view state are kept until then.
func (e *Engine) Invalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loaded = false
}

// SetSearch changes the search text and re-applies the active sort
func (e *Engine) SetSearch(q string) View {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Search = q
	return e.viewLocked()
}

// SetDoctorFilter changes the doctor filter and re-applies the active sort
func (e *Engine) SetDoctorFilter(name string) View {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.DoctorFilter = name
	return e.viewLocked()
}

// ToggleSort selects a sort key, flipping the direction when it is
// already active
func (e *Engine) ToggleSort(key string) (View, error) {
	if !ValidSortKey(key) {
		return e.View(), domain.NewValidationError("sort", "unknown sort key", key)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = e.state.Toggle(key)
	return e.viewLocked(), nil
}

// View returns the current projection
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked()
}

func (e *Engine) viewLocked() View {
	return Apply(e.base, e.role, e.state)
}
