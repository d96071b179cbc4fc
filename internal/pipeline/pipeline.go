// Package pipeline turns an uploaded scan into a persisted diagnostic record:
// validate, classify, review, save.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/neuroscan-portal/internal/domain"
)

// State is a step of the diagnostic workflow
type State string

const (
	StateIdle            State = "IDLE"
	StateValidating      State = "VALIDATING"
	StateSubmitting      State = "SUBMITTING"
	StateOutcomeReceived State = "OUTCOME_RECEIVED"
	StateOutcomeDegraded State = "OUTCOME_DEGRADED"
	StateReview          State = "REVIEW"
	StateSaving          State = "SAVING"
	StateSaved           State = "SAVED"
)

// RecordListPath is where the caller goes after a successful save
const RecordListPath = "/doctor"

// DefaultMaxUploadBytes is the upload size limit when none is configured
const DefaultMaxUploadBytes int64 = 10 << 20

var acceptedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
}

// Options tune the pipeline
type Options struct {
	MaxUploadBytes int64
	// DegradedFallback substitutes domain.DegradedOutcome when inference
	// fails. When false the failure is returned and the pipeline resets.
	DegradedFallback bool
	// OnTransition, if set, observes every state change. It runs under the
	// pipeline lock and must not call back into the pipeline.
	OnTransition func(from, to State)
}

// Deps are the collaborators of a pipeline. Archive and Notifier are optional.
type Deps struct {
	Identity  domain.IdentityContext
	Inference domain.InferenceService
	Store     domain.RecordStore
	Archive   domain.ScanArchive
	Notifier  domain.ResultNotifier
	Logger    *logrus.Logger
}

// SaveRequest is the reviewer's sign-off
type SaveRequest struct {
	PatientCode string `json:"patientCode"`
	Notes       string `json:"notes"`
	Rejected    bool   `json:"rejected"`
}

// SaveResult is returned by a successful save
type SaveResult struct {
	Record     *domain.DiagnosticRecord `json:"record"`
	RedirectTo string                   `json:"redirectTo"`
}

// Snapshot is a read-only view of the pipeline
type Snapshot struct {
	State      State                    `json:"state"`
	FileName   string                   `json:"fileName,omitempty"`
	Outcome    *domain.InferenceOutcome `json:"outcome,omitempty"`
	Degraded   bool                     `json:"degraded"`
	Saved      *domain.DiagnosticRecord `json:"saved,omitempty"`
	RedirectTo string                   `json:"redirectTo,omitempty"`
}

// Pipeline is the workflow of one session. All methods are safe for
// concurrent use; at most one submission or save runs at a time.
type Pipeline struct {
	deps Deps
	opts Options
	log  *logrus.Logger

	mu       sync.Mutex
	state    State
	file     *domain.UploadRequest
	outcome  *domain.InferenceOutcome
	degraded bool
	scanKey  string
	saved    *domain.DiagnosticRecord
}

// New creates an idle pipeline
func New(deps Deps, opts Options) *Pipeline {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Pipeline{
		deps:  deps,
		opts:  opts,
		log:   deps.Logger,
		state: StateIdle,
	}
}

func (p *Pipeline) setState(to State) {
	from := p.state
	p.state = to
	if p.opts.OnTransition != nil && from != to {
		p.opts.OnTransition(from, to)
	}
}

// busy reports whether a remote call is in flight. Caller holds mu.
func (p *Pipeline) busy() bool {
	return p.state == StateSubmitting || p.state == StateSaving
}

// SelectFile validates the upload and holds it for submission. A rejected
// file leaves the pipeline idle with nothing held.
func (p *Pipeline) SelectFile(upload domain.UploadRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.busy() {
		return domain.ErrSubmissionInFlight
	}
	if p.state == StateReview {
		return domain.ErrReviewPending
	}

	p.setState(StateValidating)
	p.file = nil
	p.saved = nil

	if err := p.validate(upload); err != nil {
		p.setState(StateIdle)
		p.log.WithFields(logrus.Fields{
			"filename":     upload.Filename,
			"content_type": upload.ContentType,
			"size":         upload.Size,
		}).Info("Upload rejected")
		return err
	}

	p.file = &upload
	return nil
}

func (p *Pipeline) validate(upload domain.UploadRequest) error {
	if !acceptedContentTypes[strings.ToLower(strings.TrimSpace(upload.ContentType))] {
		return domain.NewValidationError("file", "Please select a valid image file (JPEG, JPG, PNG)", upload.ContentType)
	}
	size := upload.Size
	if n := int64(len(upload.Data)); n > size {
		size = n
	}
	if size > p.opts.MaxUploadBytes {
		return domain.NewValidationError("file",
			fmt.Sprintf("File size must be less than %dMB", p.opts.MaxUploadBytes>>20), size)
	}
	return nil
}

// RemoveFile drops a held file
func (p *Pipeline) RemoveFile() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateValidating {
		p.file = nil
		p.setState(StateIdle)
	}
}

// Submit classifies the held file. An inference failure is replaced by the
// degraded outcome unless that fallback is disabled.
func (p *Pipeline) Submit(ctx context.Context, scanType string) (*Snapshot, error) {
	scanType = strings.TrimSpace(scanType)

	p.mu.Lock()
	if p.busy() {
		p.mu.Unlock()
		return nil, domain.ErrSubmissionInFlight
	}
	if scanType == "" {
		p.mu.Unlock()
		return nil, domain.NewValidationError("scan_type", "is required", "")
	}
	if p.state != StateValidating || p.file == nil {
		p.mu.Unlock()
		return nil, domain.ErrNoValidatedFile
	}
	upload := *p.file
	p.setState(StateSubmitting)
	p.mu.Unlock()

	// The user cannot cancel an in-flight classification
	ctx = context.WithoutCancel(ctx)

	scanKey := p.archive(ctx, upload)

	outcome, err := p.deps.Inference.Predict(ctx, upload, scanType)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.file = nil
	if err != nil || outcome == nil {
		if err == nil {
			err = errors.New("empty inference response")
		}
		if !p.opts.DegradedFallback {
			p.setState(StateIdle)
			p.log.WithError(err).Error("Inference failed")
			return nil, fmt.Errorf("%w: %v", domain.ErrInferenceUnavailable, err)
		}

		degraded := domain.DegradedOutcome()
		outcome = &degraded
		p.setState(StateOutcomeDegraded)
		p.degraded = true
		p.log.WithFields(logrus.Fields{
			"filename":  upload.Filename,
			"scan_type": scanType,
			"error":     err,
		}).Warn("Inference failed, substituting degraded outcome")
	} else {
		p.setState(StateOutcomeReceived)
		p.degraded = false
	}

	p.outcome = outcome
	p.scanKey = scanKey
	p.setState(StateReview)

	snap := p.snapshotLocked()
	return &snap, nil
}

func (p *Pipeline) archive(ctx context.Context, upload domain.UploadRequest) string {
	if p.deps.Archive == nil {
		return ""
	}
	key, err := p.deps.Archive.Store(ctx, upload)
	if err != nil {
		p.log.WithFields(logrus.Fields{
			"filename": upload.Filename,
			"error":    err,
		}).Warn("Failed to archive scan")
		return ""
	}
	return key
}

// Save persists the reviewed outcome authored by the session's doctor. On a
// store failure the outcome stays under review so the save can be retried.
func (p *Pipeline) Save(ctx context.Context, req SaveRequest) (*SaveResult, error) {
	if strings.TrimSpace(req.PatientCode) == "" {
		return nil, domain.NewValidationError("patientCode", "is required", "")
	}
	if strings.TrimSpace(req.Notes) == "" {
		return nil, domain.NewValidationError("notes", "is required", "")
	}

	identity, ok, err := p.deps.Identity.Identity(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading identity: %w", err)
	}
	if !ok {
		return nil, domain.ErrNotAuthenticated
	}
	if identity.Role != domain.RoleDoctor {
		return nil, domain.ErrForbidden
	}

	p.mu.Lock()
	if p.busy() {
		p.mu.Unlock()
		return nil, domain.ErrSubmissionInFlight
	}
	if p.state != StateReview || p.outcome == nil {
		p.mu.Unlock()
		return nil, domain.ErrNoPendingOutcome
	}
	create := buildRecord(*p.outcome, req, identity.Username, p.scanKey)
	p.setState(StateSaving)
	p.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	record, err := p.deps.Store.Create(ctx, create)

	p.mu.Lock()
	if err != nil {
		p.setState(StateReview)
		p.mu.Unlock()
		p.log.WithFields(logrus.Fields{
			"doctor": identity.Username,
			"error":  err,
		}).Error("Failed to save diagnostic record")
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	p.setState(StateSaved)
	p.outcome = nil
	p.degraded = false
	p.scanKey = ""
	p.saved = record
	p.mu.Unlock()

	p.log.WithFields(logrus.Fields{
		"result_id":      record.ID,
		"classification": record.Classification,
		"rejected":       req.Rejected,
	}).Info("Diagnostic record saved")

	if p.deps.Notifier != nil {
		if err := p.deps.Notifier.NotifyResult(ctx, record); err != nil {
			p.log.WithFields(logrus.Fields{
				"result_id": record.ID,
				"error":     err,
			}).Warn("Failed to queue result notification")
		}
	}

	return &SaveResult{Record: record, RedirectTo: RecordListPath}, nil
}

// buildRecord applies the reviewer's decision to the outcome
func buildRecord(outcome domain.InferenceOutcome, req SaveRequest, doctorEmail, scanKey string) domain.CreateRecordRequest {
	create := domain.CreateRecordRequest{
		Confidence:     outcome.Confidence,
		Classification: outcome.Prediction,
		ModelUsed:      outcome.Model,
		Notes:          req.Notes,
		PatientCode:    strings.TrimSpace(req.PatientCode),
		DoctorEmail:    doctorEmail,
		ScanKey:        scanKey,
	}
	if req.Rejected {
		create.Confidence = domain.RejectedConfidence
		create.Classification = domain.RejectedClassification
		create.ModelUsed = domain.RejectedModel
	}
	return create
}

// Reset abandons any held file or unsaved outcome
func (p *Pipeline) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.busy() {
		return domain.ErrSubmissionInFlight
	}
	p.setState(StateIdle)
	p.file = nil
	p.outcome = nil
	p.degraded = false
	p.scanKey = ""
	p.saved = nil
	return nil
}

// Snapshot returns the current state
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Pipeline) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:    p.state,
		Degraded: p.degraded,
		Saved:    p.saved,
	}
	if p.file != nil {
		snap.FileName = p.file.Filename
	}
	if p.outcome != nil {
		outcome := *p.outcome
		snap.Outcome = &outcome
	}
	if p.state == StateSaved {
		snap.RedirectTo = RecordListPath
	}
	return snap
}
