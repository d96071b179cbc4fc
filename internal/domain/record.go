package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the wire format of record dates
const DateLayout = "2006-01-02"

// Sentinel values used by the diagnostic workflow
const (
	// DegradedModel, DegradedPrediction and DegradedConfidence form the
	// placeholder outcome substituted when the inference call fails.
	DegradedModel      = "vit"
	DegradedPrediction = "tumor"
	DegradedConfidence = 0.5

	// RejectedClassification, RejectedModel and RejectedConfidence replace the
	// outcome when the reviewer rejects it.
	RejectedClassification = "NONE"
	RejectedModel          = "NONE"
	RejectedConfidence     = 0.0
)

// Profile is the identity-bearing part of a user as embedded in records
type Profile struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Surname string `json:"surname"`
	Email   string `json:"email"`
	EMBG    string `json:"embg"`
	Role    Role   `json:"role"`
}

// FullName returns "{name} {surname}"
func (p Profile) FullName() string {
	return p.Name + " " + p.Surname
}

// User is a registered account including its password hash
type User struct {
	Profile
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// DiagnosticRecord is the persisted, immutable outcome of one workflow run
type DiagnosticRecord struct {
	ID             int64     `json:"id"`
	Date           time.Time `json:"date"`
	Confidence     float64   `json:"confidence"`
	Classification string    `json:"classification"`
	ModelUsed      string    `json:"modelUsed"`
	Notes          string    `json:"notes"`
	ScanKey        string    `json:"scanKey,omitempty"`
	Patient        Profile   `json:"patient"`
	Doctor         Profile   `json:"doctor"`
}

type recordJSON DiagnosticRecord

// MarshalJSON writes Date as a calendar day
func (r DiagnosticRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		recordJSON
		Date string `json:"date"`
	}{
		recordJSON: recordJSON(r),
		Date:       r.Date.Format(DateLayout),
	})
}

// UnmarshalJSON accepts a calendar day or an RFC 3339 timestamp as Date
func (r *DiagnosticRecord) UnmarshalJSON(data []byte) error {
	var aux struct {
		recordJSON
		Date string `json:"date"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = DiagnosticRecord(aux.recordJSON)

	if aux.Date == "" {
		return nil
	}
	for _, layout := range []string{DateLayout, time.RFC3339} {
		if t, err := time.Parse(layout, aux.Date); err == nil {
			r.Date = t
			return nil
		}
	}
	return fmt.Errorf("invalid record date %q", aux.Date)
}

// CreateRecordRequest carries the fields needed to persist a record.
// The store resolves the doctor by email and the patient by EMBG.
type CreateRecordRequest struct {
	Confidence     float64 `json:"confidence"`
	Classification string  `json:"classification"`
	ModelUsed      string  `json:"modelUsed"`
	Notes          string  `json:"notes"`
	PatientCode    string  `json:"patientEmbg"`
	DoctorEmail    string  `json:"doctorEmail"`
	ScanKey        string  `json:"scanKey,omitempty"`
}

// InferenceOutcome is the (model, prediction, confidence) triple returned by
// the classification service
type InferenceOutcome struct {
	Model      string  `json:"model"`
	Prediction string  `json:"prediction"`
	Confidence float64 `json:"confidence"`
}

// DegradedOutcome returns the placeholder outcome used when inference fails
func DegradedOutcome() InferenceOutcome {
	return InferenceOutcome{
		Model:      DegradedModel,
		Prediction: DegradedPrediction,
		Confidence: DegradedConfidence,
	}
}

// UploadRequest is an image selected for classification
type UploadRequest struct {
	Filename    string
	ContentType string
	Size        int64
	Data        []byte
}

// RegisterRequest holds the fields of a new patient account
type RegisterRequest struct {
	Name     string `json:"name" binding:"required"`
	Surname  string `json:"surname" binding:"required"`
	EMBG     string `json:"embg" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Identity returns the session identity of the user
func (u User) Identity() Identity {
	return Identity{Username: u.Email, Role: u.Role}
}
