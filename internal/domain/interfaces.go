package domain

import (
	"context"
)

// IdentityContext exposes the identity of the current session. ok is false
// when the session is anonymous.
type IdentityContext interface {
	Identity(ctx context.Context) (id Identity, ok bool, err error)
}

// RecordStore persists and retrieves diagnostic records. Records are never
// updated or deleted.
type RecordStore interface {
	FetchByDoctor(ctx context.Context, username string) ([]DiagnosticRecord, error)
	FetchByPatient(ctx context.Context, username string) ([]DiagnosticRecord, error)
	Create(ctx context.Context, req CreateRecordRequest) (*DiagnosticRecord, error)
}

// RecordReader looks up a single record by ID
type RecordReader interface {
	GetByID(ctx context.Context, id int64) (*DiagnosticRecord, error)
}

// UserStore persists user accounts
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByEMBG(ctx context.Context, embg string) (*User, error)
}

// InferenceService classifies a scan image
type InferenceService interface {
	Predict(ctx context.Context, upload UploadRequest, scanType string) (*InferenceOutcome, error)
}

// Authenticator verifies credentials and registers patients
type Authenticator interface {
	Verify(ctx context.Context, email, password string) (*User, error)
	Login(ctx context.Context, email, password string) (*Identity, error)
	Register(ctx context.Context, req RegisterRequest) error
}

// ScanArchive stores validated scan images and returns their key
type ScanArchive interface {
	Store(ctx context.Context, upload UploadRequest) (string, error)
}

// ResultNotifier tells a patient that a new record is available
type ResultNotifier interface {
	NotifyResult(ctx context.Context, record *DiagnosticRecord) error
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetDatabaseURL() string
	IsProduction() bool
	IsDevelopment() bool
}
