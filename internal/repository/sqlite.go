package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/neuroscan-portal/internal/domain"
)

// SQLiteStore keeps users and records in a single SQLite file. It backs the
// lite deployment mode and implements UserStore, RecordStore and RecordReader.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	log    *logrus.Logger
	now    func() time.Time
}

// NewSQLiteStore opens (or creates) the database file and its schema
func NewSQLiteStore(dbPath string, logger *logrus.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createLiteSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.WithField("path", dbPath).Info("SQLite store opened")

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
		log:    logger,
		now:    time.Now,
	}, nil
}

func createLiteSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		surname TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		embg TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL CHECK (role IN ('DOCTOR', 'PATIENT')),
		password_hash TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date TEXT NOT NULL,
		confidence REAL NOT NULL,
		classification TEXT NOT NULL,
		model_used TEXT NOT NULL,
		notes TEXT NOT NULL,
		scan_key TEXT NOT NULL DEFAULT '',
		patient_id INTEGER NOT NULL REFERENCES users(id),
		doctor_id INTEGER NOT NULL REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS idx_results_patient_id ON results(patient_id);
	CREATE INDEX IF NOT EXISTS idx_results_doctor_id ON results(doctor_id);
	`

	_, err := db.Exec(schema)
	return err
}

// CreateUser inserts a user and fills in its generated ID
func (s *SQLiteStore) CreateUser(ctx context.Context, user *domain.User) error {
	now := s.now().UTC()

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO users (name, surname, email, embg, role, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		user.Name, user.Surname, user.Email, user.EMBG, string(user.Role), user.PasswordHash, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("user %s: %w", user.Email, domain.ErrDuplicateUser)
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}
	user.ID = id
	user.CreatedAt = now

	return nil
}

// GetByEmail retrieves a user by email
func (s *SQLiteStore) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.getUser(ctx, "email", email)
}

// GetByEMBG retrieves a user by personal identification number
func (s *SQLiteStore) GetByEMBG(ctx context.Context, embg string) (*domain.User, error) {
	return s.getUser(ctx, "embg", embg)
}

func (s *SQLiteStore) getUser(ctx context.Context, column, value string) (*domain.User, error) {
	var user domain.User
	var role string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, surname, email, embg, role, password_hash
		FROM users
		WHERE `+column+` = ?
	`, value).Scan(&user.ID, &user.Name, &user.Surname, &user.Email, &user.EMBG, &role, &user.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	user.Role = domain.Role(role)
	return &user, nil
}

const liteRecordSelect = `
	SELECT r.id, r.date, r.confidence, r.classification, r.model_used, r.notes, r.scan_key,
		p.id, p.name, p.surname, p.email, p.embg, p.role,
		d.id, d.name, d.surname, d.email, d.embg, d.role
	FROM results r
	JOIN users p ON p.id = r.patient_id
	JOIN users d ON d.id = r.doctor_id`

// scanLiteRecord reads the date column as text and reuses scanRecord for the rest
func scanLiteRecord(s rowScanner) (*domain.DiagnosticRecord, error) {
	var day string
	rec, err := scanRecord(dateAsText{s: s, day: &day})
	if err != nil {
		return nil, err
	}

	rec.Date, err = time.Parse(domain.DateLayout, day)
	if err != nil {
		return nil, fmt.Errorf("parsing result date %q: %w", day, err)
	}
	return rec, nil
}

// dateAsText swaps the second scan destination for a string
type dateAsText struct {
	s   rowScanner
	day *string
}

func (d dateAsText) Scan(dest ...any) error {
	dest[1] = d.day
	return d.s.Scan(dest...)
}

// FetchByDoctor returns every record authored by the doctor with the given email
func (s *SQLiteStore) FetchByDoctor(ctx context.Context, username string) ([]domain.DiagnosticRecord, error) {
	return s.fetchFor(ctx, "d", username)
}

// FetchByPatient returns every record about the patient with the given email
func (s *SQLiteStore) FetchByPatient(ctx context.Context, username string) ([]domain.DiagnosticRecord, error) {
	return s.fetchFor(ctx, "p", username)
}

func (s *SQLiteStore) fetchFor(ctx context.Context, alias, username string) ([]domain.DiagnosticRecord, error) {
	if _, err := s.GetByEmail(ctx, username); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, liteRecordSelect+` WHERE `+alias+`.email = ? ORDER BY r.id`, username)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	records := make([]domain.DiagnosticRecord, 0)
	for rows.Next() {
		rec, err := scanLiteRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// GetByID retrieves one fully populated record
func (s *SQLiteStore) GetByID(ctx context.Context, id int64) (*domain.DiagnosticRecord, error) {
	rec, err := scanLiteRecord(s.db.QueryRowContext(ctx, liteRecordSelect+` WHERE r.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("result %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan result: %w", err)
	}
	return rec, nil
}

// Create resolves the doctor by email and the patient by EMBG, then stores a
// new record stamped with today's date. An account holding the other role
// does not resolve.
func (s *SQLiteStore) Create(ctx context.Context, req domain.CreateRecordRequest) (*domain.DiagnosticRecord, error) {
	doctor, err := s.GetByEmail(ctx, req.DoctorEmail)
	if err != nil {
		return nil, fmt.Errorf("doctor %s: %w", req.DoctorEmail, err)
	}
	if doctor.Role != domain.RoleDoctor {
		return nil, fmt.Errorf("doctor %s: %w", req.DoctorEmail, domain.ErrNotFound)
	}
	patient, err := s.GetByEMBG(ctx, req.PatientCode)
	if err != nil {
		return nil, fmt.Errorf("patient: %w", err)
	}
	if patient.Role != domain.RolePatient {
		return nil, fmt.Errorf("patient: %w", domain.ErrNotFound)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO results (date, confidence, classification, model_used, notes, scan_key, patient_id, doctor_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.now().UTC().Format(domain.DateLayout),
		req.Confidence,
		req.Classification,
		req.ModelUsed,
		req.Notes,
		req.ScanKey,
		patient.ID,
		doctor.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert result: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get insert ID: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"result_id":      id,
		"classification": req.Classification,
	}).Info("Result created successfully")

	return s.GetByID(ctx, id)
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
