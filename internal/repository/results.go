package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/neuroscan-portal/internal/domain"
)

// recordSelect joins a result with both of its participants. Column order
// matches scanRecord.
const recordSelect = `
	SELECT r.id, r.date, r.confidence, r.classification, r.model_used, r.notes, r.scan_key,
		   p.id, p.name, p.surname, p.email, p.embg, p.role,
		   d.id, d.name, d.surname, d.email, d.embg, d.role
	FROM results r
	JOIN users p ON p.id = r.patient_id
	JOIN users d ON d.id = r.doctor_id`

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// ResultRepository handles diagnostic record persistence in PostgreSQL
type ResultRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
	now func() time.Time
}

// NewResultRepository creates a new result repository
func NewResultRepository(db *pgxpool.Pool, logger *logrus.Logger) *ResultRepository {
	return &ResultRepository{
		db:  db,
		log: logger,
		now: time.Now,
	}
}

// FetchByDoctor returns every record authored by the doctor with the given
// email, oldest first
func (r *ResultRepository) FetchByDoctor(ctx context.Context, username string) ([]domain.DiagnosticRecord, error) {
	return r.fetchFor(ctx, "d", username)
}

// FetchByPatient returns every record about the patient with the given
// email, oldest first
func (r *ResultRepository) FetchByPatient(ctx context.Context, username string) ([]domain.DiagnosticRecord, error) {
	return r.fetchFor(ctx, "p", username)
}

func (r *ResultRepository) fetchFor(ctx context.Context, alias, username string) ([]domain.DiagnosticRecord, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`, username).Scan(&exists); err != nil {
		return nil, fmt.Errorf("checking user %s: %w", username, err)
	}
	if !exists {
		return nil, fmt.Errorf("user %s: %w", username, domain.ErrNotFound)
	}

	query := recordSelect + ` WHERE ` + alias + `.email = $1 ORDER BY r.id`

	rows, err := r.db.Query(ctx, query, username)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"username": username,
			"error":    err,
		}).Error("Failed to query results")
		return nil, fmt.Errorf("querying results: %w", err)
	}
	defer rows.Close()

	records := make([]domain.DiagnosticRecord, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating results: %w", err)
	}

	return records, nil
}

// GetByID retrieves one fully populated record
func (r *ResultRepository) GetByID(ctx context.Context, id int64) (*domain.DiagnosticRecord, error) {
	record, err := scanRecord(r.db.QueryRow(ctx, recordSelect+` WHERE r.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("result %d: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting result by ID: %w", err)
	}
	return record, nil
}

// Create resolves the doctor by email and the patient by EMBG, then stores a
// new record stamped with today's date. An account holding the other role
// does not resolve.
func (r *ResultRepository) Create(ctx context.Context, req domain.CreateRecordRequest) (*domain.DiagnosticRecord, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var doctorID, patientID int64
	if err := tx.QueryRow(ctx, `SELECT id FROM users WHERE email = $1 AND role = $2`, req.DoctorEmail, string(domain.RoleDoctor)).Scan(&doctorID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("doctor %s: %w", req.DoctorEmail, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("resolving doctor: %w", err)
	}
	if err := tx.QueryRow(ctx, `SELECT id FROM users WHERE embg = $1 AND role = $2`, req.PatientCode, string(domain.RolePatient)).Scan(&patientID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("patient: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("resolving patient: %w", err)
	}

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO results (date, confidence, classification, model_used, notes, scan_key, patient_id, doctor_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		r.now().UTC().Truncate(24*time.Hour),
		req.Confidence,
		req.Classification,
		req.ModelUsed,
		req.Notes,
		req.ScanKey,
		patientID,
		doctorID,
	).Scan(&id)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"doctor": req.DoctorEmail,
			"error":  err,
		}).Error("Failed to create result")
		return nil, fmt.Errorf("creating result: %w", err)
	}

	record, err := scanRecord(tx.QueryRow(ctx, recordSelect+` WHERE r.id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("reading created result: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing result: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"result_id":      record.ID,
		"classification": record.Classification,
		"model":          record.ModelUsed,
	}).Info("Result created successfully")

	return record, nil
}

func scanRecord(s rowScanner) (*domain.DiagnosticRecord, error) {
	var rec domain.DiagnosticRecord
	var patientRole, doctorRole string

	err := s.Scan(
		&rec.ID, &rec.Date, &rec.Confidence, &rec.Classification, &rec.ModelUsed, &rec.Notes, &rec.ScanKey,
		&rec.Patient.ID, &rec.Patient.Name, &rec.Patient.Surname, &rec.Patient.Email, &rec.Patient.EMBG, &patientRole,
		&rec.Doctor.ID, &rec.Doctor.Name, &rec.Doctor.Surname, &rec.Doctor.Email, &rec.Doctor.EMBG, &doctorRole,
	)
	if err != nil {
		return nil, err
	}

	rec.Patient.Role = domain.Role(patientRole)
	rec.Doctor.Role = domain.Role(doctorRole)
	return &rec, nil
}
