// Package notify tells patients by e-mail that a new diagnostic record is
// available. Saves enqueue a row in notification_outbox; a Dispatcher
// delivers pending rows.
package notify

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/neuroscan-portal/internal/domain"
)

// Notification is one pending outbox row
type Notification struct {
	ID          int64
	ResultID    int64
	Recipient   string
	PatientName string
	Attempts    int
}

// Outbox implements domain.ResultNotifier on a PostgreSQL table
type Outbox struct {
	db  *sql.DB
	log *logrus.Logger
}

// NewOutbox wraps an open database handle
func NewOutbox(db *sql.DB, logger *logrus.Logger) (*Outbox, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &Outbox{db: db, log: logger}, nil
}

// NewOutboxFromURL opens a lib/pq connection and verifies it
func NewOutboxFromURL(ctx context.Context, databaseURL string, logger *logrus.Logger) (*Outbox, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open outbox database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping outbox database: %w", err)
	}

	return NewOutbox(db, logger)
}

// NotifyResult enqueues a notification for the record's patient
func (o *Outbox) NotifyResult(ctx context.Context, record *domain.DiagnosticRecord) error {
	if record == nil {
		return fmt.Errorf("record is required")
	}
	if record.Patient.Email == "" {
		return fmt.Errorf("record %d has no patient email", record.ID)
	}

	query := `
		INSERT INTO notification_outbox (result_id, recipient, patient_name)
		VALUES ($1, $2, $3)
		RETURNING id
	`

	var id int64
	err := o.db.QueryRowContext(ctx, query, record.ID, record.Patient.Email, record.Patient.FullName()).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}

	o.log.WithFields(logrus.Fields{
		"notification_id": id,
		"result_id":       record.ID,
	}).Debug("Notification enqueued")

	return nil
}

// Pending returns up to limit undelivered rows that have been tried fewer
// than maxAttempts times, oldest first
func (o *Outbox) Pending(ctx context.Context, limit, maxAttempts int) ([]Notification, error) {
	query := `
		SELECT id, result_id, recipient, patient_name, attempts
		FROM notification_outbox
		WHERE sent_at IS NULL AND attempts < $1
		ORDER BY created_at, id
		LIMIT $2
	`

	rows, err := o.db.QueryContext(ctx, query, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending notifications: %w", err)
	}
	defer rows.Close()

	var pending []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.ResultID, &n.Recipient, &n.PatientName, &n.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		pending = append(pending, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}

	return pending, nil
}

// MarkSent records a successful delivery
func (o *Outbox) MarkSent(ctx context.Context, id int64) error {
	_, err := o.db.ExecContext(ctx,
		`UPDATE notification_outbox SET sent_at = NOW(), attempts = attempts + 1, last_error = '' WHERE id = $1`,
		id)
	if err != nil {
		return fmt.Errorf("failed to mark notification %d sent: %w", id, err)
	}
	return nil
}

// MarkFailed records a failed delivery attempt
func (o *Outbox) MarkFailed(ctx context.Context, id int64, cause error) error {
	_, err := o.db.ExecContext(ctx,
		`UPDATE notification_outbox SET attempts = attempts + 1, last_error = $2 WHERE id = $1`,
		id, cause.Error())
	if err != nil {
		return fmt.Errorf("failed to mark notification %d failed: %w", id, err)
	}
	return nil
}

// Close closes the database connection
func (o *Outbox) Close() error {
	return o.db.Close()
}
