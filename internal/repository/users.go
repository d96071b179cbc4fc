package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/neuroscan-portal/internal/domain"
)

const uniqueViolation = "23505"

// UserRepository handles user account persistence
type UserRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *pgxpool.Pool, logger *logrus.Logger) *UserRepository {
	return &UserRepository{
		db:  db,
		log: logger,
	}
}

// CreateUser inserts a user and fills in its generated ID
func (r *UserRepository) CreateUser(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (name, surname, email, embg, role, password_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query,
		user.Name,
		user.Surname,
		user.Email,
		user.EMBG,
		string(user.Role),
		user.PasswordHash,
	).Scan(&user.ID, &user.CreatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("user %s: %w", user.Email, domain.ErrDuplicateUser)
		}
		r.log.WithFields(logrus.Fields{
			"email": user.Email,
			"error": err,
		}).Error("Failed to create user")
		return fmt.Errorf("creating user: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"user_id": user.ID,
		"role":    user.Role,
	}).Info("User created successfully")

	return nil
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, "email", email)
}

// GetByEMBG retrieves a user by personal identification number
func (r *UserRepository) GetByEMBG(ctx context.Context, embg string) (*domain.User, error) {
	return r.getOne(ctx, "embg", embg)
}

func (r *UserRepository) getOne(ctx context.Context, column, value string) (*domain.User, error) {
	// column is one of a fixed set chosen by the callers above
	query := `
		SELECT id, name, surname, email, embg, role, password_hash, created_at
		FROM users
		WHERE ` + column + ` = $1`

	var user domain.User
	var role string

	err := r.db.QueryRow(ctx, query, value).Scan(
		&user.ID,
		&user.Name,
		&user.Surname,
		&user.Email,
		&user.EMBG,
		&role,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user not found: %w", domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"lookup": column,
			"error":  err,
		}).Error("Failed to get user")
		return nil, fmt.Errorf("getting user by %s: %w", column, err)
	}

	user.Role = domain.Role(role)
	return &user, nil
}
