// Package auth verifies credentials and registers portal accounts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/neuroscan-portal/internal/domain"
)

// Service authenticates users against a UserStore
type Service struct {
	users domain.UserStore
	log   *logrus.Logger
	cost  int
}

// NewService creates an authentication service
func NewService(users domain.UserStore, logger *logrus.Logger) *Service {
	return &Service{
		users: users,
		log:   logger,
		cost:  bcrypt.DefaultCost,
	}
}

// HashPassword generates a bcrypt hash of the password
func (s *Service) HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify checks the credentials and returns the matching user. Unknown email
// and wrong password are indistinguishable to the caller.
func (s *Service) Verify(ctx context.Context, email, password string) (*domain.User, error) {
	email = strings.TrimSpace(email)

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.log.WithField("email", email).Info("Login rejected: unknown user")
			return nil, domain.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.log.WithField("email", email).Info("Login rejected: wrong password")
		return nil, domain.ErrInvalidCredentials
	}

	s.log.WithFields(logrus.Fields{
		"email": email,
		"role":  user.Role,
	}).Info("User logged in")

	return user, nil
}

// Login returns the session identity for valid credentials
func (s *Service) Login(ctx context.Context, email, password string) (*domain.Identity, error) {
	user, err := s.Verify(ctx, email, password)
	if err != nil {
		return nil, err
	}
	id := user.Identity()
	return &id, nil
}

// Register creates a patient account
func (s *Service) Register(ctx context.Context, req domain.RegisterRequest) error {
	return s.create(ctx, req, domain.RolePatient)
}

// RegisterDoctor creates a doctor account. Doctors cannot self-register
// over HTTP; this is used by the operator CLI.
func (s *Service) RegisterDoctor(ctx context.Context, req domain.RegisterRequest) error {
	return s.create(ctx, req, domain.RoleDoctor)
}

func (s *Service) create(ctx context.Context, req domain.RegisterRequest, role domain.Role) error {
	if err := validateRegistration(req); err != nil {
		return err
	}

	hash, err := s.HashPassword(req.Password)
	if err != nil {
		return err
	}

	user := &domain.User{
		Profile: domain.Profile{
			Name:    strings.TrimSpace(req.Name),
			Surname: strings.TrimSpace(req.Surname),
			Email:   strings.TrimSpace(req.Email),
			EMBG:    strings.TrimSpace(req.EMBG),
			Role:    role,
		},
		PasswordHash: hash,
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		return err
	}
	return nil
}

func validateRegistration(req domain.RegisterRequest) error {
	required := []struct{ field, value string }{
		{"name", req.Name},
		{"surname", req.Surname},
		{"embg", req.EMBG},
		{"email", req.Email},
		{"password", req.Password},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return domain.NewValidationError(r.field, "is required", "")
		}
	}
	if !strings.Contains(req.Email, "@") {
		return domain.NewValidationError("email", "must be an email address", req.Email)
	}
	return nil
}
