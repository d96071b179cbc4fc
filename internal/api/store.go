package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/neuroscan-portal/internal/domain"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleCreateUser registers a patient account
func (s *Server) handleCreateUser(c *gin.Context) {
	var req domain.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, domain.NewValidationError("body", "Invalid request body", err.Error()))
		return
	}

	if err := s.deps.Auth.Register(c.Request.Context(), req); err != nil {
		s.respondError(c, err)
		return
	}

	c.Status(http.StatusCreated)
}

// handleUserLogin verifies credentials and returns the account
func (s *Server) handleUserLogin(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, domain.NewValidationError("body", "Invalid request body", err.Error()))
		return
	}

	user, err := s.deps.Auth.Verify(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, user)
}

func (s *Server) handleDoctorResults(c *gin.Context) {
	records, err := s.deps.Store.FetchByDoctor(c.Request.Context(), c.Param("username"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) handlePatientResults(c *gin.Context) {
	records, err := s.deps.Store.FetchByPatient(c.Request.Context(), c.Param("username"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// handleSaveResult persists a record and queues the patient notification
func (s *Server) handleSaveResult(c *gin.Context) {
	var req domain.CreateRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, domain.NewValidationError("body", "Invalid request body", err.Error()))
		return
	}
	if strings.TrimSpace(req.DoctorEmail) == "" {
		s.respondError(c, domain.NewValidationError("doctorEmail", "is required", ""))
		return
	}
	if strings.TrimSpace(req.PatientCode) == "" {
		s.respondError(c, domain.NewValidationError("patientEmbg", "is required", ""))
		return
	}

	record, err := s.deps.Store.Create(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}

	if s.deps.Notifier != nil {
		if err := s.deps.Notifier.NotifyResult(c.Request.Context(), record); err != nil {
			s.log.WithFields(logrus.Fields{
				"result_id": record.ID,
				"error":     err,
			}).Warn("Failed to queue result notification")
		}
	}

	c.JSON(http.StatusOK, record)
}
