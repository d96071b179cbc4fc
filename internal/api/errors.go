package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/neuroscan-portal/internal/domain"
	"github.com/neuroscan-portal/internal/middleware"
)

// classify maps an error to its HTTP status and APIError code
func classify(err error) (int, string) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, domain.ErrCodeValidation
	case errors.Is(err, domain.ErrInvalidCredentials), errors.Is(err, domain.ErrNotAuthenticated):
		return http.StatusUnauthorized, domain.ErrCodeAuthentication
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, domain.ErrCodeForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, domain.ErrCodeNotFound
	case errors.Is(err, domain.ErrDuplicateUser):
		return http.StatusConflict, domain.ErrCodeConflict
	case errors.Is(err, domain.ErrSubmissionInFlight),
		errors.Is(err, domain.ErrNoValidatedFile),
		errors.Is(err, domain.ErrNoPendingOutcome),
		errors.Is(err, domain.ErrReviewPending):
		return http.StatusConflict, domain.ErrCodeState
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusBadGateway, domain.ErrCodePersistence
	case errors.Is(err, domain.ErrFetch):
		return http.StatusBadGateway, domain.ErrCodeFetch
	case errors.Is(err, domain.ErrInferenceUnavailable):
		return http.StatusServiceUnavailable, domain.ErrCodeInference
	default:
		return http.StatusInternalServerError, domain.ErrCodeInternalServer
	}
}

// respondError renders err as an APIError
func (s *Server) respondError(c *gin.Context, err error) {
	status, code := classify(err)
	requestID := c.GetString(middleware.CorrelationIDKey)

	var apiErr *domain.APIError
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		apiErr = domain.NewAPIError(code, ve.Message, ve.Field, requestID)
	case status == http.StatusInternalServerError:
		s.log.WithFields(logrus.Fields{
			"path":       c.FullPath(),
			"request_id": requestID,
			"error":      err,
		}).Error("Request failed")
		apiErr = domain.NewAPIError(code, "Internal server error", "", requestID)
	default:
		apiErr = domain.NewAPIError(code, err.Error(), "", requestID)
	}
	if status == http.StatusForbidden {
		apiErr.Redirect = middleware.HomePath
	}

	c.AbortWithStatusJSON(status, apiErr)
}
