package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/neuroscan-portal/internal/domain"
	"github.com/neuroscan-portal/internal/middleware"
	"github.com/neuroscan-portal/internal/pipeline"
	"github.com/neuroscan-portal/internal/session"
)

// landing pages per role after login
var landing = map[domain.Role]string{
	domain.RoleDoctor:  "/doctor",
	domain.RolePatient: "/patient",
}

// LoginResponse carries the session token for later requests
type LoginResponse struct {
	Token      string          `json:"token"`
	Identity   domain.Identity `json:"identity"`
	RedirectTo string          `json:"redirectTo"`
}

// handleLogin authenticates and opens a new session
func (s *Server) handleLogin(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, domain.NewValidationError("body", "Invalid request body", err.Error()))
		return
	}

	identity, err := s.deps.Auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.respondError(c, err)
		return
	}

	sessionID := session.NewSessionID()
	if err := session.NewContext(s.deps.Sessions, sessionID).SetIdentity(c.Request.Context(), identity.Username, identity.Role); err != nil {
		s.respondError(c, fmt.Errorf("storing session identity: %w", err))
		return
	}
	token, err := s.deps.Tokens.Issue(sessionID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.Set(middleware.UsernameKey, identity.Username)
	s.log.WithFields(logrus.Fields{
		"username": identity.Username,
		"role":     identity.Role,
	}).Info("Session opened")

	c.JSON(http.StatusOK, LoginResponse{
		Token:      token,
		Identity:   *identity,
		RedirectTo: landing[identity.Role],
	})
}

// handleLogout clears the identity and drops the session's workflow state
func (s *Server) handleLogout(c *gin.Context) {
	sc, ok := middleware.SessionFrom(c)
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}

	if err := sc.Clear(c.Request.Context()); err != nil {
		s.respondError(c, fmt.Errorf("clearing session: %w", err))
		return
	}
	s.pipelines.Drop(sc.ID())
	s.engines.Drop(sc.ID())

	c.Status(http.StatusNoContent)
}

func (s *Server) handleGetSession(c *gin.Context) {
	identity, _ := middleware.IdentityFrom(c)
	c.JSON(http.StatusOK, identity)
}

// pipelineFor returns the pipeline of the request's session. Route guards
// guarantee a session is attached.
func (s *Server) pipelineFor(c *gin.Context) *pipeline.Pipeline {
	sc, _ := middleware.SessionFrom(c)
	return s.pipelines.Get(sc.ID())
}

// handleSelectFile validates the multipart "file" part and holds it
func (s *Server) handleSelectFile(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		s.respondError(c, domain.NewValidationError("file", "Please select a file", ""))
		return
	}

	limit := s.configManager.GetConfig().Pipeline.MaxUploadBytes
	f, err := header.Open()
	if err != nil {
		s.respondError(c, fmt.Errorf("opening upload: %w", err))
		return
	}
	defer f.Close()

	// one byte past the limit is enough for validation to reject it
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		s.respondError(c, fmt.Errorf("reading upload: %w", err))
		return
	}

	p := s.pipelineFor(c)
	err = p.SelectFile(domain.UploadRequest{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Data:        data,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, p.Snapshot())
}

func (s *Server) handleRemoveFile(c *gin.Context) {
	p := s.pipelineFor(c)
	p.RemoveFile()
	c.JSON(http.StatusOK, p.Snapshot())
}

type submitRequest struct {
	ScanType string `json:"scan_type" form:"scan_type"`
}

// handleSubmit sends the held file for classification
func (s *Server) handleSubmit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBind(&req); err != nil {
		s.respondError(c, domain.NewValidationError("body", "Invalid request body", err.Error()))
		return
	}

	snap, err := s.pipelineFor(c).Submit(c.Request.Context(), req.ScanType)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, snap)
}

// handleSave persists the reviewed outcome
func (s *Server) handleSave(c *gin.Context) {
	var req pipeline.SaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, domain.NewValidationError("body", "Invalid request body", err.Error()))
		return
	}

	result, err := s.pipelineFor(c).Save(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}

	// the list the caller is redirected to must include the new record
	sc, _ := middleware.SessionFrom(c)
	s.engines.Get(sc.ID()).Invalidate()

	c.JSON(http.StatusOK, result)
}

func (s *Server) handleReset(c *gin.Context) {
	p := s.pipelineFor(c)
	if err := p.Reset(); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p.Snapshot())
}

func (s *Server) handleScanState(c *gin.Context) {
	c.JSON(http.StatusOK, s.pipelineFor(c).Snapshot())
}

// handleResults returns the caller's view. The base set is fetched on first
// use, after a save, or when refresh=true; q, doctor and sort then update the
// view state.
func (s *Server) handleResults(c *gin.Context) {
	sc, _ := middleware.SessionFrom(c)
	engine := s.engines.Get(sc.ID())

	if !engine.Loaded() || c.Query("refresh") == "true" {
		if _, err := engine.Refresh(c.Request.Context()); err != nil {
			s.respondError(c, err)
			return
		}
	}

	view := engine.View()
	if q, ok := c.GetQuery("q"); ok {
		view = engine.SetSearch(q)
	}
	if doctor, ok := c.GetQuery("doctor"); ok {
		view = engine.SetDoctorFilter(doctor)
	}
	if key := c.Query("sort"); key != "" {
		var err error
		if view, err = engine.ToggleSort(key); err != nil {
			s.respondError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, view)
}

// handleGetResult returns one record the caller is party to, for rendering
func (s *Server) handleGetResult(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		s.respondError(c, domain.NewValidationError("id", "must be a number", c.Param("id")))
		return
	}
	identity, _ := middleware.IdentityFrom(c)

	record, err := s.findRecord(c, identity, id)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

func (s *Server) findRecord(c *gin.Context, identity domain.Identity, id int64) (*domain.DiagnosticRecord, error) {
	ctx := c.Request.Context()

	if s.deps.Reader != nil {
		record, err := s.deps.Reader.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if !partyTo(record, identity) {
			return nil, domain.ErrNotFound
		}
		return record, nil
	}

	var records []domain.DiagnosticRecord
	var err error
	if identity.Role == domain.RoleDoctor {
		records, err = s.deps.Store.FetchByDoctor(ctx, identity.Username)
	} else {
		records, err = s.deps.Store.FetchByPatient(ctx, identity.Username)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrFetch, err)
	}
	for i := range records {
		if records[i].ID == id {
			return &records[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

// partyTo reports whether the identity authored or is the subject of record
func partyTo(record *domain.DiagnosticRecord, identity domain.Identity) bool {
	switch identity.Role {
	case domain.RoleDoctor:
		return strings.EqualFold(record.Doctor.Email, identity.Username)
	case domain.RolePatient:
		return strings.EqualFold(record.Patient.Email, identity.Username)
	default:
		return false
	}
}
