package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/neuroscan-portal/internal/domain"
	"github.com/neuroscan-portal/internal/middleware"
	"github.com/neuroscan-portal/internal/pipeline"
	"github.com/neuroscan-portal/internal/query"
	"github.com/neuroscan-portal/internal/session"
)

// Deps are the collaborators of the HTTP server. Reader, Archive, Notifier
// and Health are optional.
type Deps struct {
	Auth      domain.Authenticator
	Store     domain.RecordStore
	Reader    domain.RecordReader
	Inference domain.InferenceService
	Archive   domain.ScanArchive
	Notifier  domain.ResultNotifier
	Sessions  session.Storage
	Tokens    *session.Tokens
	Health    func(ctx context.Context) error
	AuditLog  io.Writer
	Logger    *logrus.Logger
}

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	deps          Deps
	log           *logrus.Logger
	router        *gin.Engine
	server        *http.Server

	pipelines *session.Registry[*pipeline.Pipeline]
	engines   *session.Registry[*query.Engine]
}

// NewServer creates a new HTTP server instance
func NewServer(configManager domain.ConfigManager, deps Deps) *Server {
	cfg := configManager.GetConfig()

	if configManager.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.AuditLog == nil {
		deps.AuditLog = os.Stdout
	}

	router := gin.New()
	router.MaxMultipartMemory = cfg.Pipeline.MaxUploadBytes + 1<<20

	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.AuditLogger(deps.AuditLog))
	router.Use(middleware.SecurityHeaders())
	corsConfig := cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Correlation-ID"},
		ExposeHeaders:    []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	}
	router.Use(cors.New(corsConfig))
	router.Use(middleware.RequestTimeout(cfg.Server.RequestTimeout))

	s := &Server{
		configManager: configManager,
		deps:          deps,
		log:           deps.Logger,
		router:        router,
	}

	s.pipelines = session.NewRegistry(cfg.Pipeline.MaxInstances, cfg.Pipeline.IdleTTL, s.newPipeline)
	s.engines = session.NewRegistry(cfg.Pipeline.MaxInstances, cfg.Session.TTL, s.newEngine)

	s.setupRoutes()

	return s
}

func (s *Server) newPipeline(sessionID string) *pipeline.Pipeline {
	cfg := s.configManager.GetConfig().Pipeline
	log := s.log.WithField("session_id", sessionID)
	return pipeline.New(pipeline.Deps{
		Identity:  session.NewContext(s.deps.Sessions, sessionID),
		Inference: s.deps.Inference,
		Store:     s.deps.Store,
		Archive:   s.deps.Archive,
		Notifier:  s.deps.Notifier,
		Logger:    s.log,
	}, pipeline.Options{
		MaxUploadBytes:   cfg.MaxUploadBytes,
		DegradedFallback: cfg.DegradedFallback,
		OnTransition: func(from, to pipeline.State) {
			log.WithFields(logrus.Fields{"from": from, "to": to}).Debug("Pipeline transition")
		},
	})
}

func (s *Server) newEngine(sessionID string) *query.Engine {
	return query.NewEngine(session.NewContext(s.deps.Sessions, sessionID), s.deps.Store, s.log)
}

// Handler exposes the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	// Record store and account contract
	user := s.router.Group("/user")
	{
		user.POST("/create", s.handleCreateUser)
		user.POST("/login", s.handleUserLogin)
	}
	result := s.router.Group("/result")
	{
		result.GET("/doctor/:username", s.handleDoctorResults)
		result.GET("/patient/:username", s.handlePatientResults)
		result.POST("/save", s.handleSaveResult)
	}

	// Portal
	v1 := s.router.Group("/api/v1")
	v1.Use(middleware.Session(s.deps.Tokens, s.deps.Sessions))
	{
		v1.POST("/session/login", s.handleLogin)
		v1.POST("/session/logout", s.handleLogout)
		v1.GET("/session", middleware.RequireIdentity(), s.handleGetSession)

		scans := v1.Group("/scans", middleware.RequireRole(domain.RoleDoctor))
		{
			scans.POST("/file", s.handleSelectFile)
			scans.DELETE("/file", s.handleRemoveFile)
			scans.POST("/submit", s.handleSubmit)
			scans.POST("/save", s.handleSave)
			scans.POST("/reset", s.handleReset)
			scans.GET("/state", s.handleScanState)
		}

		results := v1.Group("/results", middleware.RequireIdentity())
		{
			results.GET("", s.handleResults)
			results.GET("/:id", s.handleGetResult)
		}
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}
	if s.deps.Health != nil {
		if err := s.deps.Health(c.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
			body["error"] = err.Error()
		}
	}
	c.JSON(status, body)
}
