package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/neuroscan-portal/internal/api"
	"github.com/neuroscan-portal/internal/auth"
	"github.com/neuroscan-portal/internal/domain"
	"github.com/neuroscan-portal/internal/notify"
	"github.com/neuroscan-portal/internal/session"
	"github.com/neuroscan-portal/pkg/inference"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the portal HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	configManager, logger, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configManager.GetConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	logger.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"store":       cfg.Store.Mode,
		"sessions":    cfg.Session.Backend,
	}).Info("Starting NeuroScan portal")

	st, err := openStores(ctx, configManager, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	authenticator := st.Auth
	if authenticator == nil {
		authenticator = auth.NewService(st.Users, logger)
	}

	sessions, closeSessions, err := openSessions(cfg.Session, logger)
	if err != nil {
		return err
	}
	defer closeSessions()

	secret := cfg.Session.TokenSecret
	if secret == "" {
		secret = session.NewSessionID() + session.NewSessionID()
		logger.Warn("No session token secret configured; sessions will not survive a restart")
	}

	scanArchive, err := openArchive(ctx, cfg.Archive, logger)
	if err != nil {
		return err
	}

	deps := api.Deps{
		Auth:      authenticator,
		Store:     st.Records,
		Reader:    st.Reader,
		Inference: inference.NewClient(inference.ConfigFrom(cfg.Inference), logger),
		Archive:   scanArchive,
		Sessions:  sessions,
		Tokens:    session.NewTokens(secret, cfg.Session.TTL),
		Health:    st.Health,
		Logger:    logger,
	}

	outbox, err := openOutbox(ctx, configManager, logger)
	if err != nil {
		return err
	}
	if outbox != nil {
		defer outbox.Close()
		deps.Notifier = outbox

		dispatcher := notify.NewDispatcher(outbox, notify.NewSMTPSender(cfg.Notify), notify.DispatcherConfig{
			From:         cfg.Notify.From,
			PortalURL:    cfg.Notify.PortalURL,
			PollInterval: cfg.Notify.PollInterval,
			BatchSize:    cfg.Notify.BatchSize,
		}, logger)
		go dispatcher.Run(ctx)
	}

	server := api.NewServer(configManager, deps)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("Server stopped")
	return nil
}

// openSessions selects the session storage backend
func openSessions(cfg domain.SessionConfig, logger *logrus.Logger) (session.Storage, func(), error) {
	if strings.EqualFold(cfg.Backend, "redis") {
		store, err := session.NewRedisStorage(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info("Using Redis session storage")
		return store, func() { store.Close() }, nil
	}

	logger.Info("Using in-memory session storage")
	return session.NewMemoryStorage(cfg.MaxSessions, cfg.TTL), func() {}, nil
}
