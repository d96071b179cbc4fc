package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/neuroscan-portal/internal/archive"
	"github.com/neuroscan-portal/internal/database"
	"github.com/neuroscan-portal/internal/domain"
	"github.com/neuroscan-portal/internal/notify"
	"github.com/neuroscan-portal/internal/repository"
	"github.com/neuroscan-portal/pkg/recordstore"
)

// stores are the persistence backends selected by store.mode. Users and
// Reader are nil in remote mode, where Auth is the remote account API.
type stores struct {
	Auth    domain.Authenticator
	Records domain.RecordStore
	Reader  domain.RecordReader
	Users   domain.UserStore
	Health  func(ctx context.Context) error
	closers []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStores connects the configured record and user stores, running
// migrations first when enabled
func openStores(ctx context.Context, cm domain.ConfigManager, logger *logrus.Logger) (*stores, error) {
	cfg := cm.GetConfig()
	s := &stores{}

	switch strings.ToLower(cfg.Store.Mode) {
	case "postgres":
		if cfg.Database.AutoMigrate {
			if err := migrateUp(ctx, cm.GetDatabaseURL(), logger); err != nil {
				return nil, err
			}
		}
		db, err := database.NewConnection(ctx, database.ConfigFrom(cfg.Database), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.closers = append(s.closers, db.Close)

		results := repository.NewResultRepository(db.Pool, logger)
		s.Records = results
		s.Reader = results
		s.Users = repository.NewUserRepository(db.Pool, logger)
		s.Health = db.Health

	case "sqlite":
		lite, err := repository.NewSQLiteStore(cfg.Store.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		s.closers = append(s.closers, func() { lite.Close() })
		s.Records = lite
		s.Reader = lite
		s.Users = lite

	case "remote":
		client := recordstore.NewClient(cfg.Store.RemoteURL, cfg.Store.Timeout, logger)
		s.Records = client
		s.Auth = client

	default:
		return nil, fmt.Errorf("invalid store mode: %s", cfg.Store.Mode)
	}

	return s, nil
}

func migrateUp(ctx context.Context, databaseURL string, logger *logrus.Logger) error {
	runner, err := database.NewMigrationRunner(databaseURL, logger)
	if err != nil {
		return err
	}
	defer runner.Close()
	return runner.Up(ctx)
}

// openArchive returns nil when the scan archive is disabled
func openArchive(ctx context.Context, cfg domain.ArchiveConfig, logger *logrus.Logger) (domain.ScanArchive, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	a, err := archive.NewS3Archive(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.WithField("bucket", cfg.Bucket).Info("Scan archive enabled")
	return a, nil
}

// openOutbox returns nil when notifications are disabled
func openOutbox(ctx context.Context, cm domain.ConfigManager, logger *logrus.Logger) (*notify.Outbox, error) {
	cfg := cm.GetConfig().Notify
	if !cfg.Enabled {
		return nil, nil
	}
	url := cfg.DatabaseURL
	if url == "" {
		url = cm.GetDatabaseURL()
	}
	return notify.NewOutboxFromURL(ctx, url, logger)
}
