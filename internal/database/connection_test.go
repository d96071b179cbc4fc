package database_test

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/neuroscan-portal/internal/database"
	"github.com/neuroscan-portal/internal/database/dbtest"
	"github.com/neuroscan-portal/internal/domain"
)

func TestDatabaseConnection(t *testing.T) {
	pg := dbtest.StartPostgres(t)
	ctx := context.Background()

	if err := pg.DB.Health(ctx); err != nil {
		t.Fatalf("Database health check failed: %v", err)
	}

	stats := pg.DB.Stats()
	if stats.TotalConns() == 0 {
		t.Error("Expected at least one connection in pool")
	}

	t.Logf("Connection pool stats: Total=%d, Idle=%d, Used=%d",
		stats.TotalConns(), stats.IdleConns(), stats.AcquiredConns())
}

func TestMigrations_CreateSchema(t *testing.T) {
	pg := dbtest.StartPostgres(t)
	ctx := context.Background()

	for _, table := range []string{"users", "results", "notification_outbox"} {
		var exists bool
		err := pg.DB.Pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table,
		).Scan(&exists)
		if err != nil {
			t.Fatalf("Failed to query schema for %s: %v", table, err)
		}
		if !exists {
			t.Errorf("Expected table %s to exist after migrations", table)
		}
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	runner, err := database.NewMigrationRunner(pg.URL, logger)
	if err != nil {
		t.Fatalf("Failed to create migration runner: %v", err)
	}
	defer runner.Close()

	version, dirty, err := runner.Version()
	if err != nil {
		t.Fatalf("Failed to read migration version: %v", err)
	}
	if version != 3 || dirty {
		t.Errorf("Expected clean version 3, got %d (dirty=%v)", version, dirty)
	}

	// Re-running is a no-op
	if err := runner.Up(ctx); err != nil {
		t.Errorf("Expected repeated Up to succeed, got %v", err)
	}
}

func TestConfigFrom(t *testing.T) {
	cfg := database.ConfigFrom(domain.DatabaseConfig{
		Host:         "db",
		Port:         5433,
		Database:     "neuroscan",
		Username:     "svc",
		MaxOpenConns: 20,
		MaxIdleConns: 4,
		SSLMode:      "require",
	})

	if cfg.MaxConns != 20 || cfg.MinConns != 4 {
		t.Errorf("Unexpected pool sizes: max=%d min=%d", cfg.MaxConns, cfg.MinConns)
	}
	if cfg.Host != "db" || cfg.Port != 5433 || cfg.SSLMode != "require" {
		t.Errorf("Unexpected connection fields: %+v", cfg)
	}
}
