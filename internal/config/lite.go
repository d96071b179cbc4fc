// Package config loads service configuration with viper.
// This file contains the lite profile for standalone operation.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// LiteDBName is the SQLite file created inside the lite data directory
const LiteDBName = "neuroscan.db"

// DefaultLiteDataDir returns the data directory used when none is given:
// $NEUROSCAN_DATA_DIR, else ~/.neuroscan
func DefaultLiteDataDir() string {
	if v := os.Getenv("NEUROSCAN_DATA_DIR"); v != "" {
		return v
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".neuroscan")
}

// NewLiteManager loads configuration like NewManager, then forces the lite
// profile: records and users in a SQLite file under dataDir, sessions in
// process memory, and no notification outbox. The inference service and the
// scan archive stay configurable.
func NewLiteManager(configFile, dataDir string) (*Manager, error) {
	if dataDir == "" {
		dataDir = DefaultLiteDataDir()
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	m := &Manager{
		configFile: configFile,
		overrides:  liteOverrides(dataDir),
	}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

func liteOverrides(dataDir string) func(v *viper.Viper) {
	return func(v *viper.Viper) {
		v.Set("store.mode", "sqlite")
		v.Set("store.sqlite_path", filepath.Join(dataDir, LiteDBName))
		v.Set("session.backend", "memory")
		v.Set("notify.enabled", false)
		v.Set("database.auto_migrate", false)
	}
}

// IsLite reports whether the manager was built by NewLiteManager
func (m *Manager) IsLite() bool {
	return m.overrides != nil
}
