package testutil

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/jbweber/homelab/topo/internal/domain"
	"github.com/jbweber/homelab/topo/internal/migrations"
	_ "modernc.org/sqlite"
)

// CleanupTestDB removes the test database file. In-memory databases are left
// to disappear with their last connection.
func CleanupTestDB(dsn string) error {
	// Extract file path from DSN
	if len(dsn) < 5 || dsn[:5] != "file:" {
		return fmt.Errorf("invalid DSN format")
	}

	path := dsn[5:]
	query := ""
	if idx := strings.Index(path, "?"); idx != -1 {
		path, query = path[:idx], path[idx+1:]
	}
	if strings.Contains(query, "mode=memory") {
		return nil
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// SetupTestDB creates and returns a test database connection
func SetupTestDB(t *testing.T, testName string) (*sql.DB, func()) {
	t.Helper()
	dsn := NewTestDSN(testName)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}

	cleanup := func() {
		db.Close()
		CleanupTestDB(dsn)
	}

	return db, cleanup
}

// SetupTestDBWithMigrations creates a test database with the full registry schema
func SetupTestDBWithMigrations(t *testing.T, testName string) (*sql.DB, func()) {
	t.Helper()
	db, cleanup := SetupTestDB(t, testName)

	migrator := migrations.NewMigrator(db)
	for _, migration := range migrations.All() {
		migrator.AddMigration(migration)
	}
	if err := migrator.RunMigrations(); err != nil {
		cleanup()
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return db, cleanup
}

// Router returns a router fixture
func Router(id string) domain.Device {
	return domain.Device{ID: id, Type: domain.DeviceTypeRouter}
}

// VM returns a VM fixture with an optional static address
func VM(id, ip string) domain.Device {
	return domain.Device{ID: id, Type: domain.DeviceTypeVM, IP: ip}
}

// Switch returns a switch fixture
func Switch(id string) domain.Device {
	return domain.Device{ID: id, Type: domain.DeviceTypeSwitch}
}

// Link returns a connection fixture with a deterministic ID
func Link(from, to string) domain.Connection {
	return domain.Connection{ID: from + "-" + to, From: from, To: to}
}
