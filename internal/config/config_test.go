package config

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/homelab/topo/internal/topology"
)

func TestNewConfig(t *testing.T) {
	config := NewConfig()
	require.NotNil(t, config)

	assert.Equal(t, "~/topo/data/topo.db", config.DBPath)
	assert.Equal(t, "8080", config.Port)
	assert.Equal(t, "info", config.Log.Level)
	assert.Equal(t, "console", config.Log.Format)
	assert.Equal(t, "default", config.Export.Namespace)
	assert.Equal(t, string(topology.StrategyPerConnection), config.Export.Strategy)
	assert.NoError(t, config.Validate())
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "topo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadFromPath(t *testing.T) {
	path := writeConfig(t, `
port: "9090"
log:
  format: json
export:
  namespace: lab
  storage_class: local-path
  image_url: http://images.lab/debian.qcow2
  strategy: shared
  strict_subnets: true
  user_data_limit: 4096
`)

	config, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", config.Port)
	assert.Equal(t, "~/topo/data/topo.db", config.DBPath)
	assert.Equal(t, "info", config.Log.Level)
	assert.Equal(t, "json", config.Log.Format)
	assert.Equal(t, "lab", config.Export.Namespace)

	opts, err := config.ExportOptions()
	require.NoError(t, err)
	assert.Equal(t, topology.StrategyShared, opts.Strategy)
	assert.True(t, opts.StrictSubnets)
	assert.Equal(t, "local-path", opts.StorageClass)
	assert.Equal(t, "http://images.lab/debian.qcow2", opts.ImageURL)
	assert.Equal(t, 4096, opts.UserDataLimit)
}

func TestLoadFromPath_Errors(t *testing.T) {
	_, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")

	_, err = LoadFromPath(writeConfig(t, "port: [unterminated"))
	assert.ErrorContains(t, err, "parse config")

	_, err = LoadFromPath(writeConfig(t, "export:\n  strategy: vlan\n"))
	assert.ErrorIs(t, err, topology.ErrUnknownStrategy)

	_, err = LoadFromPath(writeConfig(t, "export:\n  user_data_limit: -1\n"))
	assert.ErrorContains(t, err, "user_data_limit")

	_, err = LoadFromPath(writeConfig(t, "log:\n  format: xml\n"))
	assert.ErrorContains(t, err, "log format")
}

func TestConfig_expandPath(t *testing.T) {
	config := NewConfig()

	expanded := config.expandPath("~/test/path")
	assert.False(t, strings.HasPrefix(expanded, "~/"))
	assert.True(t, strings.HasSuffix(expanded, filepath.Join("test", "path")))

	assert.Equal(t, "/absolute/path", config.expandPath("/absolute/path"))
	assert.Equal(t, "relative/path", config.expandPath("relative/path"))
}

func TestConfig_InitializeDatabase_Success(t *testing.T) {
	config := NewConfig()
	config.DBPath = filepath.Join(t.TempDir(), "nested", "path", "test.db")

	db, err := config.InitializeDatabase()
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Ping())

	_, err = os.Stat(filepath.Dir(config.DBPath))
	assert.NoError(t, err)

	var fkEnabled bool
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled))
	assert.True(t, fkEnabled)

	var tableName string
	err = db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='devices'").Scan(&tableName)
	assert.NoError(t, err)
}

func TestConfig_InitializeDatabase_Reopen(t *testing.T) {
	config := NewConfig()
	config.DBPath = filepath.Join(t.TempDir(), "test.db")

	db, err := config.InitializeDatabase()
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO devices (id, type) VALUES ('R1', 'router')")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = config.InitializeDatabase()
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM devices").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestConfig_InitializeDatabase_InvalidPath(t *testing.T) {
	// A regular file where a directory is expected cannot be created as one
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	config := NewConfig()
	config.DBPath = filepath.Join(blocker, "sub", "topo.db")

	db, err := config.InitializeDatabase()
	if db != nil {
		db.Close()
	}
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create database directory")
}

func TestConfig_runMigrations_DatabaseError(t *testing.T) {
	config := NewConfig()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	db.Close()

	assert.Error(t, config.runMigrations(db))
}
