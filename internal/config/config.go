package config

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"github.com/jbweber/homelab/topo/internal/export"
	"github.com/jbweber/homelab/topo/internal/migrations"
	"github.com/jbweber/homelab/topo/internal/topology"
)

// Config holds all configuration for the topo service
type Config struct {
	DBPath string       `yaml:"db_path"`
	Port   string       `yaml:"port"`
	Log    LogConfig    `yaml:"log"`
	Export ExportConfig `yaml:"export"`
}

// LogConfig selects the structured logger level and output format
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ExportConfig holds the defaults applied to every manifest export
type ExportConfig struct {
	Namespace     string `yaml:"namespace"`
	StorageClass  string `yaml:"storage_class"`
	ImageURL      string `yaml:"image_url"`
	Password      string `yaml:"password"`
	Strategy      string `yaml:"strategy"`
	StrictSubnets bool   `yaml:"strict_subnets"`
	UserDataLimit int    `yaml:"user_data_limit"`
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// LoadFromPath reads a YAML config file; missing keys keep their defaults
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := NewConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "~/topo/data/topo.db"
	}
	if c.Port == "" {
		c.Port = "8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Export.Namespace == "" {
		c.Export.Namespace = "default"
	}
	if c.Export.Strategy == "" {
		c.Export.Strategy = string(topology.StrategyPerConnection)
	}
}

// Validate checks values that would otherwise fail at export time
func (c *Config) Validate() error {
	if _, err := topology.ParseStrategy(c.Export.Strategy); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Export.UserDataLimit < 0 {
		return fmt.Errorf("invalid config: user_data_limit must not be negative")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid config: unknown log format %q", c.Log.Format)
	}
	return nil
}

// ExportOptions converts the export section into pipeline options
func (c *Config) ExportOptions() (export.Options, error) {
	strategy, err := topology.ParseStrategy(c.Export.Strategy)
	if err != nil {
		return export.Options{}, err
	}
	return export.Options{
		Namespace:     c.Export.Namespace,
		StorageClass:  c.Export.StorageClass,
		ImageURL:      c.Export.ImageURL,
		Password:      c.Export.Password,
		Strategy:      strategy,
		StrictSubnets: c.Export.StrictSubnets,
		UserDataLimit: c.Export.UserDataLimit,
	}, nil
}

// InitializeDatabase creates and configures the database connection
func (c *Config) InitializeDatabase() (*sql.DB, error) {
	dbPath := c.expandPath(c.DBPath)

	// Ensure database directory exists
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// foreign_keys is a per-connection setting, so it rides on the DSN
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	OptimizeDatabaseConnection(db)

	if err := ApplyPragmaOptimizations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply performance optimizations: %w", err)
	}

	if err := c.runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// expandPath expands ~ to home directory
func (c *Config) expandPath(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Return original path if we can't get home dir
		return path
	}

	return filepath.Join(homeDir, path[2:])
}

// runMigrations runs all database migrations
func (c *Config) runMigrations(db *sql.DB) error {
	migrator := migrations.NewMigrator(db)
	for _, migration := range migrations.All() {
		migrator.AddMigration(migration)
	}
	return migrator.RunMigrations()
}
