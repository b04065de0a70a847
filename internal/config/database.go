package config

import (
	"database/sql"
	"fmt"
	"time"
)

// registryPragmas tune sqlite for a small registry that is read on every
// export and written by the API.
var registryPragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000", // milliseconds
	"PRAGMA cache_size = -8000",  // 8MB
	"PRAGMA temp_store = MEMORY",
	"PRAGMA optimize",
}

// OptimizeDatabaseConnection sizes the connection pool
func OptimizeDatabaseConnection(db *sql.DB) {
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(time.Minute)
}

// ApplyPragmaOptimizations applies the registry pragmas
func ApplyPragmaOptimizations(db *sql.DB) error {
	for _, pragma := range registryPragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}
