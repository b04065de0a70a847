package migrations

import (
	"database/sql"
)

// GetPerformanceMigrations returns performance optimization migrations
func GetPerformanceMigrations() []Migration {
	return []Migration{
		{
			Version: 10,
			Name:    "add_performance_indices",
			Up: func(tx *sql.Tx) error {
				indices := []string{
					"CREATE INDEX IF NOT EXISTS idx_connections_from ON connections(from_device)",
					"CREATE INDEX IF NOT EXISTS idx_connections_to ON connections(to_device)",
					"CREATE INDEX IF NOT EXISTS idx_device_interface_ips_device ON device_interface_ips(device_id)",
				}

				for _, indexSQL := range indices {
					if _, err := tx.Exec(indexSQL); err != nil {
						return err
					}
				}

				return nil
			},
			Down: func(tx *sql.Tx) error {
				indices := []string{
					"DROP INDEX IF EXISTS idx_connections_from",
					"DROP INDEX IF EXISTS idx_connections_to",
					"DROP INDEX IF EXISTS idx_device_interface_ips_device",
				}

				for _, dropSQL := range indices {
					if _, err := tx.Exec(dropSQL); err != nil {
						return err
					}
				}

				return nil
			},
		},
	}
}
