package migrations

import (
	"database/sql"
)

// All returns every migration the registry schema needs, in version order
func All() []Migration {
	migrations := GetInitialMigrations()
	migrations = append(migrations, GetPerformanceMigrations()...)
	return migrations
}

// GetInitialMigrations returns all initial migrations
func GetInitialMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_devices_table",
			Up: func(tx *sql.Tx) error {
				// seq keeps insertion order, which drives interface numbering
				_, err := tx.Exec(`
					CREATE TABLE devices (
						seq INTEGER PRIMARY KEY AUTOINCREMENT,
						id TEXT NOT NULL UNIQUE,
						type TEXT NOT NULL CHECK (type IN ('vm', 'router', 'switch')),
						cpu TEXT NOT NULL DEFAULT '',
						memory TEXT NOT NULL DEFAULT '',
						storage TEXT NOT NULL DEFAULT '',
						ip TEXT,
						created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
					)
				`)
				if err != nil {
					return err
				}

				// NULL ips are not considered equal by the unique index
				_, err = tx.Exec(`CREATE UNIQUE INDEX idx_devices_ip ON devices(ip)`)
				if err != nil {
					return err
				}

				_, err = tx.Exec(`
					CREATE TABLE device_interface_ips (
						device_id TEXT NOT NULL,
						iface_key TEXT NOT NULL,
						ip TEXT NOT NULL,
						PRIMARY KEY (device_id, iface_key),
						FOREIGN KEY (device_id) REFERENCES devices(id) ON DELETE CASCADE
					)
				`)
				return err
			},
			Down: func(tx *sql.Tx) error {
				_, err := tx.Exec(`DROP TABLE IF EXISTS device_interface_ips`)
				if err != nil {
					return err
				}

				_, err = tx.Exec(`DROP TABLE IF EXISTS devices`)
				return err
			},
		},
		{
			Version: 2,
			Name:    "create_connections_table",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
					CREATE TABLE connections (
						seq INTEGER PRIMARY KEY AUTOINCREMENT,
						id TEXT NOT NULL UNIQUE,
						from_device TEXT NOT NULL,
						to_device TEXT NOT NULL,
						from_router_ip TEXT NOT NULL DEFAULT '',
						to_router_ip TEXT NOT NULL DEFAULT '',
						bandwidth TEXT NOT NULL DEFAULT '',
						pair_key TEXT NOT NULL UNIQUE,
						created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
						FOREIGN KEY (from_device) REFERENCES devices(id) ON DELETE CASCADE,
						FOREIGN KEY (to_device) REFERENCES devices(id) ON DELETE CASCADE
					)
				`)
				return err
			},
			Down: func(tx *sql.Tx) error {
				_, err := tx.Exec(`DROP TABLE IF EXISTS connections`)
				return err
			},
		},
	}
}
