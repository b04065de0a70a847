package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jbweber/homelab/topo/internal/domain"
)

const (
	findDeviceByIDQuery = "SELECT id, type, cpu, memory, storage, COALESCE(ip, '') FROM devices WHERE id = ?"
	findDeviceByIPQuery = "SELECT id, type, cpu, memory, storage, COALESCE(ip, '') FROM devices WHERE ip = ?"
	findInterfaceIPs    = "SELECT iface_key, ip FROM device_interface_ips WHERE device_id = ?"
)

// DeviceRepository defines domain-specific operations for devices
type DeviceRepository interface {
	Repository[domain.Device, string]
	FindByIP(ctx context.Context, ip string) (domain.Device, error)
	SetInterfaceIP(ctx context.Context, deviceID, peerID, ip string) error
	RemoveInterfaceIP(ctx context.Context, deviceID, peerID string) error
	RemoveInterfaceIPsTo(ctx context.Context, peerID string) error
}

// deviceRepositoryImpl implements DeviceRepository
type deviceRepositoryImpl struct {
	db    *sql.DB
	stmts *PreparedStatementCache
}

// NewDeviceRepository creates a new device repository
func NewDeviceRepository(db *sql.DB) DeviceRepository {
	return &deviceRepositoryImpl{
		db:    db,
		stmts: NewPreparedStatementCache(db),
	}
}

// Save creates or updates a device together with its interface addresses
func (r *deviceRepositoryImpl) Save(ctx context.Context, device domain.Device) (domain.Device, error) {
	if device.ID == "" {
		return domain.Device{}, fmt.Errorf("device id is required: %w", ErrInvalidEntity)
	}
	if !device.Type.Valid() {
		return domain.Device{}, fmt.Errorf("device type %q: %w", device.Type, ErrInvalidEntity)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Device{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	exists, err := r.existsTx(ctx, tx, device.ID)
	if err != nil {
		return domain.Device{}, err
	}

	if exists {
		_, err = tx.ExecContext(ctx, `
			UPDATE devices
			SET type = ?, cpu = ?, memory = ?, storage = ?, ip = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?`,
			string(device.Type), device.CPU, device.Memory, device.Storage, nullString(device.IP), device.ID)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO devices (id, type, cpu, memory, storage, ip)
			VALUES (?, ?, ?, ?, ?, ?)`,
			device.ID, string(device.Type), device.CPU, device.Memory, device.Storage, nullString(device.IP))
	}
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Device{}, fmt.Errorf("device %s or ip %s: %w", device.ID, device.IP, ErrDuplicate)
		}
		return domain.Device{}, fmt.Errorf("failed to save device: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM device_interface_ips WHERE device_id = ?", device.ID); err != nil {
		return domain.Device{}, fmt.Errorf("failed to reset interface addresses: %w", err)
	}
	for key, ip := range device.InterfaceIPs {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO device_interface_ips (device_id, iface_key, ip) VALUES (?, ?, ?)",
			device.ID, key, ip); err != nil {
			return domain.Device{}, fmt.Errorf("failed to save interface address %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Device{}, fmt.Errorf("failed to commit device: %w", err)
	}
	return device, nil
}

func (r *deviceRepositoryImpl) existsTx(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM devices WHERE id = ?", id).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check device existence: %w", err)
	}
	return count > 0, nil
}

// FindByID retrieves a device by its ID
func (r *deviceRepositoryImpl) FindByID(ctx context.Context, id string) (domain.Device, error) {
	return r.findOne(ctx, findDeviceByIDQuery, id, "id")
}

// FindByIP retrieves a device by its static address
func (r *deviceRepositoryImpl) FindByIP(ctx context.Context, ip string) (domain.Device, error) {
	return r.findOne(ctx, findDeviceByIPQuery, ip, "ip")
}

func (r *deviceRepositoryImpl) findOne(ctx context.Context, query, arg, field string) (domain.Device, error) {
	stmt, err := r.stmts.Get(ctx, query)
	if err != nil {
		return domain.Device{}, fmt.Errorf("failed to prepare device query: %w", err)
	}

	device, err := scanDevice(stmt.QueryRowContext(ctx, arg))
	if err != nil {
		if isNotFoundError(err) {
			return domain.Device{}, fmt.Errorf("device with %s %s: %w", field, arg, ErrNotFound)
		}
		return domain.Device{}, fmt.Errorf("failed to find device: %w", err)
	}

	ips, err := r.interfaceIPs(ctx, device.ID)
	if err != nil {
		return domain.Device{}, err
	}
	device.InterfaceIPs = ips
	return device, nil
}

func (r *deviceRepositoryImpl) interfaceIPs(ctx context.Context, deviceID string) (map[string]string, error) {
	stmt, err := r.stmts.Get(ctx, findInterfaceIPs)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare interface query: %w", err)
	}

	rows, err := stmt.QueryContext(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load interface addresses: %w", err)
	}
	defer rows.Close()

	var ips map[string]string
	for rows.Next() {
		var key, ip string
		if err := rows.Scan(&key, &ip); err != nil {
			return nil, fmt.Errorf("failed to scan interface address: %w", err)
		}
		if ips == nil {
			ips = make(map[string]string)
		}
		ips[key] = ip
	}
	return ips, rows.Err()
}

// FindAll retrieves all devices in creation order
func (r *deviceRepositoryImpl) FindAll(ctx context.Context) ([]domain.Device, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, type, cpu, memory, storage, COALESCE(ip, '')
		FROM devices ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []domain.Device
	index := make(map[string]int)
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		index[device.ID] = len(devices)
		devices = append(devices, device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating devices: %w", err)
	}

	ipRows, err := r.db.QueryContext(ctx, "SELECT device_id, iface_key, ip FROM device_interface_ips ORDER BY device_id, iface_key")
	if err != nil {
		return nil, fmt.Errorf("failed to list interface addresses: %w", err)
	}
	defer ipRows.Close()

	for ipRows.Next() {
		var deviceID, key, ip string
		if err := ipRows.Scan(&deviceID, &key, &ip); err != nil {
			return nil, fmt.Errorf("failed to scan interface address: %w", err)
		}
		i, ok := index[deviceID]
		if !ok {
			continue
		}
		if devices[i].InterfaceIPs == nil {
			devices[i].InterfaceIPs = make(map[string]string)
		}
		devices[i].InterfaceIPs[key] = ip
	}
	if err := ipRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating interface addresses: %w", err)
	}

	return devices, nil
}

// DeleteByID removes a device, its interface addresses and its connections
func (r *deviceRepositoryImpl) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("device with id %s: %w", id, ErrNotFound)
	}
	return nil
}

// ExistsByID checks if a device exists by its ID
func (r *deviceRepositoryImpl) ExistsByID(ctx context.Context, id string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM devices WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check device existence: %w", err)
	}
	return count > 0, nil
}

// SetInterfaceIP records the address deviceID uses on the link facing peerID
func (r *deviceRepositoryImpl) SetInterfaceIP(ctx context.Context, deviceID, peerID, ip string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO device_interface_ips (device_id, iface_key, ip) VALUES (?, ?, ?)
		ON CONFLICT (device_id, iface_key) DO UPDATE SET ip = excluded.ip`,
		deviceID, domain.InterfaceKey(peerID), ip)
	if err != nil {
		return fmt.Errorf("failed to set interface address: %w", err)
	}
	return nil
}

// RemoveInterfaceIP drops the address deviceID uses on the link facing peerID
func (r *deviceRepositoryImpl) RemoveInterfaceIP(ctx context.Context, deviceID, peerID string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM device_interface_ips WHERE device_id = ? AND iface_key = ?",
		deviceID, domain.InterfaceKey(peerID))
	if err != nil {
		return fmt.Errorf("failed to remove interface address: %w", err)
	}
	return nil
}

// RemoveInterfaceIPsTo drops every interface address facing peerID
func (r *deviceRepositoryImpl) RemoveInterfaceIPsTo(ctx context.Context, peerID string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM device_interface_ips WHERE iface_key = ?", domain.InterfaceKey(peerID))
	if err != nil {
		return fmt.Errorf("failed to remove interface addresses: %w", err)
	}
	return nil
}

// Close releases cached prepared statements
func (r *deviceRepositoryImpl) Close() error {
	return r.stmts.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (domain.Device, error) {
	var d domain.Device
	var deviceType string
	if err := row.Scan(&d.ID, &deviceType, &d.CPU, &d.Memory, &d.Storage, &d.IP); err != nil {
		return domain.Device{}, err
	}
	d.Type = domain.DeviceType(deviceType)
	return d, nil
}
