// Package registry owns the designed devices and connections and enforces
// the invariants the topology compiler relies on.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jbweber/homelab/topo/internal/domain"
	"github.com/jbweber/homelab/topo/internal/logging"
	"github.com/jbweber/homelab/topo/internal/observability"
	"github.com/jbweber/homelab/topo/internal/repository"
)

// Registry serializes mutations against snapshots so an export never sees a
// half-applied change.
type Registry struct {
	mu      sync.RWMutex
	devices repository.DeviceRepository
	conns   repository.ConnectionRepository
	metrics *observability.Collector
}

// New creates a registry over the given repositories. metrics may be nil.
func New(devices repository.DeviceRepository, conns repository.ConnectionRepository, metrics *observability.Collector) *Registry {
	return &Registry{
		devices: devices,
		conns:   conns,
		metrics: metrics,
	}
}

// NewFromDB creates a registry backed by sqlite repositories on db.
func NewFromDB(db *sql.DB, metrics *observability.Collector) *Registry {
	return New(repository.NewDeviceRepository(db), repository.NewConnectionRepository(db), metrics)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), repository.ErrInvalidEntity)
}

func validateDevice(d domain.Device) error {
	if d.ID == "" {
		return invalid("device id is required")
	}
	if !d.Type.Valid() {
		return invalid("device %s has unknown type %q", d.ID, d.Type)
	}
	if d.IP != "" && !domain.IsIPv4(d.IP) {
		return invalid("device %s has invalid ip %q", d.ID, d.IP)
	}
	if len(d.InterfaceIPs) > 0 && !d.IsRouter() {
		return invalid("device %s: interface addresses are only supported on routers", d.ID)
	}
	for key, ip := range d.InterfaceIPs {
		if !strings.HasPrefix(key, domain.InterfaceKey("")) || len(key) == len(domain.InterfaceKey("")) {
			return invalid("device %s has invalid interface key %q", d.ID, key)
		}
		if !domain.IsIPv4(ip) {
			return invalid("device %s has invalid interface ip %q", d.ID, ip)
		}
	}
	return nil
}

func normalizeDevice(d domain.Device) domain.Device {
	d.ID = strings.TrimSpace(d.ID)
	d.IP = strings.TrimSpace(d.IP)
	return d
}

// CreateDevice adds a device. Duplicate IDs and static addresses are
// rejected with repository.ErrDuplicate.
func (r *Registry) CreateDevice(ctx context.Context, d domain.Device) (domain.Device, error) {
	d = normalizeDevice(d)
	if err := validateDevice(d); err != nil {
		return domain.Device{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	exists, err := r.devices.ExistsByID(ctx, d.ID)
	if err != nil {
		return domain.Device{}, err
	}
	if exists {
		return domain.Device{}, fmt.Errorf("device %s: %w", d.ID, repository.ErrDuplicate)
	}
	if err := r.checkIPFree(ctx, d); err != nil {
		return domain.Device{}, err
	}

	saved, err := r.devices.Save(ctx, d)
	if err != nil {
		return domain.Device{}, err
	}
	logging.Debug("device created", "id", saved.ID, "type", string(saved.Type))
	r.refreshMetrics(ctx)
	return saved, nil
}

// UpdateDevice replaces the sizing and addressing of an existing device. The
// type cannot change. A nil InterfaceIPs keeps the stored addresses.
func (r *Registry) UpdateDevice(ctx context.Context, d domain.Device) (domain.Device, error) {
	d = normalizeDevice(d)

	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.devices.FindByID(ctx, d.ID)
	if err != nil {
		return domain.Device{}, fmt.Errorf("device %s: %w", d.ID, err)
	}
	if d.Type == "" {
		d.Type = current.Type
	}
	if d.Type != current.Type {
		return domain.Device{}, fmt.Errorf("device %s type cannot change from %s to %s: %w",
			d.ID, current.Type, d.Type, repository.ErrOperationNotSupported)
	}
	if d.InterfaceIPs == nil {
		d.InterfaceIPs = current.InterfaceIPs
	}
	if err := validateDevice(d); err != nil {
		return domain.Device{}, err
	}
	if err := r.checkIPFree(ctx, d); err != nil {
		return domain.Device{}, err
	}

	saved, err := r.devices.Save(ctx, d)
	if err != nil {
		return domain.Device{}, err
	}
	logging.Debug("device updated", "id", saved.ID)
	return saved, nil
}

func (r *Registry) checkIPFree(ctx context.Context, d domain.Device) error {
	if d.IP == "" {
		return nil
	}
	owner, err := r.devices.FindByIP(ctx, d.IP)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil
	case err != nil:
		return err
	case owner.ID != d.ID:
		return fmt.Errorf("ip %s already used by %s: %w", d.IP, owner.ID, repository.ErrDuplicate)
	default:
		return nil
	}
}

// GetDevice returns a device or repository.ErrNotFound.
func (r *Registry) GetDevice(ctx context.Context, id string) (domain.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices.FindByID(ctx, id)
}

// ListDevices returns every device in creation order.
func (r *Registry) ListDevices(ctx context.Context) ([]domain.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices.FindAll(ctx)
}

// DeleteDevice removes a device, every connection touching it and the
// interface addresses peers kept for it.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	exists, err := r.devices.ExistsByID(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("device %s: %w", id, repository.ErrNotFound)
	}

	removed, err := r.conns.DeleteByDevice(ctx, id)
	if err != nil {
		return err
	}
	if err := r.devices.RemoveInterfaceIPsTo(ctx, id); err != nil {
		return err
	}
	if err := r.devices.DeleteByID(ctx, id); err != nil {
		return err
	}
	logging.Debug("device deleted", "id", id, "connections", removed)
	r.refreshMetrics(ctx)
	return nil
}

// CreateConnection links two existing devices. Self loops, vm to vm links
// and router addresses on non-router endpoints are invalid; a second link
// between the same pair, in either direction, is a duplicate.
func (r *Registry) CreateConnection(ctx context.Context, c domain.Connection) (domain.Connection, error) {
	c.From = strings.TrimSpace(c.From)
	c.To = strings.TrimSpace(c.To)
	c.FromRouterIP = strings.TrimSpace(c.FromRouterIP)
	c.ToRouterIP = strings.TrimSpace(c.ToRouterIP)
	c.Bandwidth = strings.TrimSpace(c.Bandwidth)

	if c.From == "" || c.To == "" {
		return domain.Connection{}, invalid("connection endpoints are required")
	}
	if c.From == c.To {
		return domain.Connection{}, invalid("device %s cannot connect to itself", c.From)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	from, err := r.devices.FindByID(ctx, c.From)
	if err != nil {
		return domain.Connection{}, fmt.Errorf("device %s: %w", c.From, err)
	}
	to, err := r.devices.FindByID(ctx, c.To)
	if err != nil {
		return domain.Connection{}, fmt.Errorf("device %s: %w", c.To, err)
	}

	if err := validateLink(from, to); err != nil {
		return domain.Connection{}, err
	}
	if err := validateRouterIP(from, c.FromRouterIP); err != nil {
		return domain.Connection{}, err
	}
	if err := validateRouterIP(to, c.ToRouterIP); err != nil {
		return domain.Connection{}, err
	}

	if _, err := r.conns.FindByPair(ctx, c.From, c.To); err == nil {
		return domain.Connection{}, fmt.Errorf("%s and %s are already connected: %w", c.From, c.To, repository.ErrDuplicate)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return domain.Connection{}, err
	}
	if c.ID != "" {
		exists, err := r.conns.ExistsByID(ctx, c.ID)
		if err != nil {
			return domain.Connection{}, err
		}
		if exists {
			return domain.Connection{}, fmt.Errorf("connection %s: %w", c.ID, repository.ErrDuplicate)
		}
	}

	saved, err := r.conns.Save(ctx, c)
	if err != nil {
		return domain.Connection{}, err
	}

	if saved.FromRouterIP != "" {
		if err := r.devices.SetInterfaceIP(ctx, saved.From, saved.To, saved.FromRouterIP); err != nil {
			return domain.Connection{}, err
		}
	}
	if saved.ToRouterIP != "" {
		if err := r.devices.SetInterfaceIP(ctx, saved.To, saved.From, saved.ToRouterIP); err != nil {
			return domain.Connection{}, err
		}
	}

	logging.Debug("connection created", "id", saved.ID, "from", saved.From, "to", saved.To)
	r.refreshMetrics(ctx)
	return saved, nil
}

func validateLink(from, to domain.Device) error {
	switch from.Type {
	case domain.DeviceTypeVM:
		if to.Type == domain.DeviceTypeVM {
			return invalid("vm %s cannot connect directly to vm %s", from.ID, to.ID)
		}
		return nil
	case domain.DeviceTypeRouter, domain.DeviceTypeSwitch:
		return nil
	default:
		return invalid("device %s has unknown type %q", from.ID, from.Type)
	}
}

func validateRouterIP(d domain.Device, ip string) error {
	if ip == "" {
		return nil
	}
	if !d.IsRouter() {
		return invalid("router ip given for non-router %s", d.ID)
	}
	if !domain.IsIPv4(ip) {
		return invalid("router ip %q for %s is not a valid IPv4 address", ip, d.ID)
	}
	return nil
}

// GetConnection returns a connection or repository.ErrNotFound.
func (r *Registry) GetConnection(ctx context.Context, id string) (domain.Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns.FindByID(ctx, id)
}

// ListConnections returns every connection in creation order.
func (r *Registry) ListConnections(ctx context.Context) ([]domain.Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns.FindAll(ctx)
}

// DeleteConnection removes a connection and the interface addresses its
// endpoints kept for each other.
func (r *Registry) DeleteConnection(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := r.conns.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("connection %s: %w", id, err)
	}
	if err := r.conns.DeleteByID(ctx, id); err != nil {
		return err
	}
	if err := r.devices.RemoveInterfaceIP(ctx, conn.From, conn.To); err != nil {
		return err
	}
	if err := r.devices.RemoveInterfaceIP(ctx, conn.To, conn.From); err != nil {
		return err
	}

	logging.Debug("connection deleted", "id", id)
	r.refreshMetrics(ctx)
	return nil
}

// Snapshot returns a consistent copy of all devices and connections.
func (r *Registry) Snapshot(ctx context.Context) ([]domain.Device, []domain.Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices, err := r.devices.FindAll(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list devices: %w", err)
	}
	conns, err := r.conns.FindAll(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list connections: %w", err)
	}
	return devices, conns, nil
}

// refreshMetrics must be called with the write lock held.
func (r *Registry) refreshMetrics(ctx context.Context) {
	if r.metrics == nil {
		return
	}
	devices, err := r.devices.FindAll(ctx)
	if err != nil {
		logging.Warn("failed to count devices", "error", err)
		return
	}
	conns, err := r.conns.FindAll(ctx)
	if err != nil {
		logging.Warn("failed to count connections", "error", err)
		return
	}
	r.metrics.SetRegistryCounts(len(devices), len(conns))
}
