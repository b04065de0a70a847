// Package loader reads a topology design file and replays it through a
// throwaway registry, so offline compiles are held to the same rules as
// the HTTP API.
package loader

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"github.com/jbweber/homelab/topo/internal/domain"
	"github.com/jbweber/homelab/topo/internal/migrations"
	"github.com/jbweber/homelab/topo/internal/registry"
)

// Design is the on-disk form of a topology.
type Design struct {
	Devices     []DeviceSpec     `yaml:"devices"`
	Connections []ConnectionSpec `yaml:"connections,omitempty"`
}

type DeviceSpec struct {
	ID           string            `yaml:"id"`
	Type         string            `yaml:"type"`
	CPU          string            `yaml:"cpu,omitempty"`
	Memory       string            `yaml:"memory,omitempty"`
	Storage      string            `yaml:"storage,omitempty"`
	IP           string            `yaml:"ip,omitempty"`
	InterfaceIPs map[string]string `yaml:"interface_ips,omitempty"`
}

type ConnectionSpec struct {
	ID           string `yaml:"id,omitempty"`
	From         string `yaml:"from"`
	To           string `yaml:"to"`
	FromRouterIP string `yaml:"from_router_ip,omitempty"`
	ToRouterIP   string `yaml:"to_router_ip,omitempty"`
	Bandwidth    string `yaml:"bandwidth,omitempty"`
}

// Parse decodes a design. Unknown keys are rejected so typos surface early.
func Parse(r io.Reader) (*Design, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var design Design
	if err := decoder.Decode(&design); err != nil {
		if errors.Is(err, io.EOF) {
			return &Design{}, nil
		}
		return nil, fmt.Errorf("parse design: %w", err)
	}
	return &design, nil
}

// LoadFile reads and parses the design at path.
func LoadFile(path string) (*Design, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read design: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// FromSnapshot converts registry contents back into a design.
func FromSnapshot(devices []domain.Device, conns []domain.Connection) *Design {
	design := &Design{}
	for _, d := range devices {
		design.Devices = append(design.Devices, DeviceSpec{
			ID:           d.ID,
			Type:         string(d.Type),
			CPU:          d.CPU,
			Memory:       d.Memory,
			Storage:      d.Storage,
			IP:           d.IP,
			InterfaceIPs: d.InterfaceIPs,
		})
	}
	for _, c := range conns {
		design.Connections = append(design.Connections, ConnectionSpec{
			ID:           c.ID,
			From:         c.From,
			To:           c.To,
			FromRouterIP: c.FromRouterIP,
			ToRouterIP:   c.ToRouterIP,
			Bandwidth:    c.Bandwidth,
		})
	}
	return design
}

// Encode writes the design as YAML.
func (d *Design) Encode(w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(d); err != nil {
		return fmt.Errorf("encode design: %w", err)
	}
	return encoder.Close()
}

// Apply creates every device and then every connection in file order.
func (d *Design) Apply(ctx context.Context, reg *registry.Registry) error {
	for i, spec := range d.Devices {
		t, err := domain.ParseDeviceType(spec.Type)
		if err != nil {
			return fmt.Errorf("devices[%d]: %w", i, err)
		}
		_, err = reg.CreateDevice(ctx, domain.Device{
			ID:           spec.ID,
			Type:         t,
			CPU:          spec.CPU,
			Memory:       spec.Memory,
			Storage:      spec.Storage,
			IP:           spec.IP,
			InterfaceIPs: spec.InterfaceIPs,
		})
		if err != nil {
			return fmt.Errorf("devices[%d]: %w", i, err)
		}
	}

	for i, spec := range d.Connections {
		_, err := reg.CreateConnection(ctx, domain.Connection{
			ID:           spec.ID,
			From:         spec.From,
			To:           spec.To,
			FromRouterIP: spec.FromRouterIP,
			ToRouterIP:   spec.ToRouterIP,
			Bandwidth:    spec.Bandwidth,
		})
		if err != nil {
			return fmt.Errorf("connections[%d]: %w", i, err)
		}
	}
	return nil
}

// Snapshot validates the design through an in-memory registry and returns
// the devices and connections in insertion order.
func (d *Design) Snapshot(ctx context.Context) ([]domain.Device, []domain.Connection, error) {
	db, err := openScratch()
	if err != nil {
		return nil, nil, err
	}
	defer db.Close()

	reg := registry.NewFromDB(db, nil)
	if err := d.Apply(ctx, reg); err != nil {
		return nil, nil, err
	}
	return reg.Snapshot(ctx)
}

// openScratch opens a private in-memory database with the registry schema.
func openScratch() (*sql.DB, error) {
	dsn := fmt.Sprintf("file:design-%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open scratch database: %w", err)
	}

	migrator := migrations.NewMigrator(db)
	for _, migration := range migrations.All() {
		migrator.AddMigration(migration)
	}
	if err := migrator.RunMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}
