package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/homelab/topo/internal/domain"
	"github.com/jbweber/homelab/topo/internal/observability"
	"github.com/jbweber/homelab/topo/internal/repository"
	"github.com/jbweber/homelab/topo/internal/testutil"
)

func setupRegistry(t *testing.T) (*Registry, func()) {
	t.Helper()
	db, cleanup := testutil.SetupTestDBWithMigrations(t, t.Name())
	return NewFromDB(db, nil), cleanup
}

func mustCreate(t *testing.T, r *Registry, devices ...domain.Device) {
	t.Helper()
	for _, d := range devices {
		_, err := r.CreateDevice(context.Background(), d)
		require.NoError(t, err)
	}
}

func TestCreateDevice(t *testing.T) {
	r, cleanup := setupRegistry(t)
	defer cleanup()
	ctx := context.Background()

	saved, err := r.CreateDevice(ctx, domain.Device{ID: " V1 ", Type: domain.DeviceTypeVM, IP: "10.5.5.50", Memory: "2GB"})
	require.NoError(t, err)
	assert.Equal(t, "V1", saved.ID)

	got, err := r.GetDevice(ctx, "V1")
	require.NoError(t, err)
	assert.Equal(t, "2GB", got.Memory)

	_, err = r.CreateDevice(ctx, testutil.VM("V1", ""))
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	_, err = r.CreateDevice(ctx, testutil.VM("V2", "10.5.5.50"))
	assert.ErrorIs(t, err, repository.ErrDuplicate)
}

func TestCreateDevice_Validation(t *testing.T) {
	r, cleanup := setupRegistry(t)
	defer cleanup()
	ctx := context.Background()

	tests := []struct {
		name   string
		device domain.Device
	}{
		{"missing id", domain.Device{Type: domain.DeviceTypeVM}},
		{"unknown type", domain.Device{ID: "F1", Type: "firewall"}},
		{"bad ip", testutil.VM("V1", "10.5.5")},
		{"ipv6", testutil.VM("V1", "::1")},
		{"interface ips on vm", domain.Device{ID: "V1", Type: domain.DeviceTypeVM, InterfaceIPs: map[string]string{"to_R1": "10.0.0.10"}}},
		{"bad interface ip", domain.Device{ID: "R1", Type: domain.DeviceTypeRouter, InterfaceIPs: map[string]string{"to_V1": "nope"}}},
		{"bad interface key", domain.Device{ID: "R1", Type: domain.DeviceTypeRouter, InterfaceIPs: map[string]string{"eth1": "10.0.0.1"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.CreateDevice(ctx, tt.device)
			assert.ErrorIs(t, err, repository.ErrInvalidEntity)
		})
	}

	devices, err := r.ListDevices(ctx)
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestUpdateDevice(t *testing.T) {
	r, cleanup := setupRegistry(t)
	defer cleanup()
	ctx := context.Background()

	router := testutil.Router("R1")
	router.InterfaceIPs = map[string]string{"to_V1": "10.0.0.1"}
	mustCreate(t, r, router, testutil.VM("V1", "10.0.0.10"), testutil.VM("V2", ""))

	updated, err := r.UpdateDevice(ctx, domain.Device{ID: "R1", CPU: "4"})
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceTypeRouter, updated.Type)

	got, err := r.GetDevice(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, "4", got.CPU)
	assert.Equal(t, "10.0.0.1", got.InterfaceIP("V1"))

	_, err = r.UpdateDevice(ctx, domain.Device{ID: "R1", Type: domain.DeviceTypeVM})
	assert.ErrorIs(t, err, repository.ErrOperationNotSupported)

	_, err = r.UpdateDevice(ctx, testutil.VM("V2", "10.0.0.10"))
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	// Keeping its own address is not a conflict
	_, err = r.UpdateDevice(ctx, domain.Device{ID: "V1", Type: domain.DeviceTypeVM, IP: "10.0.0.10", Storage: "40GB"})
	require.NoError(t, err)

	_, err = r.UpdateDevice(ctx, testutil.VM("missing", ""))
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCreateConnection(t *testing.T) {
	r, cleanup := setupRegistry(t)
	defer cleanup()
	ctx := context.Background()

	mustCreate(t, r, testutil.Router("R1"), testutil.VM("V1", ""), testutil.VM("V2", ""), testutil.Switch("S1"))

	conn, err := r.CreateConnection(ctx, domain.Connection{From: "R1", To: "V1", FromRouterIP: "10.1.1.1", Bandwidth: "1Gbps"})
	require.NoError(t, err)
	assert.NotEmpty(t, conn.ID)

	// Router address is recorded on the router lazily
	router, err := r.GetDevice(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, "10.1.1.1", router.InterfaceIP("V1"))

	_, err = r.CreateConnection(ctx, domain.Connection{From: "V1", To: "R1"})
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	_, err = r.CreateConnection(ctx, domain.Connection{From: "V1", To: "V2"})
	assert.ErrorIs(t, err, repository.ErrInvalidEntity)

	_, err = r.CreateConnection(ctx, domain.Connection{From: "V1", To: "V1"})
	assert.ErrorIs(t, err, repository.ErrInvalidEntity)

	_, err = r.CreateConnection(ctx, domain.Connection{From: "V1", To: "ghost"})
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = r.CreateConnection(ctx, domain.Connection{From: "S1", To: "V2", FromRouterIP: "10.2.2.1"})
	assert.ErrorIs(t, err, repository.ErrInvalidEntity)

	_, err = r.CreateConnection(ctx, domain.Connection{From: "R1", To: "S1", FromRouterIP: "10.2.2"})
	assert.ErrorIs(t, err, repository.ErrInvalidEntity)

	_, err = r.CreateConnection(ctx, domain.Connection{From: "V2", To: "S1"})
	require.NoError(t, err)

	conns, err := r.ListConnections(ctx)
	require.NoError(t, err)
	require.Len(t, conns, 2)
	assert.Equal(t, "R1", conns[0].From)
	assert.Equal(t, "V2", conns[1].From)
}

func TestCreateConnection_CallerSuppliedID(t *testing.T) {
	r, cleanup := setupRegistry(t)
	defer cleanup()
	ctx := context.Background()

	mustCreate(t, r, testutil.Router("R1"), testutil.VM("V1", ""), testutil.VM("V2", ""))

	_, err := r.CreateConnection(ctx, testutil.Link("R1", "V1"))
	require.NoError(t, err)

	dup := testutil.Link("R1", "V2")
	dup.ID = "R1-V1"
	_, err = r.CreateConnection(ctx, dup)
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	got, err := r.GetConnection(ctx, "R1-V1")
	require.NoError(t, err)
	assert.Equal(t, "V1", got.To)
}

func TestDeleteConnection(t *testing.T) {
	r, cleanup := setupRegistry(t)
	defer cleanup()
	ctx := context.Background()

	mustCreate(t, r, testutil.Router("R1"), testutil.Router("R2"))
	conn, err := r.CreateConnection(ctx, domain.Connection{From: "R1", To: "R2", FromRouterIP: "10.9.0.1", ToRouterIP: "10.9.0.2"})
	require.NoError(t, err)

	require.NoError(t, r.DeleteConnection(ctx, conn.ID))

	r1, err := r.GetDevice(ctx, "R1")
	require.NoError(t, err)
	assert.Empty(t, r1.InterfaceIPs)
	r2, err := r.GetDevice(ctx, "R2")
	require.NoError(t, err)
	assert.Empty(t, r2.InterfaceIPs)

	assert.ErrorIs(t, r.DeleteConnection(ctx, conn.ID), repository.ErrNotFound)

	// The pair can be linked again
	_, err = r.CreateConnection(ctx, domain.Connection{From: "R2", To: "R1"})
	require.NoError(t, err)
}

func TestDeleteDevice_Cascades(t *testing.T) {
	r, cleanup := setupRegistry(t)
	defer cleanup()
	ctx := context.Background()

	mustCreate(t, r, testutil.Router("R1"), testutil.VM("V1", ""), testutil.VM("V2", ""))
	_, err := r.CreateConnection(ctx, domain.Connection{From: "R1", To: "V1", FromRouterIP: "10.1.1.1"})
	require.NoError(t, err)
	_, err = r.CreateConnection(ctx, domain.Connection{From: "R1", To: "V2", FromRouterIP: "10.1.2.1"})
	require.NoError(t, err)

	require.NoError(t, r.DeleteDevice(ctx, "V1"))

	devices, conns, err := r.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	require.Len(t, conns, 1)
	assert.Equal(t, "V2", conns[0].To)

	router, err := r.GetDevice(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"to_V2": "10.1.2.1"}, router.InterfaceIPs)

	assert.ErrorIs(t, r.DeleteDevice(ctx, "V1"), repository.ErrNotFound)
	_, err = r.GetDevice(ctx, "V1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSnapshot_Empty(t *testing.T) {
	r, cleanup := setupRegistry(t)
	defer cleanup()

	devices, conns, err := r.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, devices)
	assert.Empty(t, conns)
}

func TestRegistry_Metrics(t *testing.T) {
	db, cleanup := testutil.SetupTestDBWithMigrations(t, t.Name())
	defer cleanup()

	collector, err := observability.NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)
	r := NewFromDB(db, collector)
	ctx := context.Background()

	mustCreate(t, r, testutil.Router("R1"), testutil.VM("V1", ""))
	_, err = r.CreateConnection(ctx, testutil.Link("R1", "V1"))
	require.NoError(t, err)

	assert.Equal(t, 2.0, promtestutil.ToFloat64(collector.RegistryDevices))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(collector.RegistryConnections))

	require.NoError(t, r.DeleteDevice(ctx, "V1"))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(collector.RegistryDevices))
	assert.Equal(t, 0.0, promtestutil.ToFloat64(collector.RegistryConnections))
}

func TestRegistry_ConcurrentCreateAndSnapshot(t *testing.T) {
	r, cleanup := setupRegistry(t)
	defer cleanup()
	ctx := context.Background()

	mustCreate(t, r, testutil.Router("R1"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("V%d", i)
			if _, err := r.CreateDevice(ctx, testutil.VM(id, "")); err != nil {
				t.Errorf("create %s: %v", id, err)
				return
			}
			if _, err := r.CreateConnection(ctx, testutil.Link("R1", id)); err != nil {
				t.Errorf("connect %s: %v", id, err)
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			devices, conns, err := r.Snapshot(ctx)
			if err != nil {
				t.Errorf("snapshot: %v", err)
				return
			}
			// Every connection in a snapshot references devices in it
			ids := map[string]bool{}
			for _, d := range devices {
				ids[d.ID] = true
			}
			for _, c := range conns {
				if !ids[c.From] || !ids[c.To] {
					t.Errorf("connection %s references missing device", c.ID)
				}
			}
		}()
	}
	wg.Wait()

	devices, conns, err := r.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, devices, 9)
	assert.Len(t, conns, 8)
}
