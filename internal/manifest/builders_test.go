package manifest

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/homelab/topo/internal/domain"
	"github.com/jbweber/homelab/topo/internal/testutil"
	"github.com/jbweber/homelab/topo/internal/topology"
)

func TestClaim(t *testing.T) {
	vm := testutil.VM("Web1", "")
	vm.Storage = "20GB"

	pvc := Claim(vm, Settings{Namespace: "lab", StorageClass: "fast", ImageURL: "http://images/debian.qcow2"})

	assert.Equal(t, "PersistentVolumeClaim", pvc.Kind)
	assert.Equal(t, "web1-disk", pvc.Metadata.Name)
	assert.Equal(t, "lab", pvc.Metadata.Namespace)
	assert.Equal(t, "web1", pvc.Metadata.Labels[LabelDevice])
	assert.Equal(t, "topo", pvc.Metadata.Labels[LabelManagedBy])
	assert.Equal(t, "http://images/debian.qcow2", pvc.Metadata.Annotations[AnnotationImportURL])
	assert.Equal(t, "fast", pvc.Spec.StorageClassName)
	assert.Equal(t, []string{"ReadWriteOnce"}, pvc.Spec.AccessModes)
	assert.Equal(t, "20Gi", pvc.Spec.Resources.Requests["storage"])

	// Claim names never depend on the generation
	assert.Equal(t, pvc.Metadata.Name, Claim(vm, Settings{Generation: "abc"}).Metadata.Name)
	assert.Nil(t, Claim(vm, Settings{}).Metadata.Annotations)
}

func TestAttachment(t *testing.T) {
	seg := &topology.Segment{
		Name:        "net1",
		Subnet:      "10.5.5.0/24",
		NetworkBase: "10.5.5",
		Devices:     []string{"R1", "V1"},
		Bandwidth:   "1Gbps",
	}

	nad, err := Attachment(seg, "br5", Settings{Namespace: "lab"})
	require.NoError(t, err)

	assert.Equal(t, "k8s.cni.cncf.io/v1", nad.APIVersion)
	assert.Equal(t, "NetworkAttachmentDefinition", nad.Kind)
	assert.Equal(t, "net1", nad.Metadata.Name)
	assert.Equal(t, "10.5.5.0/24", nad.Metadata.Annotations[AnnotationSubnet])
	assert.Equal(t, "1Gbps", nad.Metadata.Annotations[AnnotationBandwidth])

	var cfg BridgeConfig
	require.NoError(t, json.Unmarshal([]byte(nad.Spec.Config), &cfg))
	assert.Equal(t, "bridge", cfg.Type)
	assert.Equal(t, "br5", cfg.Bridge)
	assert.Equal(t, "net1", cfg.Name)
	assert.Equal(t, "whereabouts", cfg.IPAM.Type)
	assert.Equal(t, "10.5.5.0/24", cfg.IPAM.Range)
	assert.Equal(t, []string{"10.5.5.0/28"}, cfg.IPAM.Exclude)
}

func TestMachine(t *testing.T) {
	vm := domain.Device{ID: "V1", Type: domain.DeviceTypeVM, CPU: "4 cores", Memory: "4GB"}
	as := []topology.Assignment{
		{Network: "net1", IP: "192.168.1.10", Subnet: "192.168.1.0/24", Gateway: "192.168.1.1", InterfaceName: "eth1", Index: 0},
		{Network: "net3", IP: "192.168.3.11", Subnet: "192.168.3.0/24", Gateway: "192.168.3.1", InterfaceName: "eth2", Index: 1},
	}

	machine, abbreviated, err := Machine(vm, as, Settings{Namespace: "lab", Generation: "gen1", Password: "pw"})
	require.NoError(t, err)
	assert.False(t, abbreviated)

	assert.Equal(t, "kubevirt.io/v1", machine.APIVersion)
	assert.Equal(t, "VirtualMachine", machine.Kind)
	assert.Equal(t, "v1-gen1", machine.Metadata.Name)
	assert.Equal(t, "gen1", machine.Metadata.Labels[LabelGeneration])
	assert.Equal(t, "vm", machine.Metadata.Labels[LabelDeviceType])
	assert.Equal(t, "Always", machine.Spec.RunStrategy)

	spec := machine.Spec.Template.Spec
	assert.Equal(t, 4, spec.Domain.CPU.Cores)
	assert.Equal(t, "4G", spec.Domain.Resources.Requests["memory"])

	ifaces := spec.Domain.Devices.Interfaces
	require.Len(t, ifaces, 3)
	assert.Equal(t, "default", ifaces[0].Name)
	assert.NotNil(t, ifaces[0].Masquerade)
	assert.Equal(t, MACAddress("V1", 0), ifaces[0].MACAddress)
	assert.Equal(t, "net3", ifaces[2].Name)
	assert.NotNil(t, ifaces[2].Bridge)
	assert.Equal(t, MACAddress("V1", 2), ifaces[2].MACAddress)

	require.Len(t, spec.Networks, 3)
	assert.NotNil(t, spec.Networks[0].Pod)
	assert.Equal(t, "lab/net1", spec.Networks[1].Multus.NetworkName)

	require.Len(t, spec.Volumes, 2)
	assert.Equal(t, "v1-disk", spec.Volumes[0].PersistentVolumeClaim.ClaimName)
	userData := spec.Volumes[1].CloudInitNoCloud.UserData
	assert.True(t, strings.HasPrefix(userData, "#cloud-config"))
	assert.Contains(t, userData, "ip addr add 192.168.3.11/24 dev eth2")
}

func TestMachine_Defaults(t *testing.T) {
	machine, _, err := Machine(testutil.Router("R1"), nil, Settings{})
	require.NoError(t, err)

	assert.Equal(t, "r1", machine.Metadata.Name)
	assert.Empty(t, machine.Metadata.Namespace)
	assert.Equal(t, 2, machine.Spec.Template.Spec.Domain.CPU.Cores)
	assert.Equal(t, "2G", machine.Spec.Template.Spec.Domain.Resources.Requests["memory"])
	assert.Len(t, machine.Spec.Template.Spec.Domain.Devices.Interfaces, 1)
	assert.Len(t, machine.Spec.Template.Spec.Networks, 1)
}

func TestBridges(t *testing.T) {
	topo := &topology.Topology{
		Segments: map[string]*topology.Segment{
			"net1": {Name: "net1", Subnet: "192.168.1.0/24"},
			"net2": {Name: "net2", Subnet: "10.0.1.0/24"},
		},
		Order: []string{"net1", "net2"},
	}

	assert.Equal(t, map[string]string{"net1": "br1", "net2": "br1s2"}, Bridges(topo))
}

func TestRender(t *testing.T) {
	vm := testutil.VM("V1", "")
	machine, _, err := Machine(vm, nil, Settings{})
	require.NoError(t, err)

	out, err := RenderString(Claim(vm, Settings{}), machine)
	require.NoError(t, err)

	assert.Contains(t, out, "\n---\n")
	assert.Contains(t, out, "masquerade: {}")
	assert.Contains(t, out, "userData: |")

	decoder := yaml.NewDecoder(strings.NewReader(out))
	var kinds []string
	for {
		var doc map[string]any
		err := decoder.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		kinds = append(kinds, doc["kind"].(string))
	}
	assert.Equal(t, []string{"PersistentVolumeClaim", "VirtualMachine"}, kinds)
}

func TestRender_Empty(t *testing.T) {
	out, err := RenderString()
	require.NoError(t, err)
	assert.Empty(t, out)
}
