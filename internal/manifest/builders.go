// Package manifest builds the KubeVirt, Multus and cloud-init documents for
// a compiled topology and serializes them as multi-document YAML.
package manifest

import (
	"encoding/json"
	"fmt"

	"github.com/jbweber/homelab/topo/internal/domain"
	"github.com/jbweber/homelab/topo/internal/topology"
)

const (
	LabelManagedBy  = "app.kubernetes.io/managed-by"
	LabelDevice     = "topo.homelab/device"
	LabelDeviceType = "topo.homelab/type"
	LabelGeneration = "topo.homelab/generation"
	LabelSegment    = "topo.homelab/segment"

	AnnotationSubnet    = "topo.homelab/subnet"
	AnnotationBandwidth = "topo.homelab/bandwidth"
	AnnotationImportURL = "cdi.kubevirt.io/storage.import.endpoint"

	managedBy           = "topo"
	cniVersion          = "0.3.1"
	infrastructureRange = ".0/28"
	managementNetwork   = "default"
	rootDisk            = "rootdisk"
	cloudInitDisk       = "cloudinitdisk"
)

// Settings are the deployment level inputs shared by every builder.
type Settings struct {
	Namespace     string
	StorageClass  string
	ImageURL      string
	Password      string
	Generation    string
	UserDataLimit int
}

func (s Settings) meta(name string, labels map[string]string) ObjectMeta {
	if labels == nil {
		labels = map[string]string{}
	}
	labels[LabelManagedBy] = managedBy
	return ObjectMeta{Name: name, Namespace: s.Namespace, Labels: labels}
}

// Claim builds the root disk claim of a device.
func Claim(d domain.Device, s Settings) PersistentVolumeClaim {
	meta := s.meta(ClaimName(d.ID), map[string]string{LabelDevice: DNSName(d.ID)})
	if s.ImageURL != "" {
		meta.Annotations = map[string]string{AnnotationImportURL: s.ImageURL}
	}

	return PersistentVolumeClaim{
		APIVersion: "v1",
		Kind:       "PersistentVolumeClaim",
		Metadata:   meta,
		Spec: PVCSpec{
			AccessModes:      []string{"ReadWriteOnce"},
			StorageClassName: s.StorageClass,
			Resources: ResourceRequirements{
				Requests: ResourceList{"storage": NormalizeStorage(d.Storage)},
			},
		},
	}
}

// Attachment builds the bridge attachment of a segment. Addresses inside the
// first /28 of the subnet are excluded from pod IPAM because routers and
// statically addressed guests live there.
func Attachment(seg *topology.Segment, bridge string, s Settings) (NetworkAttachmentDefinition, error) {
	cfg := BridgeConfig{
		CNIVersion: cniVersion,
		Name:       seg.Name,
		Type:       "bridge",
		Bridge:     bridge,
		IPAM: IPAMConfig{
			Type:    "whereabouts",
			Range:   seg.Subnet,
			Exclude: []string{seg.NetworkBase + infrastructureRange},
		},
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return NetworkAttachmentDefinition{}, fmt.Errorf("failed to encode CNI config for %s: %w", seg.Name, err)
	}

	meta := s.meta(seg.Name, map[string]string{LabelSegment: seg.Name})
	meta.Annotations = map[string]string{AnnotationSubnet: seg.Subnet}
	if seg.Bandwidth != "" {
		meta.Annotations[AnnotationBandwidth] = seg.Bandwidth
	}

	return NetworkAttachmentDefinition{
		APIVersion: "k8s.cni.cncf.io/v1",
		Kind:       "NetworkAttachmentDefinition",
		Metadata:   meta,
		Spec:       NADSpec{Config: string(raw)},
	}, nil
}

// Machine builds the virtual machine of a device with one bridge interface
// per assignment. The second result reports whether the abbreviated
// first-boot script had to be used.
func Machine(d domain.Device, assignments []topology.Assignment, s Settings) (VirtualMachine, bool, error) {
	userData, abbreviated, err := UserData(d, assignments, s.Password, s.UserDataLimit)
	if err != nil {
		return VirtualMachine{}, false, err
	}

	interfaces := []Interface{{
		Name:       managementNetwork,
		Masquerade: &Empty{},
		MACAddress: MACAddress(d.ID, 0),
	}}
	networks := []Network{{Name: managementNetwork, Pod: &Empty{}}}
	for _, a := range assignments {
		interfaces = append(interfaces, Interface{
			Name:       a.Network,
			Bridge:     &Empty{},
			MACAddress: MACAddress(d.ID, a.Index+1),
		})
		networks = append(networks, Network{
			Name:   a.Network,
			Multus: &Multus{NetworkName: s.networkName(a.Network)},
		})
	}

	labels := map[string]string{
		LabelDevice:     DNSName(d.ID),
		LabelDeviceType: string(d.Type),
	}
	meta := s.meta(MachineName(d.ID, s.Generation), labels)
	if s.Generation != "" {
		meta.Labels[LabelGeneration] = s.Generation
	}

	return VirtualMachine{
		APIVersion: "kubevirt.io/v1",
		Kind:       "VirtualMachine",
		Metadata:   meta,
		Spec: VMSpec{
			RunStrategy: "Always",
			Template: VMTemplate{
				Metadata: ObjectMeta{Labels: map[string]string{LabelDevice: DNSName(d.ID)}},
				Spec: VMISpec{
					Domain: DomainSpec{
						CPU: CPU{Cores: ParseCores(d.CPU, d.Type)},
						Resources: ResourceRequirements{
							Requests: ResourceList{"memory": NormalizeMemory(d.Memory, d.Type)},
						},
						Devices: Devices{
							Disks: []Disk{
								{Name: rootDisk, Disk: DiskTarget{Bus: "virtio"}},
								{Name: cloudInitDisk, Disk: DiskTarget{Bus: "virtio"}},
							},
							Interfaces: interfaces,
						},
					},
					Networks: networks,
					Volumes: []Volume{
						{Name: rootDisk, PersistentVolumeClaim: &PVCVolumeSource{ClaimName: ClaimName(d.ID)}},
						{Name: cloudInitDisk, CloudInitNoCloud: &CloudInitNoCloudSource{UserData: userData}},
					},
				},
			},
		},
	}, abbreviated, nil
}

func (s Settings) networkName(segment string) string {
	if s.Namespace == "" {
		return segment
	}
	return s.Namespace + "/" + segment
}

// Bridges assigns a bridge name to every segment in topology order.
func Bridges(topo *topology.Topology) map[string]string {
	used := make(map[string]bool, len(topo.Order))
	bridges := make(map[string]string, len(topo.Order))
	for _, name := range topo.Order {
		bridges[name] = BridgeName(topo.Segments[name].Subnet, used)
	}
	return bridges
}
