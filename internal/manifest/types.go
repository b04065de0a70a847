package manifest

// Empty renders as an empty mapping ({}), which KubeVirt uses to select
// interface bindings and network sources.
type Empty struct{}

// ObjectMeta is the subset of Kubernetes object metadata emitted by topo.
type ObjectMeta struct {
	Name        string            `yaml:"name,omitempty"`
	Namespace   string            `yaml:"namespace,omitempty"`
	Labels      map[string]string `yaml:"labels,omitempty"`
	Annotations map[string]string `yaml:"annotations,omitempty"`
}

// ResourceList maps a resource name to a quantity string.
type ResourceList map[string]string

// ResourceRequirements holds resource requests.
type ResourceRequirements struct {
	Requests ResourceList `yaml:"requests"`
}

// PersistentVolumeClaim is the root disk claim of a device.
type PersistentVolumeClaim struct {
	APIVersion string     `yaml:"apiVersion"`
	Kind       string     `yaml:"kind"`
	Metadata   ObjectMeta `yaml:"metadata"`
	Spec       PVCSpec    `yaml:"spec"`
}

type PVCSpec struct {
	AccessModes      []string             `yaml:"accessModes"`
	StorageClassName string               `yaml:"storageClassName,omitempty"`
	VolumeMode       string               `yaml:"volumeMode,omitempty"`
	Resources        ResourceRequirements `yaml:"resources"`
}

// NetworkAttachmentDefinition is the Multus object describing one segment.
type NetworkAttachmentDefinition struct {
	APIVersion string     `yaml:"apiVersion"`
	Kind       string     `yaml:"kind"`
	Metadata   ObjectMeta `yaml:"metadata"`
	Spec       NADSpec    `yaml:"spec"`
}

type NADSpec struct {
	// Config is the CNI configuration as a JSON string.
	Config string `yaml:"config"`
}

// BridgeConfig is the bridge CNI plugin configuration.
type BridgeConfig struct {
	CNIVersion string     `json:"cniVersion"`
	Name       string     `json:"name"`
	Type       string     `json:"type"`
	Bridge     string     `json:"bridge"`
	IsGateway  bool       `json:"isGateway"`
	IPAM       IPAMConfig `json:"ipam"`
}

// IPAMConfig configures the whereabouts IPAM plugin.
type IPAMConfig struct {
	Type    string   `json:"type"`
	Range   string   `json:"range"`
	Exclude []string `json:"exclude,omitempty"`
}

// VirtualMachine is a KubeVirt virtual machine.
type VirtualMachine struct {
	APIVersion string     `yaml:"apiVersion"`
	Kind       string     `yaml:"kind"`
	Metadata   ObjectMeta `yaml:"metadata"`
	Spec       VMSpec     `yaml:"spec"`
}

type VMSpec struct {
	RunStrategy string     `yaml:"runStrategy"`
	Template    VMTemplate `yaml:"template"`
}

type VMTemplate struct {
	Metadata ObjectMeta `yaml:"metadata"`
	Spec     VMISpec    `yaml:"spec"`
}

type VMISpec struct {
	Domain   DomainSpec `yaml:"domain"`
	Networks []Network  `yaml:"networks"`
	Volumes  []Volume   `yaml:"volumes"`
}

type DomainSpec struct {
	CPU       CPU                  `yaml:"cpu"`
	Resources ResourceRequirements `yaml:"resources"`
	Devices   Devices              `yaml:"devices"`
}

type CPU struct {
	Cores int `yaml:"cores"`
}

type Devices struct {
	Disks      []Disk      `yaml:"disks"`
	Interfaces []Interface `yaml:"interfaces"`
}

type Disk struct {
	Name string     `yaml:"name"`
	Disk DiskTarget `yaml:"disk"`
}

type DiskTarget struct {
	Bus string `yaml:"bus"`
}

type Interface struct {
	Name       string `yaml:"name"`
	Masquerade *Empty `yaml:"masquerade,omitempty"`
	Bridge     *Empty `yaml:"bridge,omitempty"`
	MACAddress string `yaml:"macAddress,omitempty"`
}

type Network struct {
	Name   string  `yaml:"name"`
	Pod    *Empty  `yaml:"pod,omitempty"`
	Multus *Multus `yaml:"multus,omitempty"`
}

type Multus struct {
	NetworkName string `yaml:"networkName"`
}

type Volume struct {
	Name                  string                  `yaml:"name"`
	PersistentVolumeClaim *PVCVolumeSource        `yaml:"persistentVolumeClaim,omitempty"`
	CloudInitNoCloud      *CloudInitNoCloudSource `yaml:"cloudInitNoCloud,omitempty"`
}

type PVCVolumeSource struct {
	ClaimName string `yaml:"claimName"`
}

type CloudInitNoCloudSource struct {
	UserData string `yaml:"userData"`
}

// CloudConfig is the #cloud-config user-data document.
type CloudConfig struct {
	Hostname  string   `yaml:"hostname,omitempty"`
	Password  string   `yaml:"password"`
	Chpasswd  Chpasswd `yaml:"chpasswd"`
	SSHPwauth bool     `yaml:"ssh_pwauth"`
	Runcmd    []string `yaml:"runcmd,omitempty"`
}

type Chpasswd struct {
	Expire bool `yaml:"expire"`
}
